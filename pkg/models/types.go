/*
 * Copyright 2025 the CableSync authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package models holds the domain types shared across the discovery,
// diff and reconciliation packages.
package models

import (
	"fmt"
	"time"
)

// SNMPVersion represents the SNMP protocol version.
type SNMPVersion string

const (
	SNMPVersion1  SNMPVersion = "v1"
	SNMPVersion2c SNMPVersion = "v2c"
	SNMPVersion3  SNMPVersion = "v3"
)

// SNMPCredentials contains information needed to authenticate with SNMP devices.
type SNMPCredentials struct {
	Version         SNMPVersion
	Community       string
	Username        string
	AuthProtocol    string
	AuthPassword    string
	PrivacyProtocol string
	PrivacyPassword string
}

// Device is a switch known to the inventory system.
type Device struct {
	ID   int64
	Name string
	IP   string
	Site string
	Role string
}

// Interface is a switch port known to the inventory system.
type Interface struct {
	ID         int64
	DeviceID   int64
	DeviceName string
	Name       string
	CableID    int64 // 0 when no cable is attached
}

// Endpoint identifies one side of a link by device and interface name.
type Endpoint struct {
	Device    string
	Interface string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%s", e.Device, e.Interface)
}

// Less orders endpoints lexicographically by device, then interface.
func (e Endpoint) Less(other Endpoint) bool {
	if e.Device != other.Device {
		return e.Device < other.Device
	}

	return e.Interface < other.Interface
}

// Neighbor is the identity a device advertises for the far end of a port.
type Neighbor struct {
	SysName   string
	PortID    string
	PortDescr string
	ChassisID string
}

// Endpoint maps the advertised identity onto an inventory endpoint.
// The port description is the fallback when the port ID is not a name.
func (n Neighbor) Endpoint() Endpoint {
	iface := n.PortID
	if iface == "" {
		iface = n.PortDescr
	}

	return Endpoint{Device: n.SysName, Interface: iface}
}

// DeviceSnapshot is the result of one neighbor-discovery poll of a device.
// Interfaces lists every local port seen; Neighbors holds the advertised
// neighbor per port. A port present in Interfaces but absent from
// Neighbors observed no neighbor.
type DeviceSnapshot struct {
	Device     string
	Round      int
	TakenAt    time.Time
	Interfaces []string
	Neighbors  map[string]Neighbor
}

// NeighborObservation is a single immutable (port, neighbor) sample.
type NeighborObservation struct {
	Local      Endpoint
	Remote     *Neighbor
	Round      int
	ObservedAt time.Time
}

// Confidence classifies a stabilized link.
type Confidence string

const (
	// ConfidenceStable means every stability run agreed on the same remote endpoint.
	ConfidenceStable Confidence = "stable"
	// ConfidenceUnstable means the runs disagreed; the link is withheld this cycle.
	ConfidenceUnstable Confidence = "unstable"
	// ConfidenceAbsent means every run agreed there is no neighbor.
	ConfidenceAbsent Confidence = "absent"
)

// StabilizedLink is the per-interface verdict after all stability runs.
type StabilizedLink struct {
	Local      Endpoint
	Remote     *Endpoint // set only when Confidence is stable
	Confidence Confidence
	Rounds     int
}

// LinkKey is the canonical unordered key for a link between two endpoints.
type LinkKey struct {
	A Endpoint
	B Endpoint
}

// CanonicalKey folds both directions of a link into one key.
func CanonicalKey(a, b Endpoint) LinkKey {
	if b.Less(a) {
		a, b = b, a
	}

	return LinkKey{A: a, B: b}
}

func (k LinkKey) String() string {
	return fmt.Sprintf("%s<->%s", k.A, k.B)
}

// CableRecord is the inventory system's representation of a physical
// connection. It belongs to the inventory, not to this engine.
type CableRecord struct {
	ID          int64
	A           Endpoint
	B           Endpoint
	AID         int64 // inventory interface IDs
	BID         int64
	Status      string
	Description string
}

// Key returns the canonical link key for the cable's endpoints.
func (c CableRecord) Key() LinkKey {
	return CanonicalKey(c.A, c.B)
}
