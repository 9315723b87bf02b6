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

// Package snmp implements the neighbor reader: one poll of a switch's
// LLDP remote table, returning the advertised neighbor per local port.
package snmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/cablesync/cablesync/pkg/logger"
	"github.com/cablesync/cablesync/pkg/models"
)

const (
	// Extended interface table (ifXTable)
	oidIfName = ".1.3.6.1.2.1.31.1.1.1.1"

	// LLDP remote table (lldpRemTable)
	oidLLDPRemTable = ".1.0.8802.1.1.2.1.4.1.1"

	// lldpRemTable column suffixes
	lldpColChassisID = "5"
	lldpColPortID    = "7"
	lldpColPortDescr = "8"
	lldpColSysName   = "9"

	// lldpRemEntry OIDs are indexed by timeMark.localPortNum.index,
	// so a column OID carries at least eleven dot-separated parts.
	lldpMinOIDParts = 11
)

// Reader performs one independent neighbor-discovery poll of a device.
type Reader interface {
	Poll(ctx context.Context, device models.Device, round int) (*models.DeviceSnapshot, error)
}

// Options holds the per-session SNMP parameters.
type Options struct {
	Credentials models.SNMPCredentials
	Port        uint16
	Timeout     time.Duration
	Retries     int
}

// NeighborReader reads LLDP neighbor tables via gosnmp.
type NeighborReader struct {
	opts Options
	log  logger.Logger
}

func NewNeighborReader(opts Options, log logger.Logger) *NeighborReader {
	return &NeighborReader{opts: opts, log: log.WithComponent("snmp")}
}

// Poll queries the device once and returns its neighbor snapshot.
// The query is bounded by timeout x retries; failures classify as
// ErrTimeout or ErrUnreachable and carry no partial results.
func (r *NeighborReader) Poll(ctx context.Context, device models.Device, round int) (*models.DeviceSnapshot, error) {
	if device.IP == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoManagementIP, device.Name)
	}

	client, err := r.newClient(device.IP)
	if err != nil {
		return nil, err
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, device.Name, err)
	}

	defer func() {
		if cerr := client.Conn.Close(); cerr != nil {
			r.log.Debug().Err(cerr).Str("device", device.Name).Msg("failed to close SNMP connection")
		}
	}()

	names, err := r.walkIfNames(ctx, client)
	if err != nil {
		return nil, classify(err, device.Name)
	}

	neighbors, err := r.walkLLDPRemTable(ctx, client, names)
	if err != nil {
		return nil, classify(err, device.Name)
	}

	snapshot := &models.DeviceSnapshot{
		Device:     device.Name,
		Round:      round,
		TakenAt:    time.Now().UTC(),
		Interfaces: sortedNames(names),
		Neighbors:  neighbors,
	}

	r.log.Debug().
		Str("device", device.Name).
		Int("round", round).
		Int("interfaces", len(snapshot.Interfaces)).
		Int("neighbors", len(snapshot.Neighbors)).
		Msg("neighbor poll complete")

	return snapshot, nil
}

func (r *NeighborReader) newClient(target string) (*gosnmp.GoSNMP, error) {
	client := &gosnmp.GoSNMP{
		Target:             target,
		Port:               r.opts.Port,
		Timeout:            r.opts.Timeout,
		Retries:            r.opts.Retries,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     10,
		ExponentialTimeout: true,
	}

	if err := configureClientVersion(client, &r.opts.Credentials); err != nil {
		return nil, err
	}

	return client, nil
}

func configureClientVersion(client *gosnmp.GoSNMP, credentials *models.SNMPCredentials) error {
	switch credentials.Version {
	case models.SNMPVersion1:
		client.Version = gosnmp.Version1
		client.Community = credentials.Community
	case models.SNMPVersion2c:
		client.Version = gosnmp.Version2c
		client.Community = credentials.Community
	case models.SNMPVersion3:
		client.Version = gosnmp.Version3

		usm := &gosnmp.UsmSecurityParameters{
			UserName: credentials.Username,
		}

		configureV3Authentication(usm, credentials)
		configureV3Privacy(usm, credentials)

		client.SecurityParameters = usm
		client.MsgFlags = gosnmp.AuthPriv
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedSNMPVersion, credentials.Version)
	}

	return nil
}

func configureV3Authentication(usm *gosnmp.UsmSecurityParameters, credentials *models.SNMPCredentials) {
	switch strings.ToUpper(credentials.AuthProtocol) {
	case "MD5":
		usm.AuthenticationProtocol = gosnmp.MD5
		usm.AuthenticationPassphrase = credentials.AuthPassword
	case "SHA":
		usm.AuthenticationProtocol = gosnmp.SHA
		usm.AuthenticationPassphrase = credentials.AuthPassword
	case "SHA256":
		usm.AuthenticationProtocol = gosnmp.SHA256
		usm.AuthenticationPassphrase = credentials.AuthPassword
	case "SHA512":
		usm.AuthenticationProtocol = gosnmp.SHA512
		usm.AuthenticationPassphrase = credentials.AuthPassword
	}
}

func configureV3Privacy(usm *gosnmp.UsmSecurityParameters, credentials *models.SNMPCredentials) {
	switch strings.ToUpper(credentials.PrivacyProtocol) {
	case "DES":
		usm.PrivacyProtocol = gosnmp.DES
		usm.PrivacyPassphrase = credentials.PrivacyPassword
	case "AES":
		usm.PrivacyProtocol = gosnmp.AES
		usm.PrivacyPassphrase = credentials.PrivacyPassword
	case "AES256":
		usm.PrivacyProtocol = gosnmp.AES256
		usm.PrivacyPassphrase = credentials.PrivacyPassword
	}
}

// walkIfNames walks ifName and returns the ifIndex to name mapping.
func (r *NeighborReader) walkIfNames(ctx context.Context, client *gosnmp.GoSNMP) (map[int]string, error) {
	names := make(map[int]string)

	err := r.walk(ctx, client, oidIfName, func(pdu gosnmp.SnmpPDU) error {
		parts := strings.Split(pdu.Name, ".")

		ifIndex, perr := strconv.Atoi(parts[len(parts)-1])
		if perr != nil {
			return nil
		}

		if pdu.Type == gosnmp.OctetString {
			names[ifIndex] = string(pdu.Value.([]byte))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return names, nil
}

// walkLLDPRemTable walks the LLDP remote table and folds the column PDUs
// into one Neighbor per local port.
func (r *NeighborReader) walkLLDPRemTable(
	ctx context.Context, client *gosnmp.GoSNMP, names map[int]string) (map[string]models.Neighbor, error) {
	// Key is "timeMark.localPort.index" so multiple column PDUs for the
	// same remote entry land on the same neighbor.
	entries := make(map[string]*lldpEntry)

	err := r.walk(ctx, client, oidLLDPRemTable, func(pdu gosnmp.SnmpPDU) error {
		processLLDPRemotePDU(pdu, entries)
		return nil
	})
	if err != nil {
		return nil, err
	}

	neighbors := make(map[string]models.Neighbor, len(entries))

	for _, entry := range entries {
		if !entry.valid() {
			continue
		}

		name, ok := names[entry.localPort]
		if !ok {
			name = fmt.Sprintf("port%d", entry.localPort)
		}

		neighbors[name] = entry.neighbor
	}

	return neighbors, nil
}

type lldpEntry struct {
	localPort int
	neighbor  models.Neighbor
}

func (e *lldpEntry) valid() bool {
	n := e.neighbor
	return n.SysName != "" || n.ChassisID != "" || n.PortID != ""
}

// processLLDPRemotePDU dispatches a single lldpRemTable PDU onto its entry.
// OID format: .1.0.8802.1.1.2.1.4.1.1.<column>.<timeMark>.<localPort>.<index>
func processLLDPRemotePDU(pdu gosnmp.SnmpPDU, entries map[string]*lldpEntry) {
	parts := strings.Split(pdu.Name, ".")
	if len(parts) < lldpMinOIDParts {
		return
	}

	timeMark := parts[len(parts)-3]
	localPort := parts[len(parts)-2]
	index := parts[len(parts)-1]
	column := parts[len(parts)-4]

	key := fmt.Sprintf("%s.%s.%s", timeMark, localPort, index)

	entry, exists := entries[key]
	if !exists {
		portIdx, _ := strconv.Atoi(localPort)
		entry = &lldpEntry{localPort: portIdx}
		entries[key] = entry
	}

	if pdu.Type != gosnmp.OctetString {
		return
	}

	value := pdu.Value.([]byte)

	switch column {
	case lldpColChassisID:
		entry.neighbor.ChassisID = formatLLDPID(value)
	case lldpColPortID:
		entry.neighbor.PortID = formatLLDPID(value)
	case lldpColPortDescr:
		entry.neighbor.PortDescr = string(value)
	case lldpColSysName:
		entry.neighbor.SysName = string(value)
	}
}

// walk runs a GETNEXT walk for v1 sessions and a GETBULK walk otherwise,
// checking for context cancellation between PDUs.
func (r *NeighborReader) walk(
	ctx context.Context, client *gosnmp.GoSNMP, oid string, fn gosnmp.WalkFunc) error {
	wrapped := func(pdu gosnmp.SnmpPDU) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		return fn(pdu)
	}

	if client.Version == gosnmp.Version1 {
		return client.Walk(oid, wrapped)
	}

	return client.BulkWalk(oid, wrapped)
}

// classify maps transport errors onto the reader's error taxonomy.
func classify(err error, device string) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) ||
		strings.Contains(err.Error(), "timeout") {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, device, err)
	}

	return fmt.Errorf("%w: %s: %w", ErrUnreachable, device, err)
}

func sortedNames(names map[int]string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}
