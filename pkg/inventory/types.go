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

package inventory

import (
	"context"

	"github.com/cablesync/cablesync/pkg/models"
)

// Client is the inventory/DCIM API surface the engine consumes.
type Client interface {
	// Ping verifies the API is reachable and the credential is accepted.
	Ping(ctx context.Context) error

	// DevicesByRole lists devices filtered by role slug. An empty role
	// lists all devices.
	DevicesByRole(ctx context.Context, role string) ([]models.Device, error)

	// InterfacesByDevice lists a device's interfaces together with the
	// cable records attached to them.
	InterfacesByDevice(ctx context.Context, deviceID int64) ([]models.Interface, []models.CableRecord, error)

	// CreateCable creates a cable between two interface IDs.
	CreateCable(ctx context.Context, aID, bID int64, status, description string) (*models.CableRecord, error)

	// UpdateCable repoints an existing cable at new endpoints.
	UpdateCable(ctx context.Context, cableID, aID, bID int64, status string) error

	// DeleteCable removes a cable record.
	DeleteCable(ctx context.Context, cableID int64) error
}

// deviceRecord is a DCIM device as returned by the API.
type deviceRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role struct {
		Slug string `json:"slug"`
	} `json:"role"`
	Site struct {
		Slug string `json:"slug"`
	} `json:"site"`
	PrimaryIP struct {
		Address string `json:"address"`
	} `json:"primary_ip"`
}

// interfaceRecord is a DCIM interface as returned by the API.
type interfaceRecord struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Device struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"device"`
	Cable *struct {
		ID int64 `json:"id"`
	} `json:"cable"`
	LinkPeers []struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Device struct {
			Name string `json:"name"`
		} `json:"device"`
	} `json:"link_peers"`
}

// cableRecord is a DCIM cable as returned on creation.
type cableRecord struct {
	ID     int64 `json:"id"`
	Status struct {
		Value string `json:"value"`
	} `json:"status"`
	Description string `json:"description"`
}

// page is the envelope of a paginated list response.
type page[T any] struct {
	Count    int    `json:"count"`
	Next     string `json:"next"`
	Previous string `json:"previous"`
	Results  []T    `json:"results"`
}

// termination is one side of a cable create/update payload.
type termination struct {
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
}

type cablePayload struct {
	ATerminations []termination `json:"a_terminations"`
	BTerminations []termination `json:"b_terminations"`
	Status        string        `json:"status,omitempty"`
	Description   string        `json:"description,omitempty"`
}
