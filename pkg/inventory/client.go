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

// Package inventory implements the NetBox-compatible DCIM API client used
// to query devices and reconcile cable records.
package inventory

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cablesync/cablesync/pkg/logger"
	"github.com/cablesync/cablesync/pkg/models"
)

var (
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	ErrUnreachable          = errors.New("inventory API unreachable")
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPClient talks to a NetBox-compatible REST API with token auth.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	log     logger.Logger
}

// NewHTTPClient builds a client for the given base URL. TLS verification
// is skipped only when verifyTLS is false.
func NewHTTPClient(baseURL, token string, verifyTLS bool, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !verifyTLS, //nolint:gosec // operator-controlled toggle
				},
			},
		},
		log: log.WithComponent("inventory"),
	}
}

// Ping verifies connectivity and authentication against the API root.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/api/", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}

	return nil
}

// DevicesByRole lists devices, optionally filtered by role slug.
func (c *HTTPClient) DevicesByRole(ctx context.Context, role string) ([]models.Device, error) {
	params := url.Values{}
	if role != "" {
		params.Set("role", role)
	}

	records, err := getAll[deviceRecord](ctx, c, "/api/dcim/devices/", params)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	devices := make([]models.Device, 0, len(records))

	for _, rec := range records {
		ip := rec.PrimaryIP.Address
		if idx := strings.IndexByte(ip, '/'); idx >= 0 {
			ip = ip[:idx]
		}

		devices = append(devices, models.Device{
			ID:   rec.ID,
			Name: rec.Name,
			IP:   ip,
			Site: rec.Site.Slug,
			Role: rec.Role.Slug,
		})
	}

	return devices, nil
}

// InterfacesByDevice lists a device's interfaces and reconstructs the
// cable records attached to them from the link peer data.
func (c *HTTPClient) InterfacesByDevice(ctx context.Context, deviceID int64) ([]models.Interface, []models.CableRecord, error) {
	params := url.Values{}
	params.Set("device_id", fmt.Sprintf("%d", deviceID))

	records, err := getAll[interfaceRecord](ctx, c, "/api/dcim/interfaces/", params)
	if err != nil {
		return nil, nil, fmt.Errorf("list interfaces for device %d: %w", deviceID, err)
	}

	ifaces := make([]models.Interface, 0, len(records))

	var cables []models.CableRecord

	for _, rec := range records {
		iface := models.Interface{
			ID:         rec.ID,
			DeviceID:   rec.Device.ID,
			DeviceName: rec.Device.Name,
			Name:       rec.Name,
		}

		if rec.Cable != nil {
			iface.CableID = rec.Cable.ID

			if len(rec.LinkPeers) > 0 {
				peer := rec.LinkPeers[0]
				cables = append(cables, models.CableRecord{
					ID:  rec.Cable.ID,
					A:   models.Endpoint{Device: rec.Device.Name, Interface: rec.Name},
					B:   models.Endpoint{Device: peer.Device.Name, Interface: peer.Name},
					AID: rec.ID,
					BID: peer.ID,
				})
			}
		}

		ifaces = append(ifaces, iface)
	}

	return ifaces, cables, nil
}

// CreateCable creates a cable between two interfaces.
func (c *HTTPClient) CreateCable(ctx context.Context, aID, bID int64, status, description string) (*models.CableRecord, error) {
	payload := cablePayload{
		ATerminations: []termination{{ObjectType: "dcim.interface", ObjectID: aID}},
		BTerminations: []termination{{ObjectType: "dcim.interface", ObjectID: bID}},
		Status:        status,
		Description:   description,
	}

	var created cableRecord

	if err := c.do(ctx, http.MethodPost, "/api/dcim/cables/", payload, http.StatusCreated, &created); err != nil {
		return nil, fmt.Errorf("create cable %d<->%d: %w", aID, bID, err)
	}

	c.log.Info().Int64("cable_id", created.ID).Int64("a", aID).Int64("b", bID).Msg("cable created")

	return &models.CableRecord{
		ID:          created.ID,
		AID:         aID,
		BID:         bID,
		Status:      created.Status.Value,
		Description: created.Description,
	}, nil
}

// UpdateCable repoints an existing cable at new endpoints.
func (c *HTTPClient) UpdateCable(ctx context.Context, cableID, aID, bID int64, status string) error {
	payload := cablePayload{
		ATerminations: []termination{{ObjectType: "dcim.interface", ObjectID: aID}},
		BTerminations: []termination{{ObjectType: "dcim.interface", ObjectID: bID}},
		Status:        status,
	}

	path := fmt.Sprintf("/api/dcim/cables/%d/", cableID)

	if err := c.do(ctx, http.MethodPatch, path, payload, http.StatusOK, nil); err != nil {
		return fmt.Errorf("update cable %d: %w", cableID, err)
	}

	c.log.Info().Int64("cable_id", cableID).Int64("a", aID).Int64("b", bID).Msg("cable updated")

	return nil
}

// DeleteCable removes a cable record.
func (c *HTTPClient) DeleteCable(ctx context.Context, cableID int64) error {
	path := fmt.Sprintf("/api/dcim/cables/%d/", cableID)

	if err := c.do(ctx, http.MethodDelete, path, nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("delete cable %d: %w", cableID, err)
	}

	c.log.Info().Int64("cable_id", cableID).Msg("cable deleted")

	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, rawURL string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// do executes a mutating request and decodes the response when out is set.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload any, wantStatus int, out any) error {
	var body []byte

	if payload != nil {
		var err error

		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	req, err := c.newRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}

	return nil
}

func (c *HTTPClient) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.log.Debug().Err(err).Msg("failed to close response body")
	}
}

// getAll follows the paginated "next" links until exhausted.
func getAll[T any](ctx context.Context, c *HTTPClient, path string, params url.Values) ([]T, error) {
	next := c.baseURL + path
	if len(params) > 0 {
		next += "?" + params.Encode()
	}

	var results []T

	for next != "" {
		req, err := c.newRequest(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			c.closeBody(resp)
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
		}

		var pg page[T]

		err = json.NewDecoder(resp.Body).Decode(&pg)
		c.closeBody(resp)

		if err != nil {
			return nil, err
		}

		results = append(results, pg.Results...)
		next = pg.Next
	}

	return results, nil
}
