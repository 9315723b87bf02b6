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

package snmp

import (
	"context"
	"errors"
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cablesync/cablesync/pkg/logger"
	"github.com/cablesync/cablesync/pkg/models"
)

func lldpPDU(column, timeMark, localPort, index string, value []byte) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{
		Name:  oidLLDPRemTable + "." + column + "." + timeMark + "." + localPort + "." + index,
		Type:  gosnmp.OctetString,
		Value: value,
	}
}

func TestProcessLLDPRemotePDUFoldsColumns(t *testing.T) {
	entries := make(map[string]*lldpEntry)

	processLLDPRemotePDU(lldpPDU(lldpColSysName, "0", "3", "1", []byte("sw2")), entries)
	processLLDPRemotePDU(lldpPDU(lldpColPortID, "0", "3", "1", []byte("Gi0/5")), entries)
	processLLDPRemotePDU(lldpPDU(lldpColPortDescr, "0", "3", "1", []byte("to sw1")), entries)
	processLLDPRemotePDU(lldpPDU(lldpColChassisID, "0", "3", "1", []byte{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}), entries)

	require.Len(t, entries, 1)

	entry := entries["0.3.1"]
	require.NotNil(t, entry)
	assert.Equal(t, 3, entry.localPort)
	assert.Equal(t, "sw2", entry.neighbor.SysName)
	assert.Equal(t, "Gi0/5", entry.neighbor.PortID)
	assert.Equal(t, "to sw1", entry.neighbor.PortDescr)
	assert.Equal(t, "00:1a:2b:3c:4d:5e", entry.neighbor.ChassisID)
	assert.True(t, entry.valid())
}

func TestProcessLLDPRemotePDUSeparatesEntries(t *testing.T) {
	entries := make(map[string]*lldpEntry)

	processLLDPRemotePDU(lldpPDU(lldpColSysName, "0", "3", "1", []byte("sw2")), entries)
	processLLDPRemotePDU(lldpPDU(lldpColSysName, "0", "4", "1", []byte("sw3")), entries)

	require.Len(t, entries, 2)
	assert.Equal(t, "sw2", entries["0.3.1"].neighbor.SysName)
	assert.Equal(t, "sw3", entries["0.4.1"].neighbor.SysName)
}

func TestProcessLLDPRemotePDUIgnoresShortOIDs(t *testing.T) {
	entries := make(map[string]*lldpEntry)

	processLLDPRemotePDU(gosnmp.SnmpPDU{
		Name:  ".1.0.8802.1",
		Type:  gosnmp.OctetString,
		Value: []byte("junk"),
	}, entries)

	assert.Empty(t, entries)
}

func TestLLDPEntryValid(t *testing.T) {
	assert.False(t, (&lldpEntry{}).valid())
	assert.True(t, (&lldpEntry{neighbor: models.Neighbor{SysName: "sw2"}}).valid())
	assert.True(t, (&lldpEntry{neighbor: models.Neighbor{PortID: "Gi0/5"}}).valid())
	assert.True(t, (&lldpEntry{neighbor: models.Neighbor{ChassisID: "aa:bb"}}).valid())
}

func TestFormatLLDPID(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{name: "binary MAC", in: []byte{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}, want: "00:1a:2b:3c:4d:5e"},
		{name: "printable name", in: []byte("Gi0/5"), want: "Gi0/5"},
		{name: "printable six bytes stays text", in: []byte("eth0/1"), want: "eth0/1"},
		{name: "empty", in: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatLLDPID(tt.in))
		})
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "00:1A:2B:3C:4D:5E", want: "00:1a:2b:3c:4d:5e"},
		{in: "00-1a-2b-3c-4d-5e", want: "00:1a:2b:3c:4d:5e"},
		{in: "001a.2b3c.4d5e", want: "00:1a:2b:3c:4d:5e"},
		{in: "001a2b3c4d5e", want: "00:1a:2b:3c:4d:5e"},
		{in: "not-a-mac", want: "not-a-mac"},
		{in: "001a2b3c4d", want: "001a2b3c4d"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeMAC(tt.in))
	}
}

func TestPollRequiresManagementIP(t *testing.T) {
	reader := NewNeighborReader(Options{
		Credentials: models.SNMPCredentials{Version: models.SNMPVersion2c, Community: "public"},
		Port:        161,
	}, logger.NewTestLogger())

	_, err := reader.Poll(context.Background(), models.Device{Name: "sw1"}, 1)
	require.ErrorIs(t, err, ErrNoManagementIP)
}

func TestConfigureClientVersion(t *testing.T) {
	client := &gosnmp.GoSNMP{}

	creds := models.SNMPCredentials{Version: models.SNMPVersion2c, Community: "monitoring"}
	require.NoError(t, configureClientVersion(client, &creds))
	assert.Equal(t, gosnmp.Version2c, client.Version)
	assert.Equal(t, "monitoring", client.Community)

	creds = models.SNMPCredentials{
		Version:         models.SNMPVersion3,
		Username:        "observer",
		AuthProtocol:    "SHA256",
		AuthPassword:    "authpass",
		PrivacyProtocol: "AES",
		PrivacyPassword: "privpass",
	}
	require.NoError(t, configureClientVersion(client, &creds))
	assert.Equal(t, gosnmp.Version3, client.Version)

	usm, ok := client.SecurityParameters.(*gosnmp.UsmSecurityParameters)
	require.True(t, ok)
	assert.Equal(t, "observer", usm.UserName)
	assert.Equal(t, gosnmp.SHA256, usm.AuthenticationProtocol)
	assert.Equal(t, gosnmp.AES, usm.PrivacyProtocol)

	creds = models.SNMPCredentials{Version: "v4"}
	require.ErrorIs(t, configureClientVersion(client, &creds), ErrUnsupportedSNMPVersion)
}

func TestClassifyErrors(t *testing.T) {
	assert.NoError(t, classify(nil, "sw1"))

	err := classify(context.DeadlineExceeded, "sw1")
	require.ErrorIs(t, err, ErrTimeout)

	err = classify(errors.New("request timeout (after 2 retries)"), "sw1")
	require.ErrorIs(t, err, ErrTimeout)

	err = classify(errors.New("connection refused"), "sw1")
	require.ErrorIs(t, err, ErrUnreachable)
}
