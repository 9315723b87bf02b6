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
	"fmt"
	"strings"
)

const macAddressLength = 6

// formatLLDPID formats LLDP identifiers, which may be MAC addresses or
// plain strings depending on the advertised subtype.
func formatLLDPID(bytes []byte) string {
	if len(bytes) == macAddressLength && !isPrintable(bytes) {
		return formatMACAddress(bytes)
	}

	return string(bytes)
}

func formatMACAddress(bytes []byte) string {
	parts := make([]string, len(bytes))
	for i, b := range bytes {
		parts[i] = fmt.Sprintf("%02x", b)
	}

	return strings.Join(parts, ":")
}

func isPrintable(bytes []byte) bool {
	for _, b := range bytes {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}

	return true
}

// NormalizeMAC normalizes a MAC address to lowercase colon-separated form.
// Accepts colon, dash, Cisco dot and bare formats; returns the input
// unchanged when it does not look like a MAC.
func NormalizeMAC(mac string) string {
	clean := strings.ToLower(strings.TrimSpace(mac))
	clean = strings.NewReplacer(":", "", "-", "", ".", "").Replace(clean)

	if len(clean) != 2*macAddressLength {
		return mac
	}

	for _, c := range clean {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return mac
		}
	}

	parts := make([]string, 0, macAddressLength)
	for i := 0; i < len(clean); i += 2 {
		parts = append(parts, clean[i:i+2])
	}

	return strings.Join(parts, ":")
}
