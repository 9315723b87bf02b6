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

import "errors"

var (
	// ErrTimeout occurs when a device does not answer within timeout x retries.
	ErrTimeout = errors.New("snmp query timeout")
	// ErrUnreachable occurs when the device cannot be reached at all.
	ErrUnreachable = errors.New("device unreachable")
	// ErrNoManagementIP occurs when the inventory device carries no address to poll.
	ErrNoManagementIP = errors.New("device has no management IP")
	// ErrUnsupportedSNMPVersion occurs for versions other than v1, v2c, v3.
	ErrUnsupportedSNMPVersion = errors.New("unsupported SNMP version")
)
