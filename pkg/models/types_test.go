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

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalKeyIsDirectionless(t *testing.T) {
	a := Endpoint{Device: "sw1", Interface: "Gi0/1"}
	b := Endpoint{Device: "sw2", Interface: "Gi0/5"}

	assert.Equal(t, CanonicalKey(a, b), CanonicalKey(b, a))
	assert.Equal(t, a, CanonicalKey(b, a).A)
}

func TestCanonicalKeyOrdersByInterfaceWithinDevice(t *testing.T) {
	a := Endpoint{Device: "sw1", Interface: "Gi0/2"}
	b := Endpoint{Device: "sw1", Interface: "Gi0/10"}

	key := CanonicalKey(a, b)
	assert.Equal(t, b, key.A, "plain lexicographic order, not numeric")
}

func TestNeighborEndpointFallsBackToPortDescr(t *testing.T) {
	n := Neighbor{SysName: "sw2", PortID: "Gi0/5", PortDescr: "to sw1"}
	assert.Equal(t, "Gi0/5", n.Endpoint().Interface)

	n.PortID = ""
	assert.Equal(t, "to sw1", n.Endpoint().Interface)
}

func TestChangeSetMutationsOrder(t *testing.T) {
	cs := &ChangeSet{
		Adds:    []Action{{Type: ActionAdd}},
		Updates: []Action{{Type: ActionUpdate}},
		Removes: []Action{{Type: ActionRemove}},
	}

	mutations := cs.Mutations()
	assert.Equal(t, []ActionType{ActionRemove, ActionUpdate, ActionAdd},
		[]ActionType{mutations[0].Type, mutations[1].Type, mutations[2].Type})
}

func TestChangeSetEmpty(t *testing.T) {
	cs := &ChangeSet{
		Conflicts: []Action{{Type: ActionConflict}},
		Unchanged: []Action{{Type: ActionUnchanged}},
	}

	assert.True(t, cs.Empty(), "conflicts and unchanged links are not mutations")
}
