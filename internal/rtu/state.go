// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtu

// State is a step in the client's startup state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthSent
	StateAuthenticated
	StateSubscribed
	StateCaughtUp
	StateSteady
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthSent:
		return "auth_sent"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateCaughtUp:
		return "caught_up"
	case StateSteady:
		return "steady"
	case StateResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// State returns the client's current startup-state-machine position.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// setState transitions the client to next and records the transition
// in metrics. Any connection loss observed from the transport falls the
// state back to StateDisconnected regardless of where it was.
func (c *Client) setState(next State) {
	c.stateMu.Lock()
	prev := c.state
	c.state = next
	c.stateMu.Unlock()

	if prev == next {
		return
	}
	c.metrics.RecordStateTransition(prev.String(), next.String())
}
