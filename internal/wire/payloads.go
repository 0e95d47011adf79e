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

package wire

import "encoding/json"

// SuccessData is the common {"success": bool} reply shape.
type SuccessData struct {
	Success bool `json:"success"`
}

// AuthenticateRequestData is the payload of the first frame sent on a new
// connection. It bypasses the normal outbound queue.
type AuthenticateRequestData struct {
	Token         string `json:"token"`
	RTUClientType string `json:"rtu_client_type"`
}

// AuthenticateReplyData is the payload of authenticate_reply.
type AuthenticateReplyData struct {
	Success bool   `json:"success"`
	User    string `json:"user,omitempty"`
}

// WhoamiReplyData is the payload of whoami_reply.
type WhoamiReplyData struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// SubscribeRequestData is the payload of subscribe_request on a
// files/{file_id} channel.
//
// Exactly one of FromDeltaID or FromVersionID must be set. All-zero delta
// ids must never be sent.
type SubscribeRequestData struct {
	FromDeltaID   string `json:"from_delta_id,omitempty"`
	FromVersionID string `json:"from_version_id,omitempty"`
}

// SubscribeReplyData is the payload of subscribe_reply on files/{file_id}.
type SubscribeReplyData struct {
	DeltasToApply     []Delta           `json:"deltas_to_apply"`
	LatestDeltaID     string            `json:"latest_delta_id"`
	KernelSession     json.RawMessage   `json:"kernel_session,omitempty"`
	CellStates        map[string]string `json:"cell_states,omitempty"`
	UserSubscriptions []string          `json:"user_subscriptions,omitempty"`
}

// NewDeltaRequestData is the payload of new_delta_request.
type NewDeltaRequestData struct {
	Delta Delta `json:"delta"`
}

// NewDeltaReplyData is the payload of new_delta_reply.
type NewDeltaReplyData struct {
	Success bool   `json:"success"`
	DeltaID string `json:"delta_id,omitempty"`
}

// NewDeltaEventData is the payload of new_delta_event: a broadcast of an
// applied delta to all channel subscribers.
type NewDeltaEventData struct {
	Delta Delta `json:"delta"`
}

// ErrorData is the payload shared by the uniformly-recognized error
// variants.
type ErrorData struct {
	Cause   string `json:"cause,omitempty"`
	Message string `json:"message,omitempty"`
}

// KernelStatusUpdateData is the payload of kernel_status_update_event.
type KernelStatusUpdateData struct {
	KernelState string `json:"kernel_state"`
}

// CellStateEntry is one cell's state within a bulk update.
type CellStateEntry struct {
	CellID string `json:"cell_id"`
	State  string `json:"state"`
}

// BulkCellStateUpdateData is the payload of bulk_cell_state_update_event.
type BulkCellStateUpdateData struct {
	CellStates []CellStateEntry `json:"cell_states"`
}

// OutputCollectionEventData is the shared payload shape of
// update_output_collection_event and append_output_event.
type OutputCollectionEventData struct {
	CellID             string          `json:"cell_id"`
	OutputCollectionID string          `json:"output_collection_id,omitempty"`
	Output             json.RawMessage `json:"output,omitempty"`
}

// Known kernel execution states.
const (
	ExecFinishedNoError     = "finished_with_no_error"
	ExecFinishedWithError   = "finished_with_error"
	ExecCatastrophicFailure = "catastrophic_failure"
	ExecDequeued            = "dequeued"
	ExecInterrupted         = "interrupted"
	ExecNotRun              = "not_run"
)

// IsTerminalExecutionState reports whether state is one of the terminal
// cell execution states a pending execution future waits for.
func IsTerminalExecutionState(state string) bool {
	switch state {
	case ExecFinishedNoError, ExecFinishedWithError, ExecCatastrophicFailure,
		ExecDequeued, ExecInterrupted, ExecNotRun:
		return true
	default:
		return false
	}
}

// Known kernel states.
const (
	KernelNotStarted   = "not_started"
	KernelStarting     = "starting"
	KernelIdle         = "idle"
	KernelBusy         = "busy"
	KernelShuttingDown = "shutting_down"
)

// Creator client types.
const (
	ClientTypeOrigami    = "origami"
	ClientTypeOrigamist  = "origamist"
	ClientTypePlanarAlly = "planar_ally"
	ClientTypeGeas       = "geas"
	ClientTypeUnknown    = "unknown"
)
