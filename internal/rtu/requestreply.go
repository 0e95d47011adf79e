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

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/noteable-io/origami-go/internal/router"
	"github.com/noteable-io/origami-go/internal/wire"
)

// RejectionError is returned when the server answers a request with one
// of the uniformly-recognized error events (delta_rejected, invalid_data,
// permission_denied, invalid_event, inconsistent_state_event) instead of
// the expected reply.
type RejectionError struct {
	Event   string
	Cause   string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Event, e.Message, e.Cause)
}

// IsRejection reports whether err wraps a *RejectionError, so callers can
// distinguish a server-side rejection from a transport or context error
// without string matching.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// CancelledError is returned by any in-flight request/reply call still
// pending when Shutdown(ctx, now=true) tears down the client.
type CancelledError struct {
	Event string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s: cancelled by shutdown", e.Event)
}

// IsCancelled reports whether err wraps a *CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// requestReply sends one frame and waits for the correlated reply on the
// same transaction id, decoding its Data into out (if non-nil). raw
// selects SendRaw (bypassing the authenticated gate) for the
// authenticate_request and whoami_request frames; every other request
// goes through the gated Send.
func (c *Client) requestReply(ctx context.Context, channel, event string, payload interface{}, replyEvent string, out interface{}, raw bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	txID := uuid.NewString()
	replies := make(chan wire.Frame, 1)

	c.router.HandleOnce(
		fmt.Sprintf("reply:%s:%s", event, txID),
		router.And(router.ByTransactionID(txID), router.Or(router.ByEvent(replyEvent), router.AnyErrorEvent())),
		func(f wire.Frame) error {
			select {
			case replies <- f:
			default:
			}
			return nil
		},
	)

	req := wire.Frame{
		TransactionID: txID,
		Channel:       channel,
		Event:         event,
		Data:          data,
	}

	send := c.transport.Send
	if raw {
		send = c.transport.SendRaw
	}
	if err := send(ctx, req); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}

	select {
	case reply := <-replies:
		if wire.IsErrorEvent(reply.Event) {
			var errData wire.ErrorData
			_ = json.Unmarshal(reply.Data, &errData)
			return &RejectionError{Event: reply.Event, Cause: errData.Cause, Message: errData.Message}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(reply.Data, out); err != nil {
			return fmt.Errorf("decode %s reply: %w", event, err)
		}
		return nil
	case <-c.shutdownCh:
		return &CancelledError{Event: event}
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", event, ctx.Err())
	}
}
