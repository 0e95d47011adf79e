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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noteable-io/origami-go/internal/notebook"
	"github.com/noteable-io/origami-go/internal/wire"
)

// newDelta builds a delta chained onto the last-applied delta the local
// builder knows about. The parent is read at submission time, not after
// the delta is actually applied — application happens asynchronously via
// the server's new_delta_event broadcast, so rapid concurrent
// submissions may produce deltas the sequencer has to queue and reorder.
// That is the sequencer's job; callers that need strict ordering should
// await each operation before issuing the next.
func (c *Client) newDelta(deltaType, action, resourceID string, props interface{}) (wire.Delta, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return wire.Delta{}, fmt.Errorf("marshal %s/%s properties: %w", deltaType, action, err)
	}
	return wire.Delta{
		ID:            uuid.NewString(),
		ParentDeltaID: c.sequencer.Builder().LastAppliedDeltaID(),
		FileID:        c.fileID,
		DeltaType:     deltaType,
		DeltaAction:   action,
		ResourceID:    resourceID,
		Properties:    raw,
	}, nil
}

// submitDelta sends d as new_delta_request and blocks until d has actually
// converged into the local document — not merely until the server
// acknowledges it. It races two independent completions: the
// new_delta_reply ack/rejection (transaction-correlated, via requestReply)
// and the squash signal fired by onDeltaApplied the moment a delta with
// this id is applied to the builder (id-correlated, via the squash waiter
// registered below). The wire protocol gives no ordering guarantee between
// the two, so an ack success alone is not enough to return: submitDelta
// keeps waiting for squash in that case. Returns the squashed delta itself,
// in its as-applied form.
func (c *Client) submitDelta(ctx context.Context, d wire.Delta) (wire.Delta, error) {
	start := time.Now()

	squashed := c.registerSquashWaiter(d.ID)
	defer c.unregisterSquashWaiter(d.ID)

	ackErr := make(chan error, 1)
	go func() {
		var reply wire.NewDeltaReplyData
		err := c.requestReply(ctx, wire.FilesChannel(c.fileID), wire.EventNewDeltaRequest,
			wire.NewDeltaRequestData{Delta: d}, wire.EventNewDeltaReply, &reply, false)
		if err == nil && !reply.Success {
			err = fmt.Errorf("delta %s rejected by server", d.ID)
		}
		ackErr <- err
	}()

	for {
		select {
		case applied := <-squashed:
			c.metrics.RecordDeltaSubmission("accepted", time.Since(start))
			return applied, nil
		case err := <-ackErr:
			if err == nil {
				// Accepted but not yet squashed; keep waiting for
				// convergence.
				continue
			}
			result := "rejected"
			if ctx.Err() != nil {
				result = "timeout"
			}
			c.metrics.RecordDeltaSubmission(result, time.Since(start))
			return wire.Delta{}, fmt.Errorf("submit delta %s: %w", d.ID, err)
		case <-ctx.Done():
			c.metrics.RecordDeltaSubmission("timeout", time.Since(start))
			return wire.Delta{}, fmt.Errorf("submit delta %s: %w", d.ID, ctx.Err())
		}
	}
}

// cellSnapshot returns a copy of cellID's current state in the local
// document, for returning from operations that resolve with the
// updated/inserted cell.
func (c *Client) cellSnapshot(cellID string) (notebook.Cell, error) {
	cell := c.Notebook().FindCell(cellID)
	if cell == nil {
		return notebook.Cell{}, fmt.Errorf("cell %s not found", cellID)
	}
	return *cell, nil
}

// AddCell inserts a new cell of the given type and source after afterID
// ("" to insert at the start) and resolves with the inserted cell once it
// has squashed into the local document.
func (c *Client) AddCell(ctx context.Context, afterID, cellType, source string) (notebook.Cell, error) {
	cellID := uuid.NewString()
	cell := notebook.Cell{
		CellType: cellType,
		ID:       cellID,
		Source:   source,
		Metadata: notebook.Metadata{},
	}
	cellJSON, err := json.Marshal(cell)
	if err != nil {
		return notebook.Cell{}, fmt.Errorf("marshal new cell: %w", err)
	}

	d, err := c.newDelta(wire.DeltaTypeNBCells, wire.ActionAdd, wire.NoResourceID, wire.NBCellsAddProperties{
		ID:      cellID,
		AfterID: afterID,
		Cell:    cellJSON,
	})
	if err != nil {
		return notebook.Cell{}, err
	}
	if _, err := c.submitDelta(ctx, d); err != nil {
		return notebook.Cell{}, err
	}
	return c.cellSnapshot(cellID)
}

// DeleteCell removes cellID from the notebook.
func (c *Client) DeleteCell(ctx context.Context, cellID string) error {
	d, err := c.newDelta(wire.DeltaTypeNBCells, wire.ActionDelete, wire.NoResourceID, wire.NBCellsDeleteProperties{ID: cellID})
	if err != nil {
		return err
	}
	_, err = c.submitDelta(ctx, d)
	return err
}

// MoveCell relocates cellID to directly after afterID ("" to move it to
// the start).
func (c *Client) MoveCell(ctx context.Context, cellID, afterID string) error {
	d, err := c.newDelta(wire.DeltaTypeNBCells, wire.ActionMove, wire.NoResourceID, wire.NBCellsMoveProperties{
		ID:      cellID,
		AfterID: afterID,
	})
	if err != nil {
		return err
	}
	_, err = c.submitDelta(ctx, d)
	return err
}

// ChangeCellType reclassifies cellID's cell_type and, for code cells, its
// kernel language. The two are independent cell_metadata/replace deltas —
// one when the type changes, a second when language is also supplied —
// so a collaborator observing the chain sees the type settle before the
// language does, rather than one delta conflating both. It resolves with
// the cell as it stands after the last delta it actually had to submit.
func (c *Client) ChangeCellType(ctx context.Context, cellID, cellType, language string) (notebook.Cell, error) {
	d, err := c.newDelta(wire.DeltaTypeCellMetadata, wire.ActionReplace, cellID, wire.CellMetadataReplaceProperties{
		CellType: cellType,
	})
	if err != nil {
		return notebook.Cell{}, err
	}
	if _, err := c.submitDelta(ctx, d); err != nil {
		return notebook.Cell{}, err
	}

	if language == "" {
		return c.cellSnapshot(cellID)
	}

	d, err = c.newDelta(wire.DeltaTypeCellMetadata, wire.ActionReplace, cellID, wire.CellMetadataReplaceProperties{
		Language: language,
	})
	if err != nil {
		return notebook.Cell{}, err
	}
	if _, err := c.submitDelta(ctx, d); err != nil {
		return notebook.Cell{}, err
	}
	return c.cellSnapshot(cellID)
}

// UpdateCellContent applies a diff-match-patch patch to cellID's source,
// the form used for incremental co-editing.
func (c *Client) UpdateCellContent(ctx context.Context, cellID, patchText string) (notebook.Cell, error) {
	d, err := c.newDelta(wire.DeltaTypeCellContents, wire.ActionUpdate, cellID, wire.CellContentsUpdateProperties{
		Patch: patchText,
	})
	if err != nil {
		return notebook.Cell{}, err
	}
	if _, err := c.submitDelta(ctx, d); err != nil {
		return notebook.Cell{}, err
	}
	return c.cellSnapshot(cellID)
}

// ReplaceCellContent overwrites cellID's source wholesale.
func (c *Client) ReplaceCellContent(ctx context.Context, cellID, source string) (notebook.Cell, error) {
	d, err := c.newDelta(wire.DeltaTypeCellContents, wire.ActionReplace, cellID, wire.CellContentsReplaceProperties{
		Source: source,
	})
	if err != nil {
		return notebook.Cell{}, err
	}
	if _, err := c.submitDelta(ctx, d); err != nil {
		return notebook.Cell{}, err
	}
	return c.cellSnapshot(cellID)
}

// SetCellMetadata writes value at path within cellID's metadata tree,
// creating intermediate mappings as needed.
func (c *Client) SetCellMetadata(ctx context.Context, cellID string, path []string, value interface{}) error {
	d, err := c.newDelta(wire.DeltaTypeCellMetadata, wire.ActionUpdate, cellID, wire.CellMetadataUpdateProperties{
		Path:  path,
		Value: value,
	})
	if err != nil {
		return err
	}
	_, err = c.submitDelta(ctx, d)
	return err
}

// QueueExecution submits cellID for execution and returns once the
// cell_execute delta has squashed into the local document; it does not
// wait for the kernel to finish running the cell. Call WaitForCellExecution to block on that.
func (c *Client) QueueExecution(ctx context.Context, cellID string) error {
	d, err := c.newDelta(wire.DeltaTypeCellExecute, wire.ActionExecute, cellID, wire.CellExecuteProperties{
		CellID: cellID,
	})
	if err != nil {
		return err
	}
	_, err = c.submitDelta(ctx, d)
	return err
}

// ExecuteAndWait queues cellID for execution and blocks until it reaches
// a terminal execution state, returning that state.
func (c *Client) ExecuteAndWait(ctx context.Context, cellID string) (string, error) {
	if err := c.QueueExecution(ctx, cellID); err != nil {
		return "", err
	}
	return c.WaitForCellExecution(ctx, cellID)
}
