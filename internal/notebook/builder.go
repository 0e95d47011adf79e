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

package notebook

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/noteable-io/origami-go/internal/wire"
)

// Builder holds the mutable document and applies typed deltas to it with
// idempotent, total behavior for every delta variant.
//
// The builder is single-writer: every mutation funnels through
// ApplyDelta, and the caller (internal/delta.Sequencer) guarantees deltas
// are never applied concurrently. No internal locking is required.
type Builder struct {
	nb                 *Notebook
	lastAppliedDeltaID string
	deletedCellIDs     map[string]bool
}

// NewBuilder constructs a Builder around a seed notebook. lastAppliedDeltaID
// is the delta id the seed version was current as of, or "" if unknown.
func NewBuilder(seed *Notebook, lastAppliedDeltaID string) *Builder {
	if seed == nil {
		seed = New()
	}
	return &Builder{
		nb:                 seed,
		lastAppliedDeltaID: lastAppliedDeltaID,
		deletedCellIDs:     make(map[string]bool),
	}
}

// Notebook returns the live document. Callers must not mutate it outside
// of ApplyDelta.
func (b *Builder) Notebook() *Notebook { return b.nb }

// LastAppliedDeltaID returns the id of the most recently applied delta,
// or "" if none has been applied yet.
func (b *Builder) LastAppliedDeltaID() string { return b.lastAppliedDeltaID }

// IsDeleted reports whether cellID was deleted during this session.
func (b *Builder) IsDeleted(cellID string) bool { return b.deletedCellIDs[cellID] }

// SeedLastAppliedDeltaID sets the chain head directly, without applying
// a delta. Used only when a subscribe reply's latest_delta_id must
// establish the chain head because deltas_to_apply was empty.
func (b *Builder) SeedLastAppliedDeltaID(id string) {
	b.lastAppliedDeltaID = id
}

// ApplyDelta applies a single delta to the document.
//
// Every successful call updates LastAppliedDeltaID to d.ID. If ApplyDelta
// returns an error, the builder's state is left as the caller finds it —
// callers must treat this as catastrophic rather than retry in place.
func (b *Builder) ApplyDelta(d wire.Delta) error {
	var err error
	switch d.DeltaType {
	case wire.DeltaTypeNBCells:
		err = b.applyNBCells(d)
	case wire.DeltaTypeCellContents:
		err = b.applyCellContents(d)
	case wire.DeltaTypeCellMetadata:
		err = b.applyCellMetadata(d)
	case wire.DeltaTypeCellOutputColl:
		err = b.applyCellOutputCollection(d)
	case wire.DeltaTypeNBMetadata:
		err = b.applyNBMetadata(d)
	case wire.DeltaTypeCellExecute:
		// No document mutation — execution requests are recorded for
		// logging only.
		slog.Info("cell_execute delta recorded",
			"action", d.DeltaAction,
			"delta_id", d.ID,
			"resource_id", d.ResourceID,
		)
	default:
		return fmt.Errorf("apply_delta: unknown delta_type %q", d.DeltaType)
	}
	if err != nil {
		return err
	}
	b.lastAppliedDeltaID = d.ID
	return nil
}

func (b *Builder) applyNBCells(d wire.Delta) error {
	switch d.DeltaAction {
	case wire.ActionAdd:
		return b.applyNBCellsAdd(d)
	case wire.ActionDelete:
		return b.applyNBCellsDelete(d)
	case wire.ActionMove:
		return b.applyNBCellsMove(d)
	default:
		return fmt.Errorf("nb_cells: unknown action %q", d.DeltaAction)
	}
}

func (b *Builder) applyNBCellsAdd(d wire.Delta) error {
	var props wire.NBCellsAddProperties
	if err := json.Unmarshal(d.Properties, &props); err != nil {
		return fmt.Errorf("nb_cells/add: decode properties: %w", err)
	}

	var cell Cell
	if len(props.Cell) > 0 {
		if err := json.Unmarshal(props.Cell, &cell); err != nil {
			return fmt.Errorf("nb_cells/add: decode cell: %w", err)
		}
	}
	if cell.Metadata == nil {
		cell.Metadata = Metadata{}
	}
	// The id in properties.id is authoritative and overwrites any id
	// inside the embedded cell.
	cell.ID = props.ID

	if b.nb.FindCell(cell.ID) != nil {
		slog.Warn("nb_cells/add: duplicate cell id, inserting anyway",
			"cell_id", cell.ID,
		)
	}

	if props.AfterID == "" {
		// Insert at index 0.
		b.nb.Cells = append([]Cell{cell}, b.nb.Cells...)
		return nil
	}

	idx := b.nb.IndexOfCell(props.AfterID)
	if idx < 0 {
		// after_id not found: fall back to index 0, same as absent.
		slog.Warn("nb_cells/add: after_id not found, inserting at index 0",
			"after_id", props.AfterID,
		)
		b.nb.Cells = append([]Cell{cell}, b.nb.Cells...)
		return nil
	}
	b.insertAfter(idx, cell)
	return nil
}

func (b *Builder) insertAfter(idx int, cell Cell) {
	cells := b.nb.Cells
	out := make([]Cell, 0, len(cells)+1)
	out = append(out, cells[:idx+1]...)
	out = append(out, cell)
	out = append(out, cells[idx+1:]...)
	b.nb.Cells = out
}

func (b *Builder) applyNBCellsDelete(d wire.Delta) error {
	var props wire.NBCellsDeleteProperties
	if err := json.Unmarshal(d.Properties, &props); err != nil {
		return fmt.Errorf("nb_cells/delete: decode properties: %w", err)
	}

	idx := b.nb.IndexOfCell(props.ID)
	if idx < 0 {
		return fmt.Errorf("nb_cells/delete: cell %q not found", props.ID)
	}

	b.nb.Cells = append(b.nb.Cells[:idx], b.nb.Cells[idx+1:]...)
	b.deletedCellIDs[props.ID] = true
	return nil
}

func (b *Builder) applyNBCellsMove(d wire.Delta) error {
	var props wire.NBCellsMoveProperties
	if err := json.Unmarshal(d.Properties, &props); err != nil {
		return fmt.Errorf("nb_cells/move: decode properties: %w", err)
	}

	if props.ID == props.AfterID {
		// No-op.
		return nil
	}

	idx := b.nb.IndexOfCell(props.ID)
	if idx < 0 {
		return fmt.Errorf("nb_cells/move: cell %q not found", props.ID)
	}
	cell := b.nb.Cells[idx]
	rest := append(append([]Cell{}, b.nb.Cells[:idx]...), b.nb.Cells[idx+1:]...)

	if props.AfterID == "" {
		b.nb.Cells = append([]Cell{cell}, rest...)
		return nil
	}

	afterIdx := -1
	for i := range rest {
		if rest[i].ID == props.AfterID {
			afterIdx = i
			break
		}
	}
	if afterIdx < 0 {
		return fmt.Errorf("nb_cells/move: after_id %q not found", props.AfterID)
	}
	out := make([]Cell, 0, len(rest)+1)
	out = append(out, rest[:afterIdx+1]...)
	out = append(out, cell)
	out = append(out, rest[afterIdx+1:]...)
	b.nb.Cells = out
	return nil
}

func (b *Builder) applyCellContents(d wire.Delta) error {
	switch d.DeltaAction {
	case wire.ActionUpdate:
		var props wire.CellContentsUpdateProperties
		if err := json.Unmarshal(d.Properties, &props); err != nil {
			return fmt.Errorf("cell_contents/update: decode properties: %w", err)
		}
		cell := b.nb.FindCell(d.ResourceID)
		if cell == nil {
			return fmt.Errorf("cell_contents/update: cell %q not found", d.ResourceID)
		}
		merged, err := applyPatch(cell.Source, props.Patch)
		if err != nil {
			return fmt.Errorf("cell_contents/update: %w", err)
		}
		cell.Source = merged
		return nil

	case wire.ActionReplace:
		var props wire.CellContentsReplaceProperties
		if err := json.Unmarshal(d.Properties, &props); err != nil {
			return fmt.Errorf("cell_contents/replace: decode properties: %w", err)
		}
		cell := b.nb.FindCell(d.ResourceID)
		if cell == nil {
			return fmt.Errorf("cell_contents/replace: cell %q not found", d.ResourceID)
		}
		cell.Source = props.Source
		return nil

	default:
		return fmt.Errorf("cell_contents: unknown action %q", d.DeltaAction)
	}
}

func (b *Builder) applyCellMetadata(d wire.Delta) error {
	switch d.DeltaAction {
	case wire.ActionUpdate:
		if b.deletedCellIDs[d.ResourceID] {
			slog.Debug("cell_metadata/update: dropping update for deleted cell",
				"cell_id", d.ResourceID,
			)
			return nil
		}
		cell := b.nb.FindCell(d.ResourceID)
		if cell == nil {
			slog.Warn("cell_metadata/update: cell not found, dropping",
				"cell_id", d.ResourceID,
			)
			return nil
		}
		var props wire.CellMetadataUpdateProperties
		if err := json.Unmarshal(d.Properties, &props); err != nil {
			return fmt.Errorf("cell_metadata/update: decode properties: %w", err)
		}
		if cell.Metadata == nil {
			cell.Metadata = Metadata{}
		}
		applyNestedPathUpdate(cell.Metadata, props.Path, props.Value, props.PriorValue)
		return nil

	case wire.ActionReplace:
		cell := b.nb.FindCell(d.ResourceID)
		if cell == nil {
			return fmt.Errorf("cell_metadata/replace: cell %q not found", d.ResourceID)
		}
		var props wire.CellMetadataReplaceProperties
		if err := json.Unmarshal(d.Properties, &props); err != nil {
			return fmt.Errorf("cell_metadata/replace: decode properties: %w", err)
		}
		if props.CellType != "" {
			cell.CellType = props.CellType
		}
		if props.Language != "" {
			if cell.Metadata == nil {
				cell.Metadata = Metadata{}
			}
			noteable, _ := cell.Metadata["noteable"].(Metadata)
			if noteable == nil {
				noteable, _ = cell.Metadata["noteable"].(map[string]interface{})
			}
			if noteable == nil {
				noteable = Metadata{}
			}
			noteable["cell_type"] = props.Language
			cell.Metadata["noteable"] = noteable
		}
		return nil

	default:
		return fmt.Errorf("cell_metadata: unknown action %q", d.DeltaAction)
	}
}

func (b *Builder) applyCellOutputCollection(d wire.Delta) error {
	if d.DeltaAction != wire.ActionReplace {
		return fmt.Errorf("cell_output_collection: unknown action %q", d.DeltaAction)
	}
	if b.deletedCellIDs[d.ResourceID] {
		slog.Warn("cell_output_collection/replace: dropping for deleted cell",
			"cell_id", d.ResourceID,
		)
		return nil
	}
	cell := b.nb.FindCell(d.ResourceID)
	if cell == nil {
		slog.Warn("cell_output_collection/replace: cell not found, dropping",
			"cell_id", d.ResourceID,
		)
		return nil
	}
	var props wire.CellOutputCollectionReplaceProperties
	if err := json.Unmarshal(d.Properties, &props); err != nil {
		return fmt.Errorf("cell_output_collection/replace: decode properties: %w", err)
	}
	if cell.Metadata == nil {
		cell.Metadata = Metadata{}
	}
	noteable, _ := cell.Metadata["noteable"].(Metadata)
	if noteable == nil {
		noteable = Metadata{}
	}
	noteable["output_collection_id"] = props.OutputCollectionID
	cell.Metadata["noteable"] = noteable
	return nil
}

func (b *Builder) applyNBMetadata(d wire.Delta) error {
	if d.DeltaAction != wire.ActionUpdate {
		return fmt.Errorf("nb_metadata: unknown action %q", d.DeltaAction)
	}
	var props wire.CellMetadataUpdateProperties
	if err := json.Unmarshal(d.Properties, &props); err != nil {
		return fmt.Errorf("nb_metadata/update: decode properties: %w", err)
	}
	if b.nb.Metadata == nil {
		b.nb.Metadata = Metadata{}
	}
	applyNestedPathUpdate(b.nb.Metadata, props.Path, props.Value, props.PriorValue)
	return nil
}

// applyNestedPathUpdate implements the nested-path metadata update
// algorithm exactly:
//
//  1. Starting at root, for each key in path[:-1], create an empty
//     sub-mapping if absent, and descend into it.
//  2. Let k = path[-1]. If k is present, priorValue is provided,
//     priorValue != the sentinel "__NULL_PRIOR_VALUE__", and the current
//     value compared as a string differs from priorValue compared as a
//     string, warn.
//  3. Assign path[-1] = value.
func applyNestedPathUpdate(root Metadata, path []string, value, priorValue interface{}) {
	if len(path) == 0 {
		return
	}

	cur := root
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key]
		if !ok {
			child := Metadata{}
			cur[key] = child
			cur = child
			continue
		}
		switch m := next.(type) {
		case Metadata:
			cur = m
		case map[string]interface{}:
			cur = Metadata(m)
		default:
			// Not a mapping — replace it with one, same as "absent".
			child := Metadata{}
			cur[key] = child
			cur = child
		}
	}

	k := path[len(path)-1]
	if existing, present := cur[k]; present {
		priorStr, hasPrior := priorValue.(string)
		priorProvided := priorValue != nil && !(hasPrior && priorStr == wire.NullPriorValue)
		if priorProvided {
			if fmt.Sprintf("%v", existing) != fmt.Sprintf("%v", priorValue) {
				slog.Warn("metadata update: prior_value mismatch, setting anyway",
					"path", path,
					"existing", existing,
					"prior_value", priorValue,
				)
			}
		}
	}
	cur[k] = value
}
