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

// RootDeltaID is the sentinel all-zero value denoting "no parent" — the
// first delta in a chain.
const RootDeltaID = "00000000-0000-0000-0000-000000000000"

// NoResourceID is the sentinel "no resource" value for Delta.ResourceID.
const NoResourceID = "00000000-0000-0000-0000-000000000000"

// NullPriorValue is the sentinel string that means "no prior value
// supplied" for cell_metadata/update and nb_metadata/update deltas.
const NullPriorValue = "__NULL_PRIOR_VALUE__"

// Delta types.
const (
	DeltaTypeNBCells        = "nb_cells"
	DeltaTypeCellContents   = "cell_contents"
	DeltaTypeCellMetadata   = "cell_metadata"
	DeltaTypeCellOutputColl = "cell_output_collection"
	DeltaTypeNBMetadata     = "nb_metadata"
	DeltaTypeCellExecute    = "cell_execute"
)

// Delta actions.
const (
	ActionAdd           = "add"
	ActionDelete        = "delete"
	ActionMove          = "move"
	ActionUpdate        = "update"
	ActionReplace       = "replace"
	ActionExecute       = "execute"
	ActionExecuteAll    = "execute_all"
	ActionExecuteBefore = "execute_before"
	ActionExecuteAfter  = "execute_after"
)

// Delta is a record describing one atomic change to a notebook document.
type Delta struct {
	ID            string          `json:"id"`
	ParentDeltaID string          `json:"parent_delta_id"`
	FileID        string          `json:"file_id"`
	DeltaType     string          `json:"delta_type"`
	DeltaAction   string          `json:"delta_action"`
	ResourceID    string          `json:"resource_id"`
	Properties    json.RawMessage `json:"properties"`
}

// IsRoot reports whether d has no logical parent, i.e. its
// ParentDeltaID is the all-zero sentinel or empty.
func (d Delta) IsRoot() bool {
	return d.ParentDeltaID == "" || d.ParentDeltaID == RootDeltaID
}

// Properties payloads, keyed by (DeltaType, DeltaAction).

// NBCellsAddProperties is the payload of an nb_cells/add delta.
type NBCellsAddProperties struct {
	ID      string          `json:"id"`
	AfterID string          `json:"after_id,omitempty"`
	Cell    json.RawMessage `json:"cell"`
}

// NBCellsDeleteProperties is the payload of an nb_cells/delete delta.
type NBCellsDeleteProperties struct {
	ID string `json:"id"`
}

// NBCellsMoveProperties is the payload of an nb_cells/move delta.
type NBCellsMoveProperties struct {
	ID      string `json:"id"`
	AfterID string `json:"after_id,omitempty"`
}

// CellContentsUpdateProperties is the payload of a cell_contents/update
// delta: a diff-match-patch patch text applied to the cell's source.
type CellContentsUpdateProperties struct {
	Patch string `json:"patch"`
}

// CellContentsReplaceProperties is the payload of a cell_contents/replace
// delta.
type CellContentsReplaceProperties struct {
	Source string `json:"source"`
}

// CellMetadataUpdateProperties is the payload of a cell_metadata/update
// (and nb_metadata/update) delta.
type CellMetadataUpdateProperties struct {
	Path       []string    `json:"path"`
	Value      interface{} `json:"value"`
	PriorValue interface{} `json:"prior_value,omitempty"`
}

// CellMetadataReplaceProperties is the payload of a cell_metadata/replace
// delta.
type CellMetadataReplaceProperties struct {
	CellType string `json:"cell_type,omitempty"`
	Language string `json:"language,omitempty"`
}

// CellOutputCollectionReplaceProperties is the payload of a
// cell_output_collection/replace delta.
type CellOutputCollectionReplaceProperties struct {
	OutputCollectionID string `json:"output_collection_id"`
}

// CellExecuteProperties is the payload shared by every cell_execute
// action.
type CellExecuteProperties struct {
	CellID   string `json:"cell_id,omitempty"`
	BeforeID string `json:"before_id,omitempty"`
	AfterID  string `json:"after_id,omitempty"`
}
