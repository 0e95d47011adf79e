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

// Package notebook holds the in-memory notebook document model and the
// Builder that applies typed deltas to it.
package notebook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Cell type discriminators.
const (
	CellTypeCode     = "code"
	CellTypeMarkdown = "markdown"
	CellTypeRaw      = "raw"
)

// Output type discriminators.
const (
	OutputTypeStream        = "stream"
	OutputTypeDisplayData   = "display_data"
	OutputTypeExecuteResult = "execute_result"
	OutputTypeError         = "error"
)

// Metadata is a mapping from string to arbitrary JSON value, unbounded
// depth.
type Metadata map[string]interface{}

// Clone returns a deep-enough copy for safe independent mutation of the
// top level and any nested map/slice reached purely through map values
// produced by encoding/json unmarshalling (map[string]interface{} /
// []interface{} / scalars).
func (m Metadata) Clone() Metadata {
	return cloneValue(m).(Metadata)
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Metadata:
		out := make(Metadata, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// Output is a tagged variant over {stream, display_data, execute_result,
// error}, discriminated by OutputType.
type Output struct {
	OutputType string `json:"output_type"`

	// stream
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`

	// display_data / execute_result
	Data           Metadata `json:"data,omitempty"`
	OutputMetadata Metadata `json:"metadata,omitempty"`
	ExecutionCount *int     `json:"execution_count,omitempty"`

	// error
	EName     string   `json:"ename,omitempty"`
	EValue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// outputWire mirrors Output but allows Text/Traceback to arrive as either
// a string or a list of strings on the wire; both forms normalize to one
// newline-joined string.
type outputWire struct {
	OutputType     string          `json:"output_type"`
	Name           string          `json:"name,omitempty"`
	Text           json.RawMessage `json:"text,omitempty"`
	Data           Metadata        `json:"data,omitempty"`
	OutputMetadata Metadata        `json:"metadata,omitempty"`
	ExecutionCount *int            `json:"execution_count,omitempty"`
	EName          string          `json:"ename,omitempty"`
	EValue         string          `json:"evalue,omitempty"`
	Traceback      json.RawMessage `json:"traceback,omitempty"`
}

// UnmarshalJSON normalizes string-or-array-of-strings fields on ingest.
func (o *Output) UnmarshalJSON(data []byte) error {
	var w outputWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = Output{
		OutputType:     w.OutputType,
		Name:           w.Name,
		Data:           w.Data,
		OutputMetadata: w.OutputMetadata,
		ExecutionCount: w.ExecutionCount,
		EName:          w.EName,
		EValue:         w.EValue,
	}
	text, err := joinStringOrArray(w.Text)
	if err != nil {
		return fmt.Errorf("output.text: %w", err)
	}
	o.Text = text
	if len(w.Traceback) > 0 {
		tb, err := stringArray(w.Traceback)
		if err != nil {
			return fmt.Errorf("output.traceback: %w", err)
		}
		o.Traceback = tb
	}
	return nil
}

// joinStringOrArray accepts either a JSON string or a JSON array of
// strings and returns the newline-joined result.
func joinStringOrArray(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func stringArray(raw json.RawMessage) ([]string, error) {
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return lines, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return strings.Split(s, "\n"), nil
}

// Cell is a tagged variant over {code, markdown, raw}, discriminated by
// CellType.
type Cell struct {
	CellType string   `json:"cell_type"`
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Metadata Metadata `json:"metadata"`

	// code cells only
	ExecutionCount *int     `json:"execution_count,omitempty"`
	Outputs        []Output `json:"outputs,omitempty"`
}

// cellWire mirrors Cell but allows Source to arrive as either a string or
// a list of lines.
type cellWire struct {
	CellType       string          `json:"cell_type"`
	ID             string          `json:"id"`
	Source         json.RawMessage `json:"source"`
	Metadata       Metadata        `json:"metadata"`
	ExecutionCount *int            `json:"execution_count,omitempty"`
	Outputs        []Output        `json:"outputs,omitempty"`
}

// UnmarshalJSON normalizes Source on ingest by joining array-of-lines
// input with newlines. The same normalization applies on every later
// mutation.
func (c *Cell) UnmarshalJSON(data []byte) error {
	var w cellWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	source, err := joinStringOrArray(w.Source)
	if err != nil {
		return fmt.Errorf("cell.source: %w", err)
	}
	if w.Metadata == nil {
		w.Metadata = Metadata{}
	}
	*c = Cell{
		CellType:       w.CellType,
		ID:             w.ID,
		Source:         source,
		Metadata:       w.Metadata,
		ExecutionCount: w.ExecutionCount,
		Outputs:        w.Outputs,
	}
	return nil
}

// MarshalJSON always writes outputs for code cells, as [] when empty.
func (c Cell) MarshalJSON() ([]byte, error) {
	type plain Cell
	if !c.IsCode() {
		return json.Marshal(plain(c))
	}
	out := struct {
		plain
		Outputs []Output `json:"outputs"`
	}{plain(c), c.Outputs}
	if out.Outputs == nil {
		out.Outputs = []Output{}
	}
	return json.Marshal(out)
}

// IsCode reports whether the cell is a code cell.
func (c Cell) IsCode() bool { return c.CellType == CellTypeCode }

// Notebook is the in-memory notebook document.
//
// Cells order is observable and is the source of truth for display
// order — callers must never sort or reorder Cells themselves.
type Notebook struct {
	NBFormat      int      `json:"nbformat"`
	NBFormatMinor int      `json:"nbformat_minor"`
	Metadata      Metadata `json:"metadata"`
	Cells         []Cell   `json:"cells"`
}

// DefaultNBFormat and DefaultNBFormatMinor are the opaque format version
// constants preserved on serialization when a seed document doesn't
// specify them.
const (
	DefaultNBFormat      = 4
	DefaultNBFormatMinor = 5
)

// New returns an empty notebook with default format fields.
func New() *Notebook {
	return &Notebook{
		NBFormat:      DefaultNBFormat,
		NBFormatMinor: DefaultNBFormatMinor,
		Metadata:      Metadata{},
		Cells:         []Cell{},
	}
}

// ParseNotebook deserializes raw notebook JSON into the document model.
func ParseNotebook(data []byte) (*Notebook, error) {
	var nb Notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}
	if nb.Metadata == nil {
		nb.Metadata = Metadata{}
	}
	seen := make(map[string]bool, len(nb.Cells))
	for _, c := range nb.Cells {
		if seen[c.ID] {
			// Duplicates on ingest are a warning, not an error.
			slog.Warn("parse notebook: duplicate cell id", "cell_id", c.ID)
			continue
		}
		seen[c.ID] = true
	}
	return &nb, nil
}

// MarshalIndented returns the document as indented JSON, for inspection.
func (n *Notebook) MarshalIndented() ([]byte, error) {
	return json.MarshalIndent(n, "", "  ")
}

// MarshalCompact returns the document as unindented JSON, for wire
// transmission or storage.
func (n *Notebook) MarshalCompact() ([]byte, error) {
	return json.Marshal(n)
}

// FindCell returns a pointer to the first cell with the given id, or nil.
// "Subsequent operations use the first match" for duplicate ids on
// ingest.
func (n *Notebook) FindCell(id string) *Cell {
	for i := range n.Cells {
		if n.Cells[i].ID == id {
			return &n.Cells[i]
		}
	}
	return nil
}

// IndexOfCell returns the index of the first cell with the given id, or
// -1 if not found.
func (n *Notebook) IndexOfCell(id string) int {
	for i := range n.Cells {
		if n.Cells[i].ID == id {
			return i
		}
	}
	return -1
}
