// Package export saves the per-frame results of a finished measurement as a
// JSON file or into a SQLite database.
package export

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	vqmt "github.com/GreatValueCreamSoda/govqmt"
)

// Result is a measurement flattened for storage. Values holds one row per
// measured frame; a nil cell is a value the engine did not produce.
type Result struct {
	JobID        string          `json:"job_id"`
	Status       vqmt.ExitStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	Columns      []string        `json:"columns"`
	Frames       []int32         `json:"frames"`
	Values       [][]*float64    `json:"values"`
	Accumulators json.RawMessage `json:"accumulators,omitempty"`
}

// FromJob collects the results of a job that has reached MeasureComplete.
func FromJob(job *vqmt.Job, status vqmt.ExitStatus) (*Result, error) {
	columns, err := job.Columns()
	if err != nil {
		return nil, err
	}
	matrix, err := job.ValuesArray()
	if err != nil {
		return nil, err
	}
	frames, err := job.FrameNumbers()
	if err != nil {
		return nil, err
	}
	acc, err := job.Accumulators()
	if err != nil {
		return nil, err
	}

	r := &Result{
		JobID:        job.ID(),
		Status:       status,
		CreatedAt:    time.Now().UTC(),
		Columns:      ColumnNames(columns),
		Frames:       frames,
		Accumulators: acc.Raw(),
	}
	if matrix != nil {
		r.Values = rowsOf(matrix)
	}
	return r, nil
}

// ColumnNames labels each column document. The engine's "name" is used when
// present, otherwise the metric and color component.
func ColumnNames(columns []vqmt.Document) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		var desc struct {
			Name   string `json:"name"`
			Metric string `json:"metric"`
			Color  string `json:"color"`
		}
		_ = c.Decode(&desc)
		switch {
		case desc.Name != "":
			names[i] = desc.Name
		case desc.Metric != "" && desc.Color != "":
			names[i] = desc.Metric + "_" + desc.Color
		case desc.Metric != "":
			names[i] = desc.Metric
		default:
			names[i] = fmt.Sprintf("column-%d", i)
		}
	}
	return names
}

func rowsOf(m *vqmt.ValueMatrix) [][]*float64 {
	rows := make([][]*float64, m.Rows)
	for r := range rows {
		row := make([]*float64, m.Cols)
		for c, v := range m.Row(r) {
			if !math.IsNaN(float64(v)) {
				f := float64(v)
				row[c] = &f
			}
		}
		rows[r] = row
	}
	return rows
}

// Column returns the defined values of column c.
func (r *Result) Column(c int) []float64 {
	out := make([]float64, 0, len(r.Values))
	for _, row := range r.Values {
		if c < len(row) && row[c] != nil {
			out = append(out, *row[c])
		}
	}
	return out
}

// Scores returns the defined values of every column, indexed like Columns.
func (r *Result) Scores() [][]float64 {
	scores := make([][]float64, len(r.Columns))
	for i := range r.Columns {
		scores[i] = r.Column(i)
	}
	return scores
}

// WriteJSON saves r as indented JSON.
func WriteJSON(path string, r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// ReadJSON loads a file written by WriteJSON.
func ReadJSON(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("json unmarshal %s: %w", path, err)
	}
	return &r, nil
}
