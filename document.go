package govqmt

import (
	"encoding/json"
	"fmt"
)

// Document is a JSON document returned by the engine: catalogs, column and
// file descriptions, accumulators and generalized info. The engine owns the
// schema, so the binding keeps the raw bytes and decodes on request.
type Document struct {
	raw json.RawMessage
}

// NewDocument wraps raw engine output. The bytes are copied.
func NewDocument(raw []byte) Document {
	return Document{raw: append(json.RawMessage(nil), raw...)}
}

// Raw returns the document exactly as the engine produced it.
func (d Document) Raw() json.RawMessage { return d.raw }

// IsZero reports whether the document is empty.
func (d Document) IsZero() bool { return len(d.raw) == 0 }

// Decode unmarshals the document into v.
func (d Document) Decode(v any) error {
	if len(d.raw) == 0 {
		return fmt.Errorf("govqmt: decode empty document")
	}
	return json.Unmarshal(d.raw, v)
}

// Value decodes the document into generic Go values.
func (d Document) Value() (any, error) {
	var v any
	err := d.Decode(&v)
	return v, err
}

// Map decodes an object document.
func (d Document) Map() (map[string]any, error) {
	var m map[string]any
	err := d.Decode(&m)
	return m, err
}

// String returns the document with two-space indentation, falling back to
// the raw bytes if they are not valid JSON.
func (d Document) String() string {
	v, err := d.Value()
	if err != nil {
		return string(d.raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(d.raw)
	}
	return string(out)
}

func (d Document) MarshalJSON() ([]byte, error) {
	if len(d.raw) == 0 {
		return []byte("null"), nil
	}
	return d.raw, nil
}

func (d *Document) UnmarshalJSON(b []byte) error {
	d.raw = append(d.raw[:0], b...)
	return nil
}

// parseDocument validates engine text as JSON.
func parseDocument(what, text string) (Document, error) {
	if !json.Valid([]byte(text)) {
		return Document{}, fmt.Errorf("govqmt: %s: engine returned invalid "+
			"json", what)
	}
	return NewDocument([]byte(text)), nil
}

// parseDocumentList splits an engine JSON array into its elements.
func parseDocumentList(what, text string) ([]Document, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("govqmt: %s: %w", what, err)
	}
	docs := make([]Document, len(items))
	for i, item := range items {
		docs[i] = Document{raw: item}
	}
	return docs, nil
}
