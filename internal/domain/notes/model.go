package notes

import (
	"bytes"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// Note is the canonical flat shape of one remote encounter note. Timestamps are
// the exact source strings; nil means the source value was absent, null or "".
type Note struct {
	ID                string  `json:"id"`
	Notes             string  `json:"notes"`
	CreatedAt         *string `json:"created_at"`
	UpdatedAt         *string `json:"updated_at"`
	ExternalPatientID string  `json:"patient_id"`
	ExternalAuthorID  *string `json:"created_by_account_id"`

	// LocalPatientID is attached after normalization, once the owning
	// patient has been resolved against the local database.
	LocalPatientID int64 `json:"local_patient_id,omitempty"`
}

// HasTimestamps reports whether both created_at and updated_at are present.
func (n *Note) HasTimestamps() bool {
	return n.CreatedAt != nil && n.UpdatedAt != nil
}

// DecodeResponse decodes an encounter-notes response body into generic JSON
// values, keeping numbers as json.Number so large ids survive intact.
func DecodeResponse(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode encounter notes: %w", err)
	}
	return v, nil
}

// scalarString renders a JSON scalar as a string. Objects, arrays and null
// report ok=false.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// optionalString is scalarString with "" folded into nil.
func optionalString(v any) *string {
	s, ok := scalarString(v)
	if !ok || s == "" {
		return nil
	}
	return &s
}
