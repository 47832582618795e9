// Package roster maintains the provider list and the provider→patient index
// that decide which remote patients a migration run visits.
package roster

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// IDList decodes from a JSON array of strings or numbers.
type IDList []string

func (l *IDList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(IDList, 0, len(raw))
	for i, v := range raw {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case json.Number:
			out = append(out, t.String())
		case float64:
			out = append(out, strconv.FormatFloat(t, 'f', -1, 64))
		default:
			return fmt.Errorf("id %d: unsupported type %T", i, v)
		}
	}
	*l = out
	return nil
}

// ProviderList is the providers file.
type ProviderList struct {
	ProviderIDs IDList `json:"provider_ids"`
}

// PatientIDCache is the derived patient-id list the migration iterates.
type PatientIDCache struct {
	PatientIDs  IDList    `json:"patient_ids"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ProviderLogEntry records how many patients a provider contributed.
type ProviderLogEntry struct {
	PatientCount int       `json:"patient_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProviderLog is the provider log file, keyed by provider id.
type ProviderLog map[string]ProviderLogEntry

// Index maps a provider id to the sorted distinct external ids of the
// patients it has appointments with.
type Index map[string][]string

// Provider is a practitioner row as shown by `providers fetch --details`.
type Provider struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	PracID    string
	Role      string
	Country   string
}

func (p Provider) Name() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}
