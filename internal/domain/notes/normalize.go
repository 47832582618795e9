package notes

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Normalizer turns decoded encounter-note responses into Notes. It never
// fails: anything it cannot read is logged and dropped.
type Normalizer struct {
	logger zerolog.Logger
}

func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{logger: logger.With().Str("component", "normalizer").Logger()}
}

// Normalize extracts the notes under raw["data"]. A response that is not an
// object, or whose data is not an array, yields an empty slice. Malformed
// items are skipped individually.
func (n *Normalizer) Normalize(raw any) []Note {
	resp, ok := raw.(map[string]any)
	if !ok {
		n.logger.Warn().Str("type", fmt.Sprintf("%T", raw)).Msg("response is not an object")
		return []Note{}
	}

	data, ok := resp["data"].([]any)
	if !ok {
		n.logger.Warn().Str("type", fmt.Sprintf("%T", resp["data"])).Msg("response data is not an array")
		return []Note{}
	}

	out := make([]Note, 0, len(data))
	for i, item := range data {
		note, ok := n.normalizeItem(i, item)
		if ok {
			out = append(out, note)
		}
	}
	return out
}

func (n *Normalizer) normalizeItem(index int, item any) (note Note, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Int("index", index).Interface("panic", r).Msg("skipping note item")
			note, ok = Note{}, false
		}
	}()

	obj, isObj := item.(map[string]any)
	if !isObj {
		n.logger.Warn().Int("index", index).Str("type", fmt.Sprintf("%T", item)).Msg("skipping non-object note item")
		return Note{}, false
	}

	note.ID, _ = scalarString(obj["id"])

	attrs, isObj := obj["attributes"].(map[string]any)
	if !isObj {
		attrs = map[string]any{}
	}

	note.Notes, _ = scalarString(attrs["notes"])
	note.CreatedAt = optionalString(attrs["created_at"])
	note.UpdatedAt = optionalString(attrs["updated_at"])
	note.ExternalPatientID, _ = scalarString(attrs["patient_id"])
	note.ExternalAuthorID = optionalString(attrs["created_by_account_id"])

	return note, true
}
