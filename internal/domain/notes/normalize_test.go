package notes

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(zerolog.Nop())
}

func TestNormalize_WellFormed(t *testing.T) {
	raw, err := DecodeResponse([]byte(`{"data":[{"id":"n1","attributes":{"notes":"<p>Hello</p>","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-02T00:00:00Z","patient_id":"p1","created_by_account_id":"a1"}}]}`))
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}

	got := newTestNormalizer().Normalize(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 note, got %d", len(got))
	}
	n := got[0]
	if n.ID != "n1" || n.Notes != "<p>Hello</p>" || n.ExternalPatientID != "p1" {
		t.Errorf("unexpected note: %+v", n)
	}
	if n.CreatedAt == nil || *n.CreatedAt != "2024-01-01T00:00:00Z" {
		t.Errorf("created_at not preserved: %v", n.CreatedAt)
	}
	if n.UpdatedAt == nil || *n.UpdatedAt != "2024-01-02T00:00:00Z" {
		t.Errorf("updated_at not preserved: %v", n.UpdatedAt)
	}
	if n.ExternalAuthorID == nil || *n.ExternalAuthorID != "a1" {
		t.Errorf("author not preserved: %v", n.ExternalAuthorID)
	}
	if n.LocalPatientID != 0 {
		t.Errorf("local patient id must not be set by the normalizer, got %d", n.LocalPatientID)
	}
}

func TestNormalize_MalformedItemSkipped(t *testing.T) {
	raw := map[string]any{
		"data": []any{
			map[string]any{"id": "n1", "attributes": map[string]any{"notes": "ok"}},
			"not an object",
		},
	}

	got := newTestNormalizer().Normalize(raw)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 note, got %d", len(got))
	}
	if got[0].ID != "n1" {
		t.Errorf("expected n1, got %q", got[0].ID)
	}
}

func TestNormalize_NotAResponse(t *testing.T) {
	inputs := []any{
		nil,
		42,
		"text",
		true,
		[]any{map[string]any{"id": "n1"}},
		map[string]any{},
		map[string]any{"data": nil},
		map[string]any{"data": "oops"},
		map[string]any{"data": map[string]any{"id": "n1"}},
	}

	n := newTestNormalizer()
	for _, in := range inputs {
		got := n.Normalize(in)
		if got == nil || len(got) != 0 {
			t.Errorf("Normalize(%#v) = %#v, want empty non-nil slice", in, got)
		}
	}
}

func TestNormalize_FieldDefaults(t *testing.T) {
	raw := map[string]any{
		"data": []any{
			map[string]any{},
			map[string]any{"id": nil, "attributes": "broken"},
			map[string]any{"id": json.Number("9007199254740993"), "attributes": map[string]any{
				"notes":                 []any{"not", "text"},
				"created_at":            "",
				"updated_at":            nil,
				"patient_id":            json.Number("77"),
				"created_by_account_id": "",
			}},
			map[string]any{"id": 12.0, "attributes": map[string]any{"created_by_account_id": json.Number("5")}},
		},
	}

	got := newTestNormalizer().Normalize(raw)
	if len(got) != 4 {
		t.Fatalf("expected 4 notes, got %d", len(got))
	}

	for i, n := range got[:2] {
		if n.ID != "" || n.Notes != "" || n.CreatedAt != nil || n.UpdatedAt != nil || n.ExternalPatientID != "" || n.ExternalAuthorID != nil {
			t.Errorf("note %d: expected all defaults, got %+v", i, n)
		}
	}

	big := got[2]
	if big.ID != "9007199254740993" {
		t.Errorf("numeric id must survive as decimal string, got %q", big.ID)
	}
	if big.Notes != "" {
		t.Errorf("non-string notes must default to empty, got %q", big.Notes)
	}
	if big.CreatedAt != nil || big.UpdatedAt != nil {
		t.Error("empty and null timestamps must be nil")
	}
	if big.ExternalPatientID != "77" {
		t.Errorf("expected patient id 77, got %q", big.ExternalPatientID)
	}
	if big.ExternalAuthorID != nil {
		t.Error("empty author must be nil")
	}

	if got[3].ID != "12" {
		t.Errorf("float id must render without exponent, got %q", got[3].ID)
	}
	if got[3].ExternalAuthorID == nil || *got[3].ExternalAuthorID != "5" {
		t.Errorf("numeric author must render as string, got %v", got[3].ExternalAuthorID)
	}
}

func TestDecodeResponse_Invalid(t *testing.T) {
	if _, err := DecodeResponse([]byte(`{"data": [`)); err == nil {
		t.Fatal("expected decode error")
	}
}
