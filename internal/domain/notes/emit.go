package notes

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrNoteSkipped marks a note that cannot be migrated. Skips are expected
	// and never fail the owning patient.
	ErrNoteSkipped = errors.New("note skipped")

	ErrMissingTimestamp = errors.New("missing created_at or updated_at")
	ErrUnresolvedAuthor = errors.New("author account not found")
)

// InsertNoteQuery inserts one note and returns the generated row id.
const InsertNoteQuery = `INSERT INTO patient_notes (notes, patient_id, author_user_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id;`

var placeholder = regexp.MustCompile(`\$(\d+)`)

// AuthorResolver maps a remote account id to a local user id. Not-found is
// (0, false, nil).
type AuthorResolver interface {
	LocalAuthorID(ctx context.Context, externalAccountID string) (int64, bool, error)
}

// Statement is a parameterized insert for a single note.
type Statement struct {
	NoteID    string
	PatientID int64
	Query     string
	Args      []any
}

// Comment is the traceability line written above the statement.
func (s *Statement) Comment() string {
	id := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s.NoteID)
	return fmt.Sprintf("-- note_id: %s, patient_id: %d", id, s.PatientID)
}

// Render returns the statement with its arguments substituted as SQL
// literals, on a single line and terminated by exactly one semicolon.
func (s *Statement) Render() string {
	out := placeholder.ReplaceAllStringFunc(s.Query, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil || n < 1 || n > len(s.Args) {
			return m
		}
		return literal(s.Args[n-1])
	})
	return Terminate(out)
}

// Terminate appends a semicolon unless s already ends with one.
func Terminate(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	if strings.HasSuffix(s, ";") {
		return s
	}
	return s + ";"
}

func literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(t), "'", "''") + "'"
	}
}

// Emitter builds insert statements from normalized notes.
type Emitter struct {
	authors AuthorResolver
}

func NewEmitter(authors AuthorResolver) *Emitter {
	return &Emitter{authors: authors}
}

// Emit builds the insert for note owned by localPatientID.
//
// A note without both timestamps is skipped. A note without an author gets
// defaultAuthorID; a note whose author does not resolve is skipped rather
// than reassigned. Skip errors match ErrNoteSkipped; lookup failures are
// returned unwrapped by that sentinel.
func (e *Emitter) Emit(ctx context.Context, note Note, localPatientID, defaultAuthorID int64) (*Statement, error) {
	if !note.HasTimestamps() || hasLineBreak(*note.CreatedAt) || hasLineBreak(*note.UpdatedAt) {
		return nil, fmt.Errorf("note %s: %w: %w", note.ID, ErrNoteSkipped, ErrMissingTimestamp)
	}

	authorID := defaultAuthorID
	if note.ExternalAuthorID != nil && *note.ExternalAuthorID != "" {
		id, found, err := e.authors.LocalAuthorID(ctx, *note.ExternalAuthorID)
		if err != nil {
			return nil, fmt.Errorf("note %s: resolve author %s: %w", note.ID, *note.ExternalAuthorID, err)
		}
		if !found {
			return nil, fmt.Errorf("note %s: author %s: %w: %w", note.ID, *note.ExternalAuthorID, ErrNoteSkipped, ErrUnresolvedAuthor)
		}
		authorID = id
	}

	return &Statement{
		NoteID:    note.ID,
		PatientID: localPatientID,
		Query:     InsertNoteQuery,
		Args:      []any{Sanitize(note.Notes), localPatientID, authorID, *note.CreatedAt, *note.UpdatedAt},
	}, nil
}

// hasLineBreak rejects timestamps that would split a rendered statement.
func hasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}
