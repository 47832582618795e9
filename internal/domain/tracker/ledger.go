// Package tracker records which generated statements have become database
// rows, so executions are idempotent and can be undone.
package tracker

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ehr/notemigrate/internal/platform/jsonfile"
)

// Mode is the execution mode that produced a ledger entry.
type Mode string

const (
	ModeNew      Mode = "new"
	ModeReinsert Mode = "re-insert"
)

// Entry is the ledger record of one executed note.
type Entry struct {
	PatientID  int64     `json:"patient_id"`
	DBID       *int64    `json:"db_id"`
	ExecutedAt time.Time `json:"executed_at"`
	Mode       Mode      `json:"mode"`
	CreatedAt  *string   `json:"created_at,omitempty"`
}

type ledgerFile struct {
	UpdatedAt time.Time        `json:"updated_at"`
	Notes     map[string]Entry `json:"notes"`
}

// Ledger is the durable note_id → Entry map. Every mutation is followed by a
// Save by the Tracker; the file is never removed implicitly.
type Ledger struct {
	mu    sync.RWMutex
	path  string
	notes map[string]Entry
	now   func() time.Time
}

// LoadLedger reads the ledger at path. A missing file yields an empty ledger
// that is created on the first Save.
func LoadLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, notes: map[string]Entry{}, now: time.Now}

	var f ledgerFile
	err := jsonfile.Read(path, &f)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if f.Notes != nil {
		l.notes = f.Notes
	}
	return l, nil
}

func (l *Ledger) Path() string { return l.path }

// Save writes the ledger atomically.
func (l *Ledger) Save() error {
	l.mu.RLock()
	f := ledgerFile{UpdatedAt: l.now().UTC(), Notes: l.notes}
	err := jsonfile.Write(l.path, f)
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// Executed reports whether noteID has a ledger entry.
func (l *Ledger) Executed(noteID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.notes[noteID]
	return ok
}

func (l *Ledger) Get(noteID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.notes[noteID]
	return e, ok
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.notes)
}

// NoteIDs returns the tracked ids in sorted order.
func (l *Ledger) NoteIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.notes))
	for id := range l.notes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Ledger) record(noteID string, e Entry) {
	l.mu.Lock()
	l.notes[noteID] = e
	l.mu.Unlock()
}

func (l *Ledger) remove(noteID string) {
	l.mu.Lock()
	delete(l.notes, noteID)
	l.mu.Unlock()
}

func (l *Ledger) clear() {
	l.mu.Lock()
	l.notes = map[string]Entry{}
	l.mu.Unlock()
}

func (l *Ledger) entries() map[string]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Entry, len(l.notes))
	for k, v := range l.notes {
		out[k] = v
	}
	return out
}
