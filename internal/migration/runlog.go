package migration

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ehr/notemigrate/internal/platform/jsonfile"
)

// PatientRun is one patient's outcome in one run. A patient accumulates one
// entry per run; earlier entries are never overwritten.
type PatientRun struct {
	RunID        string    `json:"run_id,omitempty"`
	RunTime      time.Time `json:"run_time"`
	NotesFound   int       `json:"notes_found"`
	NotesEmitted int       `json:"notes_emitted"`
	Success      bool      `json:"success"`
	Unresolved   bool      `json:"unresolved,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// ProcessedNote marks a note whose statement was written to the script.
type ProcessedNote struct {
	PatientID         int64     `json:"patient_id"`
	ExternalPatientID string    `json:"external_patient_id"`
	CreatedAt         string    `json:"created_at"`
	ProcessedAt       time.Time `json:"processed_at"`
	SQLGenerated      bool      `json:"sql_generated"`
}

type RunError struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

type runLogFile struct {
	FirstRun       time.Time                `json:"first_run"`
	LastRun        time.Time                `json:"last_run"`
	RunID          string                   `json:"run_id"`
	Patients       map[string][]PatientRun  `json:"patients"`
	ProcessedNotes map[string]ProcessedNote `json:"processed_notes"`
	Errors         []RunError               `json:"errors,omitempty"`
}

// RunLog is the results file: per-patient history across runs plus the set
// of notes already turned into SQL. It is safe for concurrent use.
type RunLog struct {
	mu   sync.RWMutex
	path string
	data runLogFile
}

// LoadRunLog reads the results file at path. A missing file starts a fresh
// log; a corrupt one is an error so history is never overwritten.
func LoadRunLog(path string, now time.Time) (*RunLog, error) {
	l := &RunLog{path: path}
	err := jsonfile.Read(path, &l.data)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		l.data = runLogFile{FirstRun: now}
	default:
		return nil, fmt.Errorf("load run log: %w", err)
	}
	if l.data.FirstRun.IsZero() {
		l.data.FirstRun = now
	}
	if l.data.Patients == nil {
		l.data.Patients = map[string][]PatientRun{}
	}
	if l.data.ProcessedNotes == nil {
		l.data.ProcessedNotes = map[string]ProcessedNote{}
	}
	return l, nil
}

func (l *RunLog) Path() string { return l.path }

// Begin stamps the log with a new run.
func (l *RunLog) Begin(runID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.RunID = runID
	l.data.LastRun = now
}

func (l *RunLog) RunID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data.RunID
}

func (l *RunLog) Processed(noteID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.data.ProcessedNotes[noteID]
	return ok
}

func (l *RunLog) MarkProcessed(noteID string, n ProcessedNote) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.ProcessedNotes[noteID] = n
}

// CreatedAt returns the source created_at of a processed note. The tracker
// uses it for the date-based fallback delete.
func (l *RunLog) CreatedAt(noteID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n, ok := l.data.ProcessedNotes[noteID]
	if !ok || n.CreatedAt == "" {
		return "", false
	}
	return n.CreatedAt, true
}

func (l *RunLog) AddPatient(externalID string, r PatientRun) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Patients[externalID] = append(l.data.Patients[externalID], r)
}

// History returns a copy of the runs recorded for one patient.
func (l *RunLog) History(externalID string) []PatientRun {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]PatientRun(nil), l.data.Patients[externalID]...)
}

func (l *RunLog) AddError(at time.Time, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Errors = append(l.data.Errors, RunError{Timestamp: at, Error: err.Error()})
}

func (l *RunLog) Errors() []RunError {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]RunError(nil), l.data.Errors...)
}

func (l *RunLog) ProcessedCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.data.ProcessedNotes)
}

func (l *RunLog) Save() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := jsonfile.Write(l.path, &l.data); err != nil {
		return fmt.Errorf("save run log: %w", err)
	}
	return nil
}
