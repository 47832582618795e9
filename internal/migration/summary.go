package migration

import (
	"fmt"
	"io"
	"time"
)

// PatientError is a per-patient failure surfaced in the summary.
type PatientError struct {
	PatientID string
	Error     string
}

// Summary is the human-facing result of a run. It is produced even when the
// run aborts; Fatal then carries the reason.
type Summary struct {
	RunID      string
	Started    time.Time
	Duration   time.Duration
	ScriptPath string

	Patients   int
	Succeeded  int
	Failed     int
	Unresolved int

	NotesFound     int
	NotesEmitted   int
	NotesSkipped   int
	NotesDuplicate int
	NoteErrors     int

	Errors []PatientError
	Fatal  string
}

// Print writes the end-of-run report.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "\nMigration run %s\n", s.RunID)
	fmt.Fprintf(w, "  patients:   %d total, %d succeeded, %d failed, %d unresolved\n",
		s.Patients, s.Succeeded, s.Failed, s.Unresolved)
	fmt.Fprintf(w, "  notes:      %d found, %d emitted, %d skipped, %d already processed, %d errors\n",
		s.NotesFound, s.NotesEmitted, s.NotesSkipped, s.NotesDuplicate, s.NoteErrors)
	if s.ScriptPath != "" {
		fmt.Fprintf(w, "  script:     %s\n", s.ScriptPath)
	}
	fmt.Fprintf(w, "  duration:   %s\n", s.Duration.Round(time.Millisecond))

	if len(s.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors (%d):\n", len(s.Errors))
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s: %s\n", e.PatientID, e.Error)
		}
	}
	if s.Fatal != "" {
		fmt.Fprintf(w, "\nRun aborted: %s\n", s.Fatal)
	}
}
