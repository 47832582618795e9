package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/notemigrate/internal/domain/notes"
	"github.com/ehr/notemigrate/internal/platform/metrics"
)

const maxLoggedStatement = 1000

// Store executes statements against patient_notes.
type Store interface {
	InsertReturningID(ctx context.Context, statement string) (int64, error)
	DeleteByID(ctx context.Context, id int64) (int64, error)
	DeleteByPatientAndDate(ctx context.Context, patientID int64, createdAt string) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// CreatedAtLookup supplies the source created_at of a note, used as the
// fallback delete key when no row id was recorded.
type CreatedAtLookup interface {
	CreatedAt(noteID string) (string, bool)
}

type Tracker struct {
	ledger  *Ledger
	store   Store
	created CreatedAtLookup
	metrics *metrics.Run
	logger  zerolog.Logger
	now     func() time.Time
}

// New builds a Tracker. created and m may be nil.
func New(ledger *Ledger, store Store, created CreatedAtLookup, m *metrics.Run, logger zerolog.Logger) *Tracker {
	return &Tracker{
		ledger:  ledger,
		store:   store,
		created: created,
		metrics: m,
		logger:  logger.With().Str("component", "tracker").Logger(),
		now:     time.Now,
	}
}

// Executed reports whether the note has already been turned into a row.
func (t *Tracker) Executed(noteID string) bool {
	return t.ledger.Executed(noteID)
}

// StatementError is one failed statement.
type StatementError struct {
	Index     int    `json:"index"`
	NoteID    string `json:"note_id"`
	Statement string `json:"statement"`
	Error     string `json:"error"`
}

type ExecuteReport struct {
	Mode            Mode
	Total           int
	Succeeded       int
	Failed          int
	AlreadyExecuted int
	Untracked       int
	Errors          []StatementError
	Duration        time.Duration
}

// SuccessRate is the percentage of attempted statements that succeeded.
func (r *ExecuteReport) SuccessRate() float64 {
	attempted := r.Succeeded + r.Failed
	if attempted == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(attempted) * 100
}

// Execute runs each statement whose note is not yet in the ledger and records
// the returned row id. The ledger is authoritative in every mode: a note it
// lists is never executed again, even if its row was removed by hand.
// Statements without a note id cannot be tracked and are skipped.
//
// A ledger write failure stops the run, since later inserts could no longer
// be undone.
func (t *Tracker) Execute(ctx context.Context, entries []notes.ScriptEntry, mode Mode) (*ExecuteReport, error) {
	start := t.now()
	report := &ExecuteReport{Mode: mode, Total: len(entries)}
	defer func() { report.Duration = t.now().Sub(start) }()

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if e.NoteID == "" {
			report.Untracked++
			t.logger.Warn().Int("index", i).Msg("statement has no note_id comment, skipping")
			continue
		}
		if t.ledger.Executed(e.NoteID) {
			report.AlreadyExecuted++
			continue
		}

		id, err := t.store.InsertReturningID(ctx, e.SQL)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, StatementError{
				Index:     i,
				NoteID:    e.NoteID,
				Statement: truncate(e.SQL, maxLoggedStatement),
				Error:     err.Error(),
			})
			t.metrics.Statement("insert", "error")
			t.logger.Error().Err(err).Int("index", i).Str("note_id", e.NoteID).
				Str("statement", truncate(e.SQL, maxLoggedStatement)).Msg("statement failed")
			continue
		}

		dbID := id
		entry := Entry{PatientID: e.PatientID, DBID: &dbID, ExecutedAt: t.now().UTC(), Mode: mode}
		if t.created != nil {
			if ts, ok := t.created.CreatedAt(e.NoteID); ok && ts != "" {
				entry.CreatedAt = &ts
			}
		}
		t.ledger.record(e.NoteID, entry)
		if err := t.ledger.Save(); err != nil {
			return report, fmt.Errorf("note %s inserted as row %d but not recorded: %w", e.NoteID, id, err)
		}
		report.Succeeded++
		t.metrics.Statement("insert", "success")
	}

	if mode == ModeReinsert && report.AlreadyExecuted > 0 {
		t.logger.Warn().Int("skipped", report.AlreadyExecuted).
			Msg("re-insert skipped notes already in the ledger; delete them first to migrate again")
	}
	t.logger.Info().
		Str("mode", string(mode)).
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("already_executed", report.AlreadyExecuted).
		Float64("success_rate", report.SuccessRate()).
		Msg("execution finished")
	return report, nil
}

type DeleteReport struct {
	Tracked   int
	Deleted   int
	Heuristic int
	// Diverged counts entries whose row was already gone or that had no
	// usable delete key.
	Diverged int
	Failed   int
	Errors   []StatementError
}

// DeletePrevious deletes every row the ledger knows about. Rows are deleted
// by id; entries without an id fall back to patient and created_at date,
// which can remove other notes written the same day. Entries with neither are
// kept and counted as diverged.
func (t *Tracker) DeletePrevious(ctx context.Context) (*DeleteReport, error) {
	all := t.ledger.entries()
	report := &DeleteReport{Tracked: len(all)}

	for _, noteID := range t.ledger.NoteIDs() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e := all[noteID]
		log := t.logger.With().Str("note_id", noteID).Int64("patient_id", e.PatientID).Logger()

		var (
			rows int64
			err  error
		)
		switch {
		case e.DBID != nil:
			rows, err = t.store.DeleteByID(ctx, *e.DBID)
		case e.CreatedAt != nil && *e.CreatedAt != "":
			report.Heuristic++
			log.Warn().Str("created_at", *e.CreatedAt).Msg("no row id recorded, deleting by patient and date; may remove other notes from that day")
			rows, err = t.store.DeleteByPatientAndDate(ctx, e.PatientID, *e.CreatedAt)
		default:
			report.Diverged++
			log.Warn().Msg("no row id or created_at recorded, cannot delete; keeping ledger entry")
			continue
		}

		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, StatementError{NoteID: noteID, Error: err.Error()})
			t.metrics.Statement("delete", "error")
			log.Error().Err(err).Msg("delete failed")
			continue
		}

		if rows == 0 {
			report.Diverged++
			log.Warn().Msg("row already absent from patient_notes")
		} else {
			report.Deleted++
			t.metrics.Statement("delete", "success")
		}

		t.ledger.remove(noteID)
		if err := t.ledger.Save(); err != nil {
			return report, err
		}
	}

	t.logger.Info().
		Int("tracked", report.Tracked).
		Int("deleted", report.Deleted).
		Int("heuristic", report.Heuristic).
		Int("diverged", report.Diverged).
		Int("failed", report.Failed).
		Msg("delete previous finished")
	return report, nil
}

const (
	emptyFirstAnswer  = "yes"
	emptySecondAnswer = "EMPTY patient_notes"
)

// EmptyTable deletes every row of patient_notes and clears the ledger after a
// two-step, case-sensitive confirmation.
func (t *Tracker) EmptyTable(ctx context.Context, c Confirmer) (int64, error) {
	ans, err := c.Confirm("This deletes ALL rows from patient_notes. Type 'yes' to continue: ")
	if err != nil {
		return 0, err
	}
	if ans != emptyFirstAnswer {
		return 0, ErrNotConfirmed
	}

	ans, err = c.Confirm(fmt.Sprintf("Type '%s' to confirm: ", emptySecondAnswer))
	if err != nil {
		return 0, err
	}
	if ans != emptySecondAnswer {
		return 0, ErrNotConfirmed
	}

	rows, err := t.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("empty patient_notes: %w", err)
	}

	cleared := t.ledger.Len()
	t.ledger.clear()
	if err := t.ledger.Save(); err != nil {
		return rows, err
	}

	t.logger.Warn().Int64("rows", rows).Int("ledger_entries", cleared).Msg("patient_notes emptied")
	return rows, nil
}

type Stats struct {
	Total       int
	ByMode      map[Mode]int
	ByPatient   map[int64]int
	WithoutDBID int
	Oldest      time.Time
	Newest      time.Time
}

func (t *Tracker) Stats() *Stats {
	st := &Stats{ByMode: map[Mode]int{}, ByPatient: map[int64]int{}}
	for _, e := range t.ledger.entries() {
		st.Total++
		st.ByMode[e.Mode]++
		st.ByPatient[e.PatientID]++
		if e.DBID == nil {
			st.WithoutDBID++
		}
		if st.Oldest.IsZero() || e.ExecutedAt.Before(st.Oldest) {
			st.Oldest = e.ExecutedAt
		}
		if e.ExecutedAt.After(st.Newest) {
			st.Newest = e.ExecutedAt
		}
	}
	return st
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
