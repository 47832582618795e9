// Package migration drives the fetch → normalize → emit pipeline across all
// patients and keeps the results log.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/notemigrate/internal/domain/identity"
	"github.com/ehr/notemigrate/internal/domain/notes"
	"github.com/ehr/notemigrate/internal/platform/metrics"
	"github.com/ehr/notemigrate/internal/platform/retry"
	"github.com/ehr/notemigrate/internal/telehealth"
)

// API is the remote telehealth surface the orchestrator needs.
type API interface {
	Authenticate(ctx context.Context, username, password string) (*telehealth.Token, error)
	FetchNotesWithRetry(ctx context.Context, token *telehealth.Token, externalPatientID string, p retry.Policy) telehealth.FetchResult
}

// ExecutionChecker reports notes that already became database rows.
type ExecutionChecker interface {
	Executed(noteID string) bool
}

type Options struct {
	Username        string
	Password        string
	Concurrency     int
	BatchPause      time.Duration
	SQLWorkers      int
	DefaultAuthorID int64
	Retry           retry.Policy
}

type Orchestrator struct {
	api        API
	resolver   identity.Resolver
	normalizer *notes.Normalizer
	emitter    *notes.Emitter
	script     *notes.ScriptWriter
	runlog     *RunLog
	executed   ExecutionChecker
	metrics    *metrics.Run
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time
}

func NewOrchestrator(
	api API,
	resolver identity.Resolver,
	script *notes.ScriptWriter,
	runlog *RunLog,
	executed ExecutionChecker,
	m *metrics.Run,
	opts Options,
	logger zerolog.Logger,
) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.SQLWorkers < 1 {
		opts.SQLWorkers = 1
	}
	return &Orchestrator{
		api:        api,
		resolver:   resolver,
		normalizer: notes.NewNormalizer(logger),
		emitter:    notes.NewEmitter(resolver),
		script:     script,
		runlog:     runlog,
		executed:   executed,
		metrics:    m,
		opts:       opts,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		now:        time.Now,
	}
}

// fetched is a patient after the I/O phase.
type fetched struct {
	externalID string
	notes      []notes.Note
	err        string
}

// emitted is a patient after the SQL phase.
type emitted struct {
	externalID string
	localID    int64
	found      int
	stmts      []*notes.Statement
	createdAt  map[string]string
	skipped    int
	duplicate  int
	noteErrors int
	unresolved bool
	err        string
}

// Run migrates every patient in externalIDs. The returned summary is never
// nil. The run log is saved before returning, whatever the outcome; an error
// is returned only for fatal conditions.
func (o *Orchestrator) Run(ctx context.Context, externalIDs []string) (summary *Summary, err error) {
	start := o.now()
	runID := uuid.NewString()
	o.runlog.Begin(runID, start)

	summary = &Summary{RunID: runID, Started: start, ScriptPath: o.script.Path(), Patients: len(externalIDs)}
	log := o.logger.With().Str("run_id", runID).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
		if err != nil {
			summary.Fatal = err.Error()
			o.runlog.AddError(o.now(), err)
		}
		summary.Duration = o.now().Sub(start)
		if saveErr := o.runlog.Save(); saveErr != nil {
			log.Error().Err(saveErr).Str("path", o.runlog.Path()).Msg("failed to save run log")
			if err == nil {
				err = saveErr
			}
		}
	}()

	token, err := o.api.Authenticate(ctx, o.opts.Username, o.opts.Password)
	if err != nil {
		log.Error().Err(err).Msg("authentication failed, aborting run")
		return summary, err
	}

	mode := "concurrent"
	if o.opts.Concurrency <= 1 {
		mode = "sequential"
	}
	log.Info().Int("patients", len(externalIDs)).Str("mode", mode).
		Int("concurrency", o.opts.Concurrency).Int("sql_workers", o.opts.SQLWorkers).
		Msg("starting migration run")

	size := o.opts.Concurrency
	batches := (len(externalIDs) + size - 1) / size
	for b := 0; b < batches; b++ {
		lo, hi := b*size, min((b+1)*size, len(externalIDs))

		fetchedBatch, err := o.fetchBatch(ctx, token, externalIDs[lo:hi])
		if err != nil {
			return summary, err
		}
		emittedBatch, err := o.emitBatch(ctx, fetchedBatch)
		if err != nil {
			return summary, err
		}
		if err := o.record(emittedBatch, lo == 0, summary); err != nil {
			return summary, err
		}

		if size > 1 {
			log.Info().Int("batch", b+1).Int("batches", batches).Msg("batch complete")
		}
		if b < batches-1 && o.opts.BatchPause > 0 && size > 1 {
			if err := sleep(ctx, o.opts.BatchPause); err != nil {
				return summary, err
			}
		}
	}

	if len(externalIDs) == 0 {
		// Still reset the script so a stale one is not executed by mistake.
		if err := o.script.Write(nil, true); err != nil {
			return summary, err
		}
	}

	log.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("unresolved", summary.Unresolved).
		Int("notes_emitted", summary.NotesEmitted).
		Msg("migration run complete")
	return summary, nil
}

// fetchBatch fetches one batch. Each task fills only its own slot; the batch
// is handed back after every task has joined.
func (o *Orchestrator) fetchBatch(ctx context.Context, token *telehealth.Token, ids []string) ([]fetched, error) {
	out := make([]fetched, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			out[i] = o.fetchPatient(gctx, token, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) fetchPatient(ctx context.Context, token *telehealth.Token, externalID string) (f fetched) {
	f.externalID = externalID
	defer func() {
		if r := recover(); r != nil {
			f.notes = nil
			f.err = fmt.Sprintf("processing patient %s: %v", externalID, r)
			o.logger.Error().Str("patient_id", externalID).Interface("panic", r).Msg("recovered while fetching patient")
		}
	}()

	o.logger.Debug().Str("patient_id", externalID).Msg("fetching encounter notes")
	res := o.api.FetchNotesWithRetry(ctx, token, externalID, o.opts.Retry)
	if res.Failed() {
		o.logger.Warn().Str("patient_id", externalID).Int("status", res.StatusCode).
			Str("error", res.Error).Msg("patient fetch failed")
		f.err = res.Error
		return f
	}

	f.notes = o.normalizer.Normalize(res.Data)
	o.logger.Debug().Str("patient_id", externalID).Int("notes", len(f.notes)).Msg("encounter notes fetched")
	return f
}

// emitBatch turns fetched notes into statements on the SQL worker pool.
func (o *Orchestrator) emitBatch(ctx context.Context, batch []fetched) ([]emitted, error) {
	out := make([]emitted, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.SQLWorkers)
	for i := range batch {
		g.Go(func() error {
			out[i] = o.emitPatient(gctx, batch[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) emitPatient(ctx context.Context, f fetched) (e emitted) {
	e = emitted{externalID: f.externalID, found: len(f.notes), err: f.err}
	if f.err != "" {
		return e
	}
	defer func() {
		if r := recover(); r != nil {
			e.stmts = nil
			e.err = fmt.Sprintf("generating SQL for patient %s: %v", f.externalID, r)
			o.logger.Error().Str("patient_id", f.externalID).Interface("panic", r).Msg("recovered while generating SQL")
		}
	}()

	seen := make(map[string]bool, len(f.notes))
	fresh := make([]notes.Note, 0, len(f.notes))
	for _, n := range f.notes {
		if n.ID != "" && (seen[n.ID] || o.runlog.Processed(n.ID) || o.executed.Executed(n.ID)) {
			e.duplicate++
			continue
		}
		seen[n.ID] = true
		fresh = append(fresh, n)
	}
	if len(fresh) == 0 {
		return e
	}

	localID, ok, err := o.resolver.LocalPatientID(ctx, f.externalID)
	if err != nil {
		e.err = fmt.Sprintf("resolve local patient: %v", err)
		return e
	}
	if !ok {
		e.unresolved = true
		e.err = fmt.Sprintf("local patient not found for external id %s", f.externalID)
		return e
	}
	e.localID = localID
	e.createdAt = make(map[string]string, len(fresh))

	for _, n := range fresh {
		n.LocalPatientID = localID
		stmt, err := o.emitter.Emit(ctx, n, localID, o.opts.DefaultAuthorID)
		switch {
		case errors.Is(err, notes.ErrNoteSkipped):
			e.skipped++
			o.logger.Warn().Err(err).Str("note_id", n.ID).Str("patient_id", f.externalID).Msg("note skipped")
		case err != nil:
			e.noteErrors++
			o.logger.Error().Err(err).Str("note_id", n.ID).Str("patient_id", f.externalID).Msg("note failed")
		default:
			e.stmts = append(e.stmts, stmt)
			e.createdAt[n.ID] = *n.CreatedAt
		}
	}
	return e
}

// record writes a batch to the script in submission order and folds it into
// the run log and summary. Only called from Run's goroutine.
func (o *Orchestrator) record(batch []emitted, first bool, s *Summary) error {
	for i, e := range batch {
		truncate := first && i == 0
		if len(e.stmts) > 0 || truncate {
			if err := o.script.Write(e.stmts, truncate); err != nil {
				return err
			}
		}

		now := o.now()
		entry := PatientRun{
			RunID:        s.RunID,
			RunTime:      now,
			NotesFound:   e.found,
			NotesEmitted: len(e.stmts),
			Error:        e.err,
		}
		s.NotesFound += e.found
		s.NotesEmitted += len(e.stmts)
		s.NotesSkipped += e.skipped
		s.NotesDuplicate += e.duplicate
		s.NoteErrors += e.noteErrors
		o.metrics.Notes(metrics.NoteEmitted, len(e.stmts))
		o.metrics.Notes(metrics.NoteSkipped, e.skipped)
		o.metrics.Notes(metrics.NoteDuplicate, e.duplicate)
		o.metrics.Notes(metrics.NoteError, e.noteErrors)

		switch {
		case e.unresolved:
			entry.Unresolved = true
			s.Unresolved++
			s.Errors = append(s.Errors, PatientError{PatientID: e.externalID, Error: e.err})
			o.metrics.Patient(metrics.PatientUnresolved)
			o.logger.Warn().Str("patient_id", e.externalID).Msg("local patient not found, notes left for a later run")
		case e.err != "":
			s.Failed++
			s.Errors = append(s.Errors, PatientError{PatientID: e.externalID, Error: e.err})
			o.metrics.Patient(metrics.PatientFailed)
		default:
			entry.Success = true
			s.Succeeded++
			o.metrics.Patient(metrics.PatientSucceeded)
		}
		o.runlog.AddPatient(e.externalID, entry)

		for _, st := range e.stmts {
			o.runlog.MarkProcessed(st.NoteID, ProcessedNote{
				PatientID:         e.localID,
				ExternalPatientID: e.externalID,
				CreatedAt:         e.createdAt[st.NoteID],
				ProcessedAt:       now,
				SQLGenerated:      true,
			})
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
