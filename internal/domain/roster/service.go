package roster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/notemigrate/internal/platform/jsonfile"
)

// Files names the roster files on disk.
type Files struct {
	Providers   string
	PatientIDs  string
	ProviderLog string
}

type Service struct {
	repo   Repository
	files  Files
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, files Files, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		files:  files,
		logger: logger.With().Str("component", "roster").Logger(),
		now:    time.Now,
	}
}

// RefreshResult summarises a provider list refresh.
type RefreshResult struct {
	ProviderIDs []string
	Previous    int
	// Backup is the path the previous file was copied to, or "" if there was
	// no previous file.
	Backup string
}

func (r *RefreshResult) Diff() int {
	return len(r.ProviderIDs) - r.Previous
}

// RefreshProviders rewrites the providers file from the users table, keeping a
// timestamped copy of the previous file.
func (s *Service) RefreshProviders(ctx context.Context) (*RefreshResult, error) {
	ids, err := s.repo.ProviderIDs(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}

	res := &RefreshResult{ProviderIDs: ids}
	if prev, err := s.LoadProviders(); err == nil {
		res.Previous = len(prev)
	} else if !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Msg("could not read previous provider list")
	}

	backup, err := jsonfile.Backup(s.files.Providers, s.now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not back up provider list")
	}
	res.Backup = backup

	if err := jsonfile.Write(s.files.Providers, ProviderList{ProviderIDs: ids}); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("providers", len(ids)).
		Int("previous", res.Previous).
		Int("diff", res.Diff()).
		Str("backup", backup).
		Msg("provider list refreshed")
	return res, nil
}

// ActiveProviders passes through to the repository for display.
func (s *Service) ActiveProviders(ctx context.Context, limit int) ([]Provider, error) {
	return s.repo.ActiveProviders(ctx, limit)
}

func (s *Service) LoadProviders() ([]string, error) {
	var pl ProviderList
	if err := jsonfile.Read(s.files.Providers, &pl); err != nil {
		return nil, err
	}
	return pl.ProviderIDs, nil
}

// BuildIndex queries each provider's patients. One provider's failure is
// logged and leaves it out of the index.
func (s *Service) BuildIndex(ctx context.Context, providerIDs []string) (Index, error) {
	idx := make(Index, len(providerIDs))
	for _, pid := range providerIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		patients, err := s.repo.PatientExternalIDs(ctx, pid)
		if err != nil {
			s.logger.Error().Err(err).Str("provider_id", pid).Msg("skipping provider")
			continue
		}
		idx[pid] = sortedUnique(patients)
	}
	return idx, nil
}

// Patients returns the sorted union of every provider's patients.
func (idx Index) Patients() []string {
	var all []string
	for _, ids := range idx {
		all = append(all, ids...)
	}
	return sortedUnique(all)
}

// RebuildPatientCache derives the patient-id cache and provider log from the
// providers file.
func (s *Service) RebuildPatientCache(ctx context.Context) (*PatientIDCache, error) {
	providers, err := s.LoadProviders()
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}

	idx, err := s.BuildIndex(ctx, providers)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	cache := &PatientIDCache{PatientIDs: idx.Patients(), GeneratedAt: now}
	if err := jsonfile.Write(s.files.PatientIDs, cache); err != nil {
		return nil, err
	}

	plog := make(ProviderLog, len(idx))
	for pid, ids := range idx {
		plog[pid] = ProviderLogEntry{PatientCount: len(ids), UpdatedAt: now}
	}
	if err := jsonfile.Write(s.files.ProviderLog, plog); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("providers", len(idx)).
		Int("patients", len(cache.PatientIDs)).
		Msg("patient index rebuilt")
	return cache, nil
}

// LoadPatientIDs reads the patient-id cache.
func (s *Service) LoadPatientIDs() ([]string, error) {
	var c PatientIDCache
	if err := jsonfile.Read(s.files.PatientIDs, &c); err != nil {
		return nil, err
	}
	return c.PatientIDs, nil
}

// Stats is what `info` prints.
type Stats struct {
	ProviderIDs []string
	// Log is nil when the provider log has not been generated yet.
	Log ProviderLog
	// UniquePatients is -1 when the patient-id cache is missing.
	UniquePatients int
}

// SortedLogIDs returns the provider log keys in order.
func (st *Stats) SortedLogIDs() []string {
	ids := make([]string, 0, len(st.Log))
	for id := range st.Log {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) Stats() (*Stats, error) {
	providers, err := s.LoadProviders()
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	st := &Stats{ProviderIDs: providers, UniquePatients: -1}

	var plog ProviderLog
	if err := jsonfile.Read(s.files.ProviderLog, &plog); err == nil {
		st.Log = plog
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if ids, err := s.LoadPatientIDs(); err == nil {
		st.UniquePatients = len(ids)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return st, nil
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
