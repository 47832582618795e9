package roster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/notemigrate/internal/platform/jsonfile"
)

// ---------------------------------------------------------------------------
// Mock repository
// ---------------------------------------------------------------------------

type mockRepo struct {
	providers []string
	details   []Provider
	patients  map[string][]string
	failFor   map[string]bool
	err       error
}

func (m *mockRepo) ProviderIDs(context.Context) ([]string, error) {
	return m.providers, m.err
}

func (m *mockRepo) ActiveProviders(_ context.Context, limit int) ([]Provider, error) {
	if limit < len(m.details) {
		return m.details[:limit], m.err
	}
	return m.details, m.err
}

func (m *mockRepo) PatientExternalIDs(_ context.Context, pid string) ([]string, error) {
	if m.failFor[pid] {
		return nil, errors.New("query failed")
	}
	return m.patients[pid], nil
}

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, repo Repository) (*Service, Files) {
	t.Helper()
	dir := t.TempDir()
	files := Files{
		Providers:   filepath.Join(dir, "providers.json"),
		PatientIDs:  filepath.Join(dir, "config.json"),
		ProviderLog: filepath.Join(dir, "provider-logs.json"),
	}
	s := NewService(repo, files, zerolog.Nop())
	s.now = func() time.Time { return fixedNow }
	return s, files
}

// ---------------------------------------------------------------------------
// Providers
// ---------------------------------------------------------------------------

func TestRefreshProviders_FirstRun(t *testing.T) {
	s, files := newTestService(t, &mockRepo{providers: []string{"3", "8"}})

	res, err := s.RefreshProviders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "8"}, res.ProviderIDs)
	assert.Equal(t, 0, res.Previous)
	assert.Empty(t, res.Backup)
	assert.Equal(t, 2, res.Diff())

	got, err := s.LoadProviders()
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "8"}, got)
	assert.FileExists(t, files.Providers)
}

func TestRefreshProviders_BacksUpPrevious(t *testing.T) {
	s, files := newTestService(t, &mockRepo{providers: []string{"1"}})
	require.NoError(t, os.WriteFile(files.Providers, []byte(`{"provider_ids": [1, "2", 3]}`), 0o600))

	res, err := s.RefreshProviders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Previous)
	assert.Equal(t, -2, res.Diff())
	assert.Equal(t, filepath.Join(filepath.Dir(files.Providers), "providers_backup_20240601093000.json"), res.Backup)

	var backup ProviderList
	require.NoError(t, jsonfile.Read(res.Backup, &backup))
	assert.Equal(t, IDList{"1", "2", "3"}, backup.ProviderIDs)
}

func TestRefreshProviders_RepoError(t *testing.T) {
	s, files := newTestService(t, &mockRepo{err: errors.New("db down")})
	_, err := s.RefreshProviders(context.Background())
	require.Error(t, err)
	assert.NoFileExists(t, files.Providers)
}

func TestActiveProviders(t *testing.T) {
	repo := &mockRepo{details: []Provider{
		{ID: 1, FirstName: "Ada", LastName: "Lovelace"},
		{ID: 2, LastName: "Curie"},
	}}
	s, _ := newTestService(t, repo)

	got, err := s.ActiveProviders(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ada Lovelace", got[0].Name())
	assert.Equal(t, "Curie", repo.details[1].Name())
}

// ---------------------------------------------------------------------------
// Index
// ---------------------------------------------------------------------------

func TestBuildIndex_SortedDistinct(t *testing.T) {
	repo := &mockRepo{
		patients: map[string][]string{
			"1": {"p9", "p2", "p2", ""},
			"2": {"p2", "p5"},
			"3": {"never"},
		},
		failFor: map[string]bool{"3": true},
	}
	s, _ := newTestService(t, repo)

	idx, err := s.BuildIndex(context.Background(), []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p9"}, idx["1"])
	assert.Equal(t, []string{"p2", "p5"}, idx["2"])
	_, present := idx["3"]
	assert.False(t, present, "failed provider must be left out")
	assert.Equal(t, []string{"p2", "p5", "p9"}, idx.Patients())
}

func TestBuildIndex_Cancelled(t *testing.T) {
	s, _ := newTestService(t, &mockRepo{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.BuildIndex(ctx, []string{"1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRebuildPatientCache(t *testing.T) {
	repo := &mockRepo{
		providers: []string{"1", "2"},
		patients: map[string][]string{
			"1": {"b", "a"},
			"2": {"a", "c"},
		},
	}
	s, files := newTestService(t, repo)
	_, err := s.RefreshProviders(context.Background())
	require.NoError(t, err)

	cache, err := s.RebuildPatientCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IDList{"a", "b", "c"}, cache.PatientIDs)
	assert.True(t, cache.GeneratedAt.Equal(fixedNow))

	ids, err := s.LoadPatientIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	var plog ProviderLog
	require.NoError(t, jsonfile.Read(files.ProviderLog, &plog))
	assert.Equal(t, 2, plog["1"].PatientCount)
	assert.Equal(t, 2, plog["2"].PatientCount)
}

func TestRebuildPatientCache_NoProviders(t *testing.T) {
	s, _ := newTestService(t, &mockRepo{})
	_, err := s.RebuildPatientCache(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestStats_ProvidersOnly(t *testing.T) {
	s, _ := newTestService(t, &mockRepo{providers: []string{"4"}})
	_, err := s.RefreshProviders(context.Background())
	require.NoError(t, err)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, st.ProviderIDs)
	assert.Nil(t, st.Log)
	assert.Equal(t, -1, st.UniquePatients)
}

func TestStats_Full(t *testing.T) {
	repo := &mockRepo{
		providers: []string{"2", "1"},
		patients:  map[string][]string{"1": {"x"}, "2": {"x", "y"}},
	}
	s, _ := newTestService(t, repo)
	_, err := s.RefreshProviders(context.Background())
	require.NoError(t, err)
	_, err = s.RebuildPatientCache(context.Background())
	require.NoError(t, err)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, st.SortedLogIDs())
	assert.Equal(t, 2, st.UniquePatients)
}

func TestStats_MissingProviders(t *testing.T) {
	s, _ := newTestService(t, &mockRepo{})
	_, err := s.Stats()
	assert.ErrorIs(t, err, os.ErrNotExist)
}
