package migration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLog_FreshAndPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	first := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	l, err := LoadRunLog(path, first)
	require.NoError(t, err)
	l.Begin("run-a", first)
	l.AddPatient("p1", PatientRun{RunTime: first, NotesFound: 2, Success: true})
	l.MarkProcessed("n1", ProcessedNote{PatientID: 7, ExternalPatientID: "p1", CreatedAt: "2024-01-01T00:00:00Z", SQLGenerated: true})
	l.AddError(first, errors.New("boom"))
	require.NoError(t, l.Save())

	later := first.Add(24 * time.Hour)
	again, err := LoadRunLog(path, later)
	require.NoError(t, err)
	again.Begin("run-b", later)

	assert.True(t, again.Processed("n1"))
	assert.False(t, again.Processed("n2"))
	assert.Len(t, again.History("p1"), 1)
	assert.Len(t, again.Errors(), 1)
	assert.Equal(t, "run-b", again.RunID())
	assert.True(t, again.data.FirstRun.Equal(first), "first_run survives later runs")
}

func TestRunLog_CreatedAtMissing(t *testing.T) {
	l, err := LoadRunLog(filepath.Join(t.TempDir(), "results.json"), time.Now())
	require.NoError(t, err)
	l.MarkProcessed("n1", ProcessedNote{})

	_, ok := l.CreatedAt("n1")
	assert.False(t, ok)
	_, ok = l.CreatedAt("nope")
	assert.False(t, ok)
}

func TestRunLog_CorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadRunLog(path, time.Now())
	assert.Error(t, err)
}
