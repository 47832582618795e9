package notes

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const scriptTitle = "-- Encounter Notes SQL Import"

var commentLine = regexp.MustCompile(`^-- note_id: (.*), patient_id: (-?\d+)$`)

// ScriptWriter writes statements to the SQL script file, each preceded by its
// traceability comment. It is not safe for concurrent use; callers serialize
// writes so the file keeps submission order.
type ScriptWriter struct {
	path string
	now  func() time.Time
}

func NewScriptWriter(path string) *ScriptWriter {
	return &ScriptWriter{path: path, now: time.Now}
}

func (w *ScriptWriter) Path() string { return w.path }

// Write appends stmts to the script. With truncate set the file is emptied
// first and a fresh header written.
func (w *ScriptWriter) Write(stmts []*Statement, truncate bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	f, err := os.OpenFile(w.path, flags, 0o644) //nolint:gosec // operator-configured path
	if err != nil {
		return fmt.Errorf("open script %s: %w", w.path, err)
	}

	bw := bufio.NewWriter(f)
	if truncate {
		fmt.Fprintf(bw, "%s\n-- Generated at: %s\n\n", scriptTitle, w.now().Format(time.RFC3339))
	}
	for _, s := range stmts {
		fmt.Fprintf(bw, "%s\n%s\n\n", s.Comment(), s.Render())
	}

	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write script %s: %w", w.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close script %s: %w", w.path, err)
	}
	return nil
}

// ScriptEntry is one executable statement read back from a script.
type ScriptEntry struct {
	NoteID    string
	PatientID int64
	SQL       string
}

// ParseScript reads the comment/statement pairs written by ScriptWriter.
// Other comment lines are ignored. A statement with no traceability comment
// is returned with an empty NoteID.
func ParseScript(r io.Reader) ([]ScriptEntry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var (
		entries []ScriptEntry
		pending *ScriptEntry
		line    int
	)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "--") {
			m := commentLine.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			pid, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: patient id: %w", line, err)
			}
			pending = &ScriptEntry{NoteID: m[1], PatientID: pid}
			continue
		}

		entry := ScriptEntry{SQL: Terminate(text)}
		if pending != nil {
			entry.NoteID = pending.NoteID
			entry.PatientID = pending.PatientID
			pending = nil
		}
		entries = append(entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan script: %w", err)
	}
	return entries, nil
}

// ReadScript opens and parses the script at path.
func ReadScript(path string) ([]ScriptEntry, error) {
	f, err := os.Open(path) //nolint:gosec // operator-configured path
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return ParseScript(f)
}
