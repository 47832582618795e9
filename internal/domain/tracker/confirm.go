package tracker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotConfirmed is returned when a destructive operation was not confirmed.
var ErrNotConfirmed = errors.New("operation not confirmed")

// Confirmer asks the operator a question and returns the raw answer.
type Confirmer interface {
	Confirm(prompt string) (string, error)
}

// LineConfirmer reads one line per prompt. Answers are compared exactly;
// only the line terminator is stripped.
type LineConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func NewLineConfirmer(in io.Reader, out io.Writer) *LineConfirmer {
	return &LineConfirmer{in: bufio.NewReader(in), out: out}
}

func (c *LineConfirmer) Confirm(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read confirmation: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// StaticConfirmer answers prompts from a fixed list, for scripted runs.
type StaticConfirmer []string

func (s *StaticConfirmer) Confirm(string) (string, error) {
	if len(*s) == 0 {
		return "", io.EOF
	}
	ans := (*s)[0]
	*s = (*s)[1:]
	return ans, nil
}
