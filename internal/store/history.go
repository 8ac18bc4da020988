package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxHistoryLines bounds how many lines a single read loads into
// memory (SPEC_FULL.md §4.8).
const MaxHistoryLines = 1024

// MaxHistoryBytes bounds the size of a GET_HISTORY response payload
// (SPEC_FULL.md §4.4): any line that would overflow the cap is
// dropped, not truncated.
const MaxHistoryBytes = 8192

// HistoryStore manages append-only per-conversation log files under
// root/history.
type HistoryStore struct {
	dir string
}

// NewHistoryStore returns a HistoryStore rooted at root/history,
// creating the directory if necessary.
func NewHistoryStore(root string) (*HistoryStore, error) {
	dir := filepath.Join(root, "history")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create history dir: %w", err)
	}
	return &HistoryStore{dir: dir}, nil
}

// DirectFileName returns the history file name for a direct-message
// pair: the lexicographic concatenation min(a,b)_max(a,b), ensuring
// both directions share one log regardless of sender/recipient order.
func DirectFileName(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// FormatLine renders one history line:
// "YYYY-MM-DD HH:MM:SS <sender_login> sender_display : message\n".
func FormatLine(now time.Time, senderLogin, senderDisplay, message string) string {
	return fmt.Sprintf("%s <%s> %s : %s\n", now.Format("2006-01-02 15:04:05"), senderLogin, senderDisplay, message)
}

func (s *HistoryStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// AppendDirect appends one line to the direct history file for
// login pair (a, b).
func (s *HistoryStore) AppendDirect(a, b, line string) error {
	return s.append(DirectFileName(a, b), line)
}

// AppendGroup appends one line to the group history file for name.
func (s *HistoryStore) AppendGroup(name, line string) error {
	return s.append(name, line)
}

func (s *HistoryStore) append(fileName, line string) error {
	f, err := os.OpenFile(s.path(fileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("store: open history %q: %w", fileName, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("store: append history %q: %w", fileName, err)
	}
	return nil
}

// ReadDirect reads the direct history for pair (a, b), per ReadFile's
// line/byte caps.
func (s *HistoryStore) ReadDirect(a, b string, maxLines uint16) ([]byte, error) {
	return s.ReadFile(DirectFileName(a, b), maxLines)
}

// ReadGroup reads the group history for name, per ReadFile's
// line/byte caps.
func (s *HistoryStore) ReadGroup(name string, maxLines uint16) ([]byte, error) {
	return s.ReadFile(name, maxLines)
}

// ReadFile loads the named history file (at most MaxHistoryLines
// lines), keeps only the last maxLines of them if maxLines > 0, and
// concatenates the result subject to a MaxHistoryBytes cap: any line
// that would push the payload past the cap is dropped, not truncated.
func (s *HistoryStore) ReadFile(fileName string, maxLines uint16) ([]byte, error) {
	f, err := os.Open(s.path(fileName))
	if err != nil {
		return nil, fmt.Errorf("store: open history %q: %w", fileName, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > MaxHistoryLines {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: scan history %q: %w", fileName, err)
	}

	if maxLines > 0 && int(maxLines) < len(lines) {
		lines = lines[len(lines)-int(maxLines):]
	}

	var b strings.Builder
	for _, line := range lines {
		rendered := line + "\n"
		if b.Len()+len(rendered) > MaxHistoryBytes {
			continue
		}
		b.WriteString(rendered)
	}
	return []byte(b.String()), nil
}
