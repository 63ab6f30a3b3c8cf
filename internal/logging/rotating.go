package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Level orders the severity prefixes log lines carry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

type targetMode int

const (
	targetFile targetMode = iota
	targetStderr
	targetStdout
	targetDiscard
)

// RotatingFile writes severity-prefixed log lines to one target. A file
// target keeps its handle open across writes, tracks its size in memory,
// and rotates to "<path>.O" once maxSize is exceeded, keeping a single
// backup. Lines below the minimum level are swallowed before they reach
// the target, so debug chatter costs nothing unless debug logging is on.
type RotatingFile struct {
	path    string
	maxSize int64
	mode    targetMode

	mu       sync.Mutex
	minLevel Level
	f        *os.File
	size     int64
}

func NewRotatingFile(path string, maxSize int64) *RotatingFile {
	r := &RotatingFile{path: strings.TrimSpace(path), maxSize: maxSize, minLevel: LevelInfo}
	switch strings.ToLower(r.path) {
	case "", "none", "off", "syslog":
		r.mode = targetDiscard
	case "stderr", "-":
		r.mode = targetStderr
	case "stdout":
		r.mode = targetStdout
	default:
		r.mode = targetFile
	}
	return r
}

func (r *RotatingFile) Enabled() bool {
	return r != nil && r.mode != targetDiscard
}

// SetMinLevel adjusts the severity floor; DEBUG lines only reach the
// target once the floor is lowered to LevelDebug.
func (r *RotatingFile) SetMinLevel(l Level) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.minLevel = l
	r.mu.Unlock()
}

func (r *RotatingFile) WriteLine(line string) error {
	if r == nil {
		return nil
	}
	_, err := r.Write([]byte(line + "\n"))
	return err
}

func (r *RotatingFile) Write(p []byte) (int, error) {
	if r == nil {
		return len(p), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if levelOf(p) < r.minLevel {
		return len(p), nil
	}
	switch r.mode {
	case targetDiscard:
		return len(p), nil
	case targetStderr:
		return os.Stderr.Write(p)
	case targetStdout:
		return os.Stdout.Write(p)
	}

	if err := r.open(); err != nil {
		return 0, err
	}
	if r.maxSize > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingFile) open() error {
	if r.f != nil {
		return nil
	}
	if dir := filepath.Dir(r.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if info, err := f.Stat(); err == nil {
		r.size = info.Size()
	}
	r.f = f
	return nil
}

// rotate closes the current file, moves it into the single ".O" backup
// slot, and reopens a fresh one. The notice goes straight to stderr:
// r.mu is held and the log package's output may be this very file.
func (r *RotatingFile) rotate() error {
	rotated := r.size
	_ = r.f.Close()
	r.f = nil
	r.size = 0
	oldPath := r.path + ".O"
	_ = os.Remove(oldPath)
	if err := os.Rename(r.path, oldPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s INFO: logging: rotated %s (%s) to %s\n",
		time.Now().Format(time.RFC3339), r.path, humanize.Bytes(uint64(rotated)), oldPath)
	return r.open()
}

// levelOf extracts the severity from a formatted log line. The standard
// log package stamps date/time first, so the prefix is searched within the
// first line rather than anchored. Unprefixed lines rank as INFO so they
// are never filtered by accident.
func levelOf(p []byte) Level {
	line := p
	if idx := bytes.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	s := string(line)
	switch {
	case strings.Contains(s, "DEBUG:"):
		return LevelDebug
	case strings.Contains(s, "WARN:"):
		return LevelWarn
	case strings.Contains(s, "ERROR:"):
		return LevelError
	default:
		return LevelInfo
	}
}

var _ io.Writer = (*RotatingFile)(nil)
