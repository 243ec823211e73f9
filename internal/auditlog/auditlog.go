// Package auditlog persists every decoded uplink to a JSON array file.
package auditlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/lorawan-server/udp-ingest/internal/models"
)

// DefaultFile is the audit log file name used when none is configured.
const DefaultFile = "udp_listener_log.json"

// FileLog appends entries to a JSON array document. Each append rewrites
// the file through a temporary file and rename, so readers never see a
// half written array.
type FileLog struct {
	mu   sync.Mutex
	path string
}

// Open creates the file with an empty array if it does not exist.
func Open(path string) (*FileLog, error) {
	if path == "" {
		path = DefaultFile
	}

	l := &FileLog{path: path}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := l.write([]json.RawMessage{}); err != nil {
			return nil, fmt.Errorf("init audit log: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat audit log: %w", err)
	}

	return l, nil
}

// Path returns the file path.
func (l *FileLog) Path() string {
	return l.path
}

// Append adds entry to the end of the array.
func (l *FileLog) Append(entry models.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}

	return l.write(append(entries, raw))
}

// Recent returns up to n of the newest entries, oldest first. n <= 0
// returns everything.
func (l *FileLog) Recent(n int) ([]models.AuditEntry, error) {
	l.mu.Lock()
	raw, err := l.read()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if n > 0 && len(raw) > n {
		raw = raw[len(raw)-n:]
	}

	entries := make([]models.AuditEntry, 0, len(raw))
	for _, r := range raw {
		var e models.AuditEntry
		if err := json.Unmarshal(r, &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func (l *FileLog) read() ([]json.RawMessage, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse audit log: %w", err)
	}

	return entries, nil
}

func (l *FileLog) write(entries []json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".audit-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace audit log: %w", err)
	}

	return nil
}
