// Package audit implements the apply engine's append-only audit trail:
// one JSON-lines file per workspace, durable across a process crash
// between apply start and commit via an fsync'd append after every
// write.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/forgeware/codeforge/internal/model"
)

// Log appends AuditEvents to a single file, serializing writes
// so the log is never interleaved even under concurrent transactions on
// disjoint URI sets.
type Log struct {
	mu   sync.Mutex
	path string
}

func Open(path string) *Log {
	return &Log{path: path}
}

// Append writes one event and fsyncs before returning, so the event is
// durable even if the process crashes immediately after.
func (l *Log) Append(evt model.AuditEvent) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadAll reads every well-formed event in the log. A truncated final line
// (e.g. from a crash mid-write) is skipped rather than treated as an error,
// readers tolerate truncation of the last entry.
func ReadAll(path string) ([]model.AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []model.AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt model.AuditEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			// Truncated or corrupt final line: stop reading rather than
			// erroring out the caller.
			break
		}
		events = append(events, evt)
	}
	return events, nil
}
