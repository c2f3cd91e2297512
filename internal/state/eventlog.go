package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Event is one line of the startup event log: a timestamped message the
// bootstrapper leaves for the application to surface on its next start.
type Event struct {
	TS      time.Time `json:"ts"`
	Message string    `json:"message"`
}

// EventLog appends newline-delimited JSON events to a single file. The file
// is read and deleted exactly once by ConsumeEvents, so history crosses the
// process boundary between bootstrapper and application without polling.
type EventLog struct {
	Path string
}

// Append records one event. Append failures are deliberately soft at call
// sites: a missed log line must never block a launch.
func (l EventLog) Append(message string) error {
	return l.AppendAt(time.Now().UTC(), message)
}

// AppendAt records an event with an explicit timestamp.
func (l EventLog) AppendAt(ts time.Time, message string) error {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return fmt.Errorf("create event log dir: %w", err)
	}
	raw, err := json.Marshal(Event{TS: ts, Message: message})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ConsumeEvents reads every pending event and deletes the log. A missing log
// yields an empty slice. Malformed lines are skipped rather than failing the
// whole read; the consumer would otherwise be wedged forever on one bad line.
func (l EventLog) ConsumeEvents() ([]Event, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return events, fmt.Errorf("read event log: %w", scanErr)
	}

	if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return events, fmt.Errorf("remove consumed event log: %w", err)
	}
	return events, nil
}
