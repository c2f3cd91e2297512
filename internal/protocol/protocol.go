// Package protocol defines the line-oriented stdout protocol between the
// bootstrapper and its installer child process. The child emits one line per
// event; the parent parses lines back into typed events. Lines that match no
// known prefix are passed through as plain output.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	prefixStep          = "STEP:"
	prefixDownload      = "DOWNLOAD:"
	prefixFileStart     = "FILE_START:"
	prefixFileProgress  = "FILE_PROGRESS:"
	prefixFileHeartbeat = "FILE_HEARTBEAT:"
)

// Step is coarse sub-step progress: "STEP:<n>/<total>:<message>".
type Step struct {
	N       int
	Total   int
	Message string
}

// Download is aggregate asset progress: "DOWNLOAD:<done>/<total>:<percent>".
type Download struct {
	Done    int64
	Total   int64
	Percent float64
}

// FileStart announces one asset file before its first byte arrives.
type FileStart struct {
	Index      int    `json:"index"`
	TotalFiles int    `json:"total_files"`
	File       string `json:"file"`
	Size       int64  `json:"size"`
}

// FileProgress reports byte progress for one asset file.
type FileProgress struct {
	Index      int     `json:"index"`
	TotalFiles int     `json:"total_files"`
	File       string  `json:"file"`
	Done       int64   `json:"done"`
	Total      int64   `json:"total"`
	Pct        float64 `json:"pct"`
}

// FileHeartbeat is emitted while a transfer shows no byte progress yet, so
// the parent can render a "connecting" state during slow TLS negotiation.
type FileHeartbeat struct {
	Index      int     `json:"index"`
	TotalFiles int     `json:"total_files"`
	File       string  `json:"file"`
	Elapsed    float64 `json:"elapsed"`
	Size       int64   `json:"size"`
	Done       int64   `json:"done"`
	Total      int64   `json:"total"`
}

// Plain is any stdout line that matched no protocol prefix.
type Plain struct {
	Line string
}

// Event is one parsed protocol line: exactly one of the typed events.
type Event interface{ isEvent() }

func (Step) isEvent()          {}
func (Download) isEvent()      {}
func (FileStart) isEvent()     {}
func (FileProgress) isEvent()  {}
func (FileHeartbeat) isEvent() {}
func (Plain) isEvent()         {}

// FormatStep renders a step line for the child to emit.
func FormatStep(n, total int, message string) string {
	return fmt.Sprintf("%s%d/%d:%s", prefixStep, n, total, message)
}

// FormatDownload renders an aggregate download line.
func FormatDownload(done, total int64, percent float64) string {
	return fmt.Sprintf("%s%d/%d:%.1f", prefixDownload, done, total, percent)
}

// FormatFileStart renders a FILE_START line.
func FormatFileStart(ev FileStart) string {
	return prefixFileStart + mustJSON(ev)
}

// FormatFileProgress renders a FILE_PROGRESS line.
func FormatFileProgress(ev FileProgress) string {
	return prefixFileProgress + mustJSON(ev)
}

// FormatFileHeartbeat renders a FILE_HEARTBEAT line. Elapsed is truncated to
// whole seconds of precision in the payload.
func FormatFileHeartbeat(ev FileHeartbeat) string {
	return prefixFileHeartbeat + mustJSON(ev)
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// All payload types are plain structs of scalars; marshal cannot
		// fail for them.
		panic(err)
	}
	return string(raw)
}

// HeartbeatElapsed converts a duration to the protocol's elapsed field.
func HeartbeatElapsed(d time.Duration) float64 {
	return d.Seconds()
}

// ParseLine turns one stdout line into an Event. Unrecognized or malformed
// lines come back as Plain so the parent still records them verbatim.
func ParseLine(line string) Event {
	trimmed := strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(trimmed, prefixStep):
		if ev, ok := parseStep(strings.TrimPrefix(trimmed, prefixStep)); ok {
			return ev
		}
	case strings.HasPrefix(trimmed, prefixDownload):
		if ev, ok := parseDownload(strings.TrimPrefix(trimmed, prefixDownload)); ok {
			return ev
		}
	case strings.HasPrefix(trimmed, prefixFileStart):
		var ev FileStart
		if json.Unmarshal([]byte(strings.TrimPrefix(trimmed, prefixFileStart)), &ev) == nil {
			return ev
		}
	case strings.HasPrefix(trimmed, prefixFileProgress):
		var ev FileProgress
		if json.Unmarshal([]byte(strings.TrimPrefix(trimmed, prefixFileProgress)), &ev) == nil {
			return ev
		}
	case strings.HasPrefix(trimmed, prefixFileHeartbeat):
		var ev FileHeartbeat
		if json.Unmarshal([]byte(strings.TrimPrefix(trimmed, prefixFileHeartbeat)), &ev) == nil {
			return ev
		}
	}
	return Plain{Line: trimmed}
}

func parseStep(rest string) (Step, bool) {
	frac, message, ok := strings.Cut(rest, ":")
	if !ok {
		return Step{}, false
	}
	nStr, totalStr, ok := strings.Cut(frac, "/")
	if !ok {
		return Step{}, false
	}
	n, err := strconv.Atoi(nStr)
	if err != nil {
		return Step{}, false
	}
	total, err := strconv.Atoi(totalStr)
	if err != nil {
		return Step{}, false
	}
	return Step{N: n, Total: total, Message: message}, true
}

func parseDownload(rest string) (Download, bool) {
	frac, pctStr, ok := strings.Cut(rest, ":")
	if !ok {
		return Download{}, false
	}
	doneStr, totalStr, ok := strings.Cut(frac, "/")
	if !ok {
		return Download{}, false
	}
	done, err := strconv.ParseInt(doneStr, 10, 64)
	if err != nil {
		return Download{}, false
	}
	total, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil {
		return Download{}, false
	}
	pct, err := strconv.ParseFloat(pctStr, 64)
	if err != nil {
		return Download{}, false
	}
	return Download{Done: done, Total: total, Percent: pct}, true
}
