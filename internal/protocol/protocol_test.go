package protocol

import (
	"testing"
)

func TestStepRoundTrip(t *testing.T) {
	line := FormatStep(2, 5, "upgrading packaging tooling")
	if line != "STEP:2/5:upgrading packaging tooling" {
		t.Fatalf("FormatStep = %q", line)
	}
	ev, ok := ParseLine(line).(Step)
	if !ok {
		t.Fatalf("ParseLine returned %T, want Step", ParseLine(line))
	}
	if ev.N != 2 || ev.Total != 5 || ev.Message != "upgrading packaging tooling" {
		t.Fatalf("parsed step = %+v", ev)
	}
}

func TestStepMessageMayContainColons(t *testing.T) {
	ev, ok := ParseLine("STEP:1/5:extracting: phase one").(Step)
	if !ok {
		t.Fatal("expected Step")
	}
	if ev.Message != "extracting: phase one" {
		t.Fatalf("message = %q", ev.Message)
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	line := FormatDownload(1048576, 4194304, 25.0)
	ev, ok := ParseLine(line).(Download)
	if !ok {
		t.Fatalf("ParseLine returned %T, want Download", ParseLine(line))
	}
	if ev.Done != 1048576 || ev.Total != 4194304 || ev.Percent != 25.0 {
		t.Fatalf("parsed download = %+v", ev)
	}
}

func TestFileStartRoundTrip(t *testing.T) {
	line := FormatFileStart(FileStart{Index: 1, TotalFiles: 3, File: "model.safetensors", Size: 1200})
	ev, ok := ParseLine(line).(FileStart)
	if !ok {
		t.Fatalf("ParseLine returned %T, want FileStart", ParseLine(line))
	}
	if ev.File != "model.safetensors" || ev.TotalFiles != 3 {
		t.Fatalf("parsed file start = %+v", ev)
	}
}

func TestFileProgressRoundTrip(t *testing.T) {
	line := FormatFileProgress(FileProgress{Index: 2, TotalFiles: 3, File: "config.json", Done: 512, Total: 1024, Pct: 50})
	ev, ok := ParseLine(line).(FileProgress)
	if !ok {
		t.Fatalf("ParseLine returned %T, want FileProgress", ParseLine(line))
	}
	if ev.Done != 512 || ev.Pct != 50 {
		t.Fatalf("parsed file progress = %+v", ev)
	}
}

func TestFileHeartbeatRoundTrip(t *testing.T) {
	line := FormatFileHeartbeat(FileHeartbeat{Index: 1, TotalFiles: 3, File: "model.safetensors", Elapsed: 4.5, Total: 9000})
	ev, ok := ParseLine(line).(FileHeartbeat)
	if !ok {
		t.Fatalf("ParseLine returned %T, want FileHeartbeat", ParseLine(line))
	}
	if ev.Elapsed != 4.5 || ev.Total != 9000 {
		t.Fatalf("parsed heartbeat = %+v", ev)
	}
}

func TestUnknownAndMalformedLinesArePlain(t *testing.T) {
	cases := []string{
		"Collecting numpy",
		"STEP:not-a-fraction",
		"STEP:2/x:msg",
		"DOWNLOAD:12:34",
		"FILE_START:{broken json",
		"",
	}
	for _, line := range cases {
		if _, ok := ParseLine(line).(Plain); !ok {
			t.Fatalf("ParseLine(%q) = %T, want Plain", line, ParseLine(line))
		}
	}
}

func TestParseStripsTrailingNewline(t *testing.T) {
	ev, ok := ParseLine("STEP:1/2:hello\r\n").(Step)
	if !ok || ev.Message != "hello" {
		t.Fatalf("parse with CRLF failed: %v %v", ev, ok)
	}
}
