package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/pagewatch/internal/events"
)

func readEvents(t *testing.T, path string) []events.Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("os.Open() failed: %v", err)
	}
	defer f.Close()

	var out []events.Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev events.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("json.Unmarshal(%q) failed: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestEventLogWritesLinesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	w, err := NewEventLog(path, 16, 1, nil)
	if err != nil {
		t.Fatalf("NewEventLog() error = %v", err)
	}

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	w.Emit(context.Background(), events.Event{Kind: events.KindCapture, Time: at, Target: "a", FilePath: "/tmp/a.png"})
	w.Emit(context.Background(), events.Event{Kind: events.KindChange, Time: at, Target: "a", Digest: "ff", Previous: "00"})
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := readEvents(t, path)
	if len(got) != 2 {
		t.Fatalf("events = %d; want 2", len(got))
	}
	if got[0].Kind != events.KindCapture || got[0].FilePath != "/tmp/a.png" {
		t.Fatalf("first event = %+v", got[0])
	}
	if got[1].Kind != events.KindChange || got[1].Previous != "00" {
		t.Fatalf("second event = %+v", got[1])
	}
}

func TestEventLogEmitAfterCloseIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	w, err := NewEventLog(path, 4, 1, nil)
	if err != nil {
		t.Fatalf("NewEventLog() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	w.Emit(context.Background(), events.Event{Kind: events.KindCapture})

	if _, err := os.Stat(path); err == nil {
		if got := readEvents(t, path); len(got) != 0 {
			t.Fatalf("events after close = %+v", got)
		}
	}
}
