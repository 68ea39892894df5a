package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "logs", "pagewatch.log")
	defer slog.SetDefault(slog.Default())

	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}
	shots := filepath.Join(dir, "shots")

	tests := []struct {
		name   string
		config string
		want   int
	}{
		{"missing file", filepath.Join(dir, "absent.json"), 2},
		{"invalid document", write("bad.json", `{"websites": [`), 2},
		{"invalid field", write("field.json", `{"websites": [{"name": "", "url": "https://a.test", "enabled": true}]}`), 2},
		{"no enabled targets", write("off.json", `{"websites": [{"name": "Off", "url": "https://a.test"}], "settings": {"screenshotDirectory": "`+shots+`"}}`), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PAGEWATCH_CONFIG", tt.config)
			t.Setenv("PAGEWATCH_LOG_FILE", logFile)
			if got := run(); got != tt.want {
				t.Fatalf("run() = %d; want %d", got, tt.want)
			}
		})
	}
	if _, err := os.Stat(logFile); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}
