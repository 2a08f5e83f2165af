package logtail

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestRead(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "mirror.log")

	var content strings.Builder
	var expectedAll []string
	for i := 1; i <= 10; i++ {
		line := fmt.Sprintf("Line %d", i)
		content.WriteString(line + "\n")
		expectedAll = append(expectedAll, line)
	}
	if err := os.WriteFile(logPath, []byte(content.String()), 0o644); err != nil {
		t.Fatalf("failed to create test log file: %v", err)
	}

	tests := []struct {
		name     string
		maxLines int
		expected []string
	}{
		{"read all (0)", 0, expectedAll},
		{"read all (negative)", -1, expectedAll},
		{"read partial (5)", 5, expectedAll[5:]},
		{"read exactly all (10)", 10, expectedAll},
		{"read more than exists (20)", 20, expectedAll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Read(logPath, tt.maxLines)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Read() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRead_MissingFile(t *testing.T) {
	got, err := Read(filepath.Join(t.TempDir(), "nope.log"), 10)
	if err != nil || got != nil {
		t.Fatalf("Read(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestParse(t *testing.T) {
	line := `{"level":"warn","ts":"2026-10-08T21:01:05.5Z","logger":"mirror.syncer","caller":"syncer/coordinator.go:1","msg":"refresh failed","path":"alice","error":"fetch_error"}`
	rec, ok := Parse(line)
	if !ok {
		t.Fatalf("Parse rejected a zap line")
	}
	if rec.Level != "warn" || rec.Logger != "mirror.syncer" || rec.Message != "refresh failed" {
		t.Fatalf("Parse = %+v", rec)
	}
	want := time.Date(2026, 10, 8, 21, 1, 5, 500_000_000, time.UTC)
	if !rec.Time.Equal(want) {
		t.Fatalf("Time = %v, want %v", rec.Time, want)
	}
	if _, ok := rec.Fields["caller"]; ok {
		t.Fatalf("caller should not be kept as a field")
	}
	if rec.Fields["path"] != "alice" {
		t.Fatalf("Fields = %#v", rec.Fields)
	}

	epoch, ok := Parse(`{"level":"info","ts":1700000000.25,"msg":"x"}`)
	if !ok || epoch.Time.Unix() != 1700000000 {
		t.Fatalf("epoch ts = %v, %v", epoch.Time, ok)
	}

	for _, bad := range []string{"", "plain text", `{"level":"info"}`, `[1,2]`} {
		if _, ok := Parse(bad); ok {
			t.Errorf("Parse(%q) accepted", bad)
		}
	}
}

func TestFormat(t *testing.T) {
	line := `{"level":"info","logger":"mirror.push","msg":"push channel connected","url":"ws://h/api/v1/websocket","subscriptions":2}`
	got := Format(line, false)
	want := "INFO  [mirror.push] push channel connected subscriptions=2 url=ws://h/api/v1/websocket"
	if got != want {
		t.Fatalf("Format() = %q, want %q", got, want)
	}

	if got := Format("not json at all", true); got != "not json at all" {
		t.Fatalf("Format passthrough = %q", got)
	}

	styled := Format(line, true)
	if !strings.Contains(styled, "push channel connected") {
		t.Fatalf("styled Format lost the message: %q", styled)
	}
}
