package logtail

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Read returns at most maxLines from the end of the file at path, or every
// line when maxLines is not positive. A missing file yields no lines and no
// error.
func Read(path string, maxLines int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if maxLines <= 0 {
		var all []string
		for scanner.Scan() {
			all = append(all, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		return all, nil
	}

	ring := make([]string, maxLines)
	count := 0
	idx := 0
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := make([]string, count)
	if count == maxLines {
		for i := range count {
			lines[i] = ring[(idx+i)%maxLines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}

// Record is one decoded JSON log line.
type Record struct {
	Time    time.Time
	Level   string
	Logger  string
	Message string
	Fields  map[string]any
}

// Parse decodes a JSON log line. Lines that are not JSON objects, or lack a
// message, are rejected.
func Parse(line string) (Record, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Record{}, false
	}
	msg, _ := raw["msg"].(string)
	if msg == "" {
		return Record{}, false
	}
	rec := Record{Message: msg, Fields: make(map[string]any)}
	rec.Level, _ = raw["level"].(string)
	rec.Logger, _ = raw["logger"].(string)
	switch ts := raw["ts"].(type) {
	case string:
		rec.Time, _ = time.Parse(time.RFC3339Nano, ts)
	case float64:
		sec := int64(ts)
		rec.Time = time.Unix(sec, int64((ts-float64(sec))*1e9))
	}
	for k, v := range raw {
		switch k {
		case "msg", "level", "logger", "ts", "caller":
			continue
		}
		rec.Fields[k] = v
	}
	return rec, true
}

var levelStyles = map[string]lipgloss.Style{
	"debug": lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")),
	"info":  lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")).Bold(true),
	"warn":  lipgloss.NewStyle().Foreground(lipgloss.Color("#F1FA8C")).Bold(true),
	"error": lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true),
}

var (
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	loggerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6495ED"))
)

// Format renders a log line for a terminal: time, level, logger, message,
// then fields sorted by key. Lines that do not parse are returned as is.
func Format(line string, styled bool) string {
	rec, ok := Parse(line)
	if !ok {
		return line
	}

	paint := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder
	if !rec.Time.IsZero() {
		b.WriteString(paint(timeStyle, rec.Time.Local().Format("2006-01-02 15:04:05")))
		b.WriteByte(' ')
	}
	level := strings.ToUpper(rec.Level)
	if level == "" {
		level = "-"
	}
	b.WriteString(paint(levelStyles[strings.ToLower(rec.Level)], fmt.Sprintf("%-5s", level)))
	if rec.Logger != "" {
		b.WriteByte(' ')
		b.WriteString(paint(loggerStyle, "["+rec.Logger+"]"))
	}
	b.WriteByte(' ')
	b.WriteString(rec.Message)

	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, rec.Fields[k])
	}
	return b.String()
}
