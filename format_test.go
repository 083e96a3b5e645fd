package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestFormatTime_Never(t *testing.T) {
	if got := formatTime(time.Time{}); got != "never" {
		t.Errorf("formatTime(zero) = %q, want never", got)
	}
}

func TestFormatTime_OldYearShowsYear(t *testing.T) {
	old := time.Date(2019, 3, 5, 10, 0, 0, 0, time.UTC)

	got := formatTime(old)
	if !strings.Contains(got, "2019") {
		t.Errorf("formatTime(%v) = %q, want the year shown", old, got)
	}
}

func TestPrintTable_Alignment(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"KEY", "VALUE"}, [][]string{
		{"a", "1"},
		{"longer-key", "2"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	// All value columns start at the same offset.
	idx := strings.Index(lines[0], "VALUE")
	if strings.Index(lines[1], "1") != idx || strings.Index(lines[2], "2") != idx {
		t.Errorf("columns misaligned:\n%s", buf.String())
	}
}
