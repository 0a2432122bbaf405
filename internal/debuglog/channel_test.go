package debuglog

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestChannelDisabledByDefault(t *testing.T) {
	var buf bytes.Buffer
	ch := New(&buf)

	ch.Printf("hidden %d", 1)
	ch.Logger().Debug("hidden too")

	if buf.Len() != 0 {
		t.Errorf("Disabled channel wrote %q", buf.String())
	}
	if ch.Enabled() {
		t.Error("Channel should start disabled")
	}
}

func TestChannelLineFormat(t *testing.T) {
	var buf bytes.Buffer
	ch := New(&buf)
	ch.SetEnabled(true)

	ch.Printf("Parse operation started (length=%s)", FormatBytes(2048))

	line := strings.TrimSpace(buf.String())
	pattern := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}\] \[HtmlLayoutParser\] Parse operation started \(length=2\.00KB\)$`)
	if !pattern.MatchString(line) {
		t.Errorf("Unexpected line format: %q", line)
	}
}

func TestChannelToggle(t *testing.T) {
	var buf bytes.Buffer
	ch := New(&buf)

	ch.SetEnabled(true)
	ch.Printf("one")
	ch.SetEnabled(false)
	ch.Printf("two")

	out := buf.String()
	if !strings.Contains(out, "one") || strings.Contains(out, "two") {
		t.Errorf("Toggle not honored: %q", out)
	}
}

func TestNop(t *testing.T) {
	ch := Nop()
	ch.SetEnabled(true)
	ch.Printf("nothing")
	if !ch.Enabled() {
		t.Error("Nop channel should still track its level")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1.00KB"},
		{1536, "1.50KB"},
		{5 * 1024 * 1024, "5.00MB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := FormatDuration(1500 * time.Microsecond); got != "1.50ms" {
		t.Errorf("FormatDuration(1.5ms) = %s", got)
	}
	if got := FormatDuration(2500 * time.Millisecond); got != "2.50s" {
		t.Errorf("FormatDuration(2.5s) = %s", got)
	}
}
