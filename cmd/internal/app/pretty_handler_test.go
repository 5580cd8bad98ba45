package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_Line(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.Debug("skipped")
	log.With("conn_id", "c1").Warn("ws.read.fail",
		"status", 503,
		"duration_ms", int64(12),
		"err", errors.New("boom now"),
	)

	line := strings.TrimSpace(buf.String())
	if strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	for _, want := range []string{
		"lvl=[WARN]",
		"msg=ws.read.fail",
		"conn_id=c1",
		"status=503",
		"duration=12ms",
		`err="boom now"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
}

func TestPrettyHandler_Groups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))
	log.WithGroup("bus").Info("bus.relay", slog.Group("msg", "room_id", "r1"))

	if !strings.Contains(buf.String(), "bus.msg.room_id=r1") {
		t.Fatalf("group prefix missing in %q", buf.String())
	}
}

func TestPrettyHandler_ColorIsStrippable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Info("presence.transition", "status", "online")

	out := buf.String()
	if !strings.Contains(out, ansiGreen+"online"+ansiReset) {
		t.Fatalf("expected colored status in %q", out)
	}
	if strings.Contains(stripANSI(out), "\x1b[") {
		t.Fatalf("stripANSI left escape codes in %q", out)
	}
}
