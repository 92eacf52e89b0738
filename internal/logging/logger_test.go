// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got '%s'", cfg.Format)
	}
	if cfg.Caller {
		t.Error("expected default caller to be false")
	}
	if !cfg.Timestamp {
		t.Error("expected default timestamp to be true")
	}
}

// resetAfter restores the default logger and global level once the test
// ends. Init mutates zerolog's process-global state, so any test calling
// it must clean up or later tests inherit its level and output.
func resetAfter(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		Init(DefaultConfig())
	})
}

func TestInit(t *testing.T) {
	resetAfter(t)
	var buf bytes.Buffer

	Init(Config{
		Level:     "debug",
		Format:    "json",
		Timestamp: true,
		Output:    &buf,
	})

	Info().Str("component", "queue").Msg("drain started")

	output := buf.String()
	if !strings.Contains(output, "drain started") {
		t.Errorf("expected output to contain message, got: %s", output)
	}
	if !strings.Contains(output, `"level":"info"`) {
		t.Errorf("expected output to contain level, got: %s", output)
	}
	if !strings.Contains(output, `"component":"queue"`) {
		t.Errorf("expected output to contain structured field, got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	resetAfter(t)
	var buf bytes.Buffer

	Init(Config{
		Level:  "warn",
		Format: "json",
		Output: &buf,
	})

	Debug().Msg("should be dropped")
	Info().Msg("should be dropped")
	Warn().Msg("should appear")

	output := buf.String()
	if strings.Contains(output, "dropped") {
		t.Errorf("expected debug/info to be filtered, got: %s", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("expected warn to pass the filter, got: %s", output)
	}
}

func TestNewTestLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewTestLogger(&buf)
	logger.Info().Msg("captured")

	if !strings.Contains(buf.String(), "captured") {
		t.Errorf("expected test logger to write to buffer, got: %s", buf.String())
	}
}

func TestGlobalLevelRestoredAfterInit(t *testing.T) {
	t.Run("raise global level", func(t *testing.T) {
		resetAfter(t)
		var discard bytes.Buffer
		Init(Config{Level: "error", Format: "json", Output: &discard})
	})

	// Once the subtest's cleanup ran, info-level logging works again.
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	logger.Info().Msg("captured after reset")

	if !strings.Contains(buf.String(), "captured after reset") {
		t.Errorf("global level leaked past cleanup, got: %s", buf.String())
	}
}
