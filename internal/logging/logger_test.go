package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func Test_ParseLevel_Cases(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func Test_New_BuildsLogger(t *testing.T) {
	for _, level := range []string{"debug", "warn"} {
		l, err := New(level)
		if err != nil {
			t.Fatalf("New(%q) error: %v", level, err)
		}
		if l == nil {
			t.Fatalf("New(%q) returned nil logger", level)
		}
	}
}

func Test_OrNop_NilSafe(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}
