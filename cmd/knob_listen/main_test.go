package main

import (
	"strings"
	"testing"
)

func TestFormatFrame(t *testing.T) {
	tests := []struct {
		frame string
		want  string
	}{
		{`{"type":"button_pressed","ts":"2024-01-01T00:00:00Z","data":{"count":4,"edges":2}}`, "[PRESS] #4 (2 edges)"},
		{`{"type":"rotated_cw","ts":"2024-01-01T00:00:00Z","data":{"value":6,"delta":2,"fast":true}}`, "[CW] counter=6 delta=+2 fast"},
		{`{"type":"rotated_ccw","ts":"2024-01-01T00:00:00Z","data":{"value":-1,"delta":-3}}`, "[CCW] counter=-1 delta=-3"},
		{`{"type":"led_changed","ts":"2024-01-01T00:00:00Z","data":{"on":true}}`, `[led_changed] {"on":true}`},
		{`not json`, "[TEXT] not json"},
	}
	for _, tt := range tests {
		got := formatFrame([]byte(tt.frame))
		if !strings.HasSuffix(got, tt.want) {
			t.Errorf("formatFrame(%s) = %q, want suffix %q", tt.frame, got, tt.want)
		}
	}
}
