package config

import (
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "300", want: 300 * time.Second},
		{in: "15m", want: 15 * time.Minute},
		{in: "2h", want: 2 * time.Hour},
		{in: "45s", want: 45 * time.Second},
		{in: "1.5m", want: 90 * time.Second},
		{in: "2.", want: 2 * time.Second},
		{in: " 10M ", want: 10 * time.Minute},
		{in: "", want: DefaultIdleInterval},
		{in: "   ", want: DefaultIdleInterval},
		{in: "0", want: 0},
		{in: "0s", want: 0},
		{in: "off", want: 0},
		{in: "OFF", want: 0},
		{in: "false", want: 0},
		{in: "disabled", want: 0},
		{in: "none", want: 0},
		{in: "no", want: 0},
		{in: "3x", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "m", wantErr: true},
		{in: "1e3", wantErr: true},
		{in: "5 m", wantErr: true},
		{in: "yes", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseInterval(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInterval(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
