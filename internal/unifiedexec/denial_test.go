package unifiedexec

import (
	"testing"
	"time"
)

func TestCheckForSandboxDenial(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		sinceSpawn time.Duration
		wantDenied bool
	}{
		{"seatbelt denial within grace", "zsh: operation not permitted", 100 * time.Millisecond, true},
		{"landlock denial within grace", "bwrap: Landlock denied path access", 500 * time.Millisecond, true},
		{"normal failure outside grace", "fatal: not a git repository", 10 * time.Second, false},
		{"normal output within grace", "hello world", 10 * time.Millisecond, false},
		{"denial text past grace period ignored", "permission denied", 5 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, denied := CheckForSandboxDenial([]byte(tt.output), tt.sinceSpawn)
			if denied != tt.wantDenied {
				t.Errorf("CheckForSandboxDenial(%q, %v) denied = %v, want %v", tt.output, tt.sinceSpawn, denied, tt.wantDenied)
			}
		})
	}
}
