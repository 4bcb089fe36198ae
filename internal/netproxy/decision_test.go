package netproxy

import (
	"testing"

	"github.com/Use-Tusk/fence/internal/config"
)

func TestFilterEvaluate(t *testing.T) {
	allowLocal := false
	cfg := &config.Config{
		Network: config.NetworkConfig{
			AllowedDomains:     []string{"example.com", "*.npmjs.org"},
			DeniedDomains:      []string{"evil.example.com"},
			AllowLocalOutbound: &allowLocal,
		},
	}

	tests := []struct {
		name       string
		host       string
		port       int
		method     string
		mode       Mode
		mitm       bool
		wantAllow  bool
		wantReason string
	}{
		{"denied wins over allow", "evil.example.com", 443, "", ModeFull, false, false, "denied"},
		{"exact allow", "example.com", 443, "", ModeFull, false, true, "allowlist"},
		{"wildcard allow", "registry.npmjs.org", 443, "", ModeFull, false, true, "allowlist"},
		{"no match denies", "other.com", 443, "", ModeFull, false, false, "not_allowed"},
		{"loopback blocked without allow-local", "127.0.0.1", 8080, "", ModeFull, false, false, "not_allowed_local"},
		{"limited mode rejects POST", "example.com", 443, "POST", ModeLimited, false, false, "method_not_allowed"},
		{"limited mode allows GET", "example.com", 443, "GET", ModeLimited, false, true, "allowlist"},
		{"limited mode allows OPTIONS", "example.com", 443, "OPTIONS", ModeLimited, false, true, "allowlist"},
		{"connect in limited mode without mitm requires mitm", "example.com", 443, "", ModeLimited, false, false, "mitm_required"},
		{"connect in limited mode with mitm allowed", "example.com", 443, "", ModeLimited, true, true, "allowlist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(cfg, tt.mode, tt.mitm, nil, false)
			d := f.Evaluate(tt.host, tt.port, tt.method)
			if d.Allowed != tt.wantAllow || d.Reason != tt.wantReason {
				t.Errorf("Evaluate(%q, %d, %q) = %+v, want allowed=%v reason=%q",
					tt.host, tt.port, tt.method, d, tt.wantAllow, tt.wantReason)
			}
		})
	}
}

func TestFilterEvaluateRecordsBlockedToFIFO(t *testing.T) {
	cfg := &config.Config{Network: config.NetworkConfig{AllowedDomains: []string{"example.com"}}}
	fifo := NewBlockedFIFO()
	f := NewFilter(cfg, ModeFull, false, fifo, false)

	f.Evaluate("other.com", 443, "")

	if fifo.Len() != 1 {
		t.Fatalf("fifo.Len() = %d, want 1", fifo.Len())
	}
	drained := fifo.Drain()
	if drained[0].Host != "other.com" {
		t.Errorf("drained[0].Host = %q, want other.com", drained[0].Host)
	}
	if fifo.Len() != 0 {
		t.Errorf("fifo.Len() after Drain = %d, want 0", fifo.Len())
	}
}

func TestFilterReload(t *testing.T) {
	f := NewFilter(&config.Config{}, ModeFull, false, nil, false)
	if d := f.Evaluate("example.com", 443, ""); d.Allowed {
		t.Fatalf("expected deny before reload, got %+v", d)
	}

	f.Reload(&config.Config{Network: config.NetworkConfig{AllowedDomains: []string{"example.com"}}})
	if d := f.Evaluate("example.com", 443, ""); !d.Allowed {
		t.Errorf("expected allow after reload, got %+v", d)
	}
}
