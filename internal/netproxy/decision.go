// Package netproxy implements fence's live-reloaded HTTP/TLS-intercepting
// network proxy: a domain allow/deny filter with a loopback guard, a
// bounded blocked-event FIFO, and an admin control plane, fronting both an
// HTTP/CONNECT proxy (github.com/elazarl/goproxy) and a SOCKS5 proxy
// (github.com/things-go/go-socks5).
package netproxy

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Use-Tusk/fence/internal/config"
)

// Mode controls how strict the HTTP method surface is. Limited mode only
// allows the read-only verbs a coding agent's package manager or VCS needs
// during install/fetch; Full mode allows everything the domain filter lets
// through.
type Mode int

const (
	// ModeFull applies only the domain allow/deny decision.
	ModeFull Mode = iota
	// ModeLimited additionally restricts non-CONNECT requests to GET/HEAD/OPTIONS.
	ModeLimited
)

func (m Mode) String() string {
	if m == ModeLimited {
		return "limited"
	}
	return "full"
}

// ParseMode parses the /mode admin endpoint's request body.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "limited":
		return ModeLimited, true
	case "full":
		return ModeFull, true
	default:
		return ModeFull, false
	}
}

// Decision is the outcome of evaluating one connection attempt against the
// resolved NetworkPolicy.
type Decision struct {
	Allowed bool
	Reason  string // one of: "denied", "not_allowed_local", "method_not_allowed", "mitm_required", "allowlist", "not_allowed"
}

// Filter holds the mutable, hot-reloadable network policy behind a mutex
// and produces a Decision for every connection attempt. It is the
// generalization of a stateless decision closure into a struct that can be
// swapped out on config reload and asked for its mode.
type Filter struct {
	mu     sync.RWMutex
	cfg    *config.Config
	mode   Mode
	mitm   bool
	fifo   *BlockedFIFO
	debug  bool
}

// NewFilter builds a Filter over cfg. fifo receives every blocked
// decision; pass nil to disable recording.
func NewFilter(cfg *config.Config, mode Mode, mitm bool, fifo *BlockedFIFO, debug bool) *Filter {
	return &Filter{cfg: cfg, mode: mode, mitm: mitm, fifo: fifo, debug: debug}
}

// Reload atomically swaps the underlying config document.
func (f *Filter) Reload(cfg *config.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
}

// SetMode atomically swaps the method-restriction mode.
func (f *Filter) SetMode(m Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = m
}

// Mode returns the current mode.
func (f *Filter) Mode() Mode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

// Evaluate runs the decision in order: denylist first, then the loopback
// guard, then the method restriction, then the allowlist. method is "" for
// CONNECT tunnels (the method restriction only applies to plain HTTP verbs).
func (f *Filter) Evaluate(host string, port int, method string) Decision {
	f.mu.RLock()
	cfg, mode, mitm := f.cfg, f.mode, f.mitm
	f.mu.RUnlock()

	d := f.evaluateLocked(cfg, mode, mitm, host, port, method)
	if !d.Allowed && f.fifo != nil {
		f.fifo.Push(BlockedRequest{
			Host:   host,
			Port:   port,
			Method: method,
			Reason: d.Reason,
			Time:   time.Now(),
		})
	}
	return d
}

func (f *Filter) evaluateLocked(cfg *config.Config, mode Mode, mitm bool, host string, port int, method string) Decision {
	if cfg == nil {
		return Decision{Allowed: false, Reason: "not_allowed"}
	}

	// 1. Denylist always wins, regardless of mode or loopback status.
	for _, denied := range cfg.Network.DeniedDomains {
		if config.MatchesDomain(host, denied) {
			return Decision{Allowed: false, Reason: "denied"}
		}
	}

	// 2. Loopback guard: connections to the sandboxed process's own
	// loopback interface are only permitted when the policy explicitly
	// allows local binding/outbound traffic, independent of the domain
	// allowlist (a host can't allowlist its way around the guard).
	if isLoopback(host) {
		allowLocal := cfg.Network.AllowLocalBinding
		if cfg.Network.AllowLocalOutbound != nil {
			allowLocal = *cfg.Network.AllowLocalOutbound
		}
		if !allowLocal {
			return Decision{Allowed: false, Reason: "not_allowed_local"}
		}
	}

	// 3. Method restriction in Limited mode: only the idempotent safe verbs,
	// CONNECT tunnels are exempt since TLS hides the verb until MITM
	// decodes it.
	if mode == ModeLimited && method != "" && method != "GET" && method != "HEAD" && method != "OPTIONS" {
		return Decision{Allowed: false, Reason: "method_not_allowed"}
	}

	// 4. Allowlist.
	for _, allowed := range cfg.Network.AllowedDomains {
		if config.MatchesDomain(host, allowed) {
			if method == "" && mode == ModeLimited && !mitm {
				// CONNECT in Limited mode without MITM can't enforce the
				// method restriction inside the tunnel, so it requires
				// MITM to be enabled before allowing HTTPS through.
				return Decision{Allowed: false, Reason: "mitm_required"}
			}
			return Decision{Allowed: true, Reason: "allowlist"}
		}
	}

	return Decision{Allowed: false, Reason: "not_allowed"}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
