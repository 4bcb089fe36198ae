package netproxy

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Admin exposes the proxy's control plane: GET /blocked drains the bounded
// blocked-event FIFO, POST /mode switches between Limited and Full, and
// POST /reload re-reads the config file from disk on demand (a fallback
// for when the fsnotify watcher in Watcher misses an edit, e.g. over NFS).
type Admin struct {
	server   *http.Server
	listener net.Listener
	filter   *Filter
	fifo     *BlockedFIFO
	reload   func() error
	limiter  *rate.Limiter
}

// NewAdmin builds the admin mux. reload is invoked by POST /reload; it
// should re-read the config file and call filter.Reload itself.
func NewAdmin(filter *Filter, fifo *BlockedFIFO, reload func() error) *Admin {
	return &Admin{
		filter:  filter,
		fifo:    fifo,
		reload:  reload,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
	}
}

// Start listens on a random loopback port and returns it.
func (a *Admin) Start() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to listen: %w", err)
	}
	a.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/blocked", a.handleBlocked)
	mux.HandleFunc("/mode", a.handleMode)
	mux.HandleFunc("/reload", a.handleReload)

	a.server = &http.Server{Handler: mux}
	go a.server.Serve(listener) //nolint:errcheck // logged via Stop's error, server.Close() returns ErrServerClosed

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// Stop closes the admin listener.
func (a *Admin) Stop() error {
	if a.server == nil {
		return nil
	}
	return a.server.Close()
}

// Port returns the bound port, or 0 if not started.
func (a *Admin) Port() int {
	if a.listener == nil {
		return 0
	}
	return a.listener.Addr().(*net.TCPAddr).Port
}

func (a *Admin) handleBlocked(w http.ResponseWriter, r *http.Request) {
	if !a.limiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items := a.fifo.Drain()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items) //nolint:errcheck // best-effort response encoding
}

func (a *Admin) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mode, ok := ParseMode(body.Mode)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown mode %q", body.Mode), http.StatusBadRequest)
		return
	}
	a.filter.SetMode(mode)
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.reload == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := a.reload(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
