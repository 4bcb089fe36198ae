package netproxy

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/elazarl/goproxy"
)

// HTTPProxy is an HTTP/HTTPS proxy fronted by elazarl/goproxy, giving this
// repo a real MITM code path for Limited-mode HTTPS inspection, while
// keeping the plain CONNECT-tunnel path for setups without a MITM CA. When a
// CA is installed, every allowed CONNECT is MITM-decoded, in either mode.
type HTTPProxy struct {
	server   *http.Server
	listener net.Listener
	filter   *Filter
	proxy    *goproxy.ProxyHttpServer
	debug    bool
	mitm     bool
}

// NewHTTPProxy builds a proxy that consults filter for every CONNECT and
// plain HTTP request. mitmCA, if non-nil, is installed as goproxy's CA so
// HandleConnect can decode and re-filter HTTPS requests by method.
func NewHTTPProxy(filter *Filter, debug bool, mitmCA *GeneratedCA) *HTTPProxy {
	p := goproxy.NewProxyHttpServer()
	p.Verbose = false

	hp := &HTTPProxy{filter: filter, proxy: p, debug: debug, mitm: mitmCA != nil}

	if mitmCA != nil {
		goproxy.GoproxyCa = mitmCA.TLSCert
		p.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(hp.handleConnect))
	} else {
		p.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(hp.handleConnectTunnelOnly))
	}

	p.OnRequest().DoFunc(func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		host, port := splitHostPort(r.URL.Hostname(), r.URL.Port(), r.URL.Scheme == "https")
		d := hp.filter.Evaluate(host, port, r.Method)
		hp.logDecision("HTTP", r.Method, host, port, d)
		if !d.Allowed {
			return r, goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusForbidden, "blocked by network policy: "+d.Reason)
		}
		return r, nil
	})

	return hp
}

// Start listens on a random loopback port and returns it.
func (p *HTTPProxy) Start() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to listen: %w", err)
	}
	p.listener = listener
	p.server = &http.Server{Handler: p.proxy}

	go func() {
		if err := p.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			p.logDebug("http proxy server error: %v", err)
		}
	}()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// Stop gracefully shuts the proxy down within 5 seconds.
func (p *HTTPProxy) Stop() error {
	if p.server == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- p.server.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out stopping http proxy")
	}
}

// Port returns the bound port, or 0 if not started.
func (p *HTTPProxy) Port() int {
	if p.listener == nil {
		return 0
	}
	return p.listener.Addr().(*net.TCPAddr).Port
}

// handleConnectTunnelOnly allows or rejects the CONNECT tunnel without
// decoding it. Used whenever MITM isn't configured.
func (p *HTTPProxy) handleConnectTunnelOnly(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
	h, port := splitHostPort(hostOnly(host), portOnly(host), true)
	d := p.filter.Evaluate(h, port, "")
	p.logDecision("CONNECT", "", h, port, d)
	if !d.Allowed {
		return goproxy.RejectConnect, host
	}
	return goproxy.OkConnect, host
}

// handleConnect MITMs the tunnel so subsequent requests inside it can be
// re-evaluated by method (required for Limited mode's GET/HEAD/OPTIONS-only rule).
func (p *HTTPProxy) handleConnect(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
	h, port := splitHostPort(hostOnly(host), portOnly(host), true)
	d := p.filter.Evaluate(h, port, "")
	p.logDecision("CONNECT", "", h, port, d)
	if !d.Allowed {
		if d.Reason == "mitm_required" {
			return goproxy.MitmConnect, host
		}
		return goproxy.RejectConnect, host
	}
	return goproxy.MitmConnect, host
}

func (p *HTTPProxy) logDebug(format string, args ...interface{}) {
	if p.debug {
		fmt.Fprintf(os.Stderr, "[fence:http] "+format+"\n", args...)
	}
}

func (p *HTTPProxy) logDecision(kind, method, host string, port int, d Decision) {
	if !p.debug {
		return
	}
	icon := "✓"
	if !d.Allowed {
		icon = "✗"
	}
	fmt.Fprintf(os.Stderr, "[fence:http] %s %s %s %s:%d %s (%s)\n",
		time.Now().Format("15:04:05"), icon, kind, host, port, method, d.Reason)
}

func hostOnly(hostport string) string {
	h, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return h
}

func portOnly(hostport string) string {
	_, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return ""
	}
	return p
}

func splitHostPort(host, portStr string, isTLS bool) (string, int) {
	if host == "" {
		return "", 0
	}
	port := 80
	if isTLS {
		port = 443
	}
	if portStr != "" {
		if n, err := strconv.Atoi(portStr); err == nil {
			port = n
		}
	}
	return host, port
}
