package netproxy

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/things-go/go-socks5"
)

// SOCKSProxy is a SOCKS5 proxy that consults a Filter for every CONNECT
// request. go-socks5's RuleSet hook is already exactly the three-class
// decision this repo's Filter produces.
type SOCKSProxy struct {
	server   *socks5.Server
	listener net.Listener
	filter   *Filter
	debug    bool
	port     int
}

// NewSOCKSProxy builds a SOCKS5 proxy over filter.
func NewSOCKSProxy(filter *Filter, debug bool) *SOCKSProxy {
	return &SOCKSProxy{filter: filter, debug: debug}
}

type ruleSet struct {
	filter *Filter
	debug  bool
}

func (r *ruleSet) Allow(ctx context.Context, req *socks5.Request) (context.Context, bool) {
	host := req.DestAddr.FQDN
	if host == "" {
		host = req.DestAddr.IP.String()
	}
	port := req.DestAddr.Port

	d := r.filter.Evaluate(host, port, "")
	if r.debug {
		icon := "✓"
		if !d.Allowed {
			icon = "✗"
		}
		fmt.Fprintf(os.Stderr, "[fence:socks] %s %s CONNECT %s:%d (%s)\n",
			time.Now().Format("15:04:05"), icon, host, port, d.Reason)
	}
	return ctx, d.Allowed
}

// Start listens on a random loopback port and returns it.
func (p *SOCKSProxy) Start() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to listen: %w", err)
	}
	p.listener = listener
	p.port = listener.Addr().(*net.TCPAddr).Port

	p.server = socks5.NewServer(socks5.WithRule(&ruleSet{filter: p.filter, debug: p.debug}))

	go func() {
		if err := p.server.Serve(p.listener); err != nil && p.debug {
			fmt.Fprintf(os.Stderr, "[fence:socks] server error: %v\n", err)
		}
	}()

	return p.port, nil
}

// Stop closes the listening socket.
func (p *SOCKSProxy) Stop() error {
	if p.listener != nil {
		return p.listener.Close()
	}
	return nil
}

// Port returns the bound port, or 0 if not started.
func (p *SOCKSProxy) Port() int {
	return p.port
}
