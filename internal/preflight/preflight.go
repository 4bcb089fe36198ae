// Package preflight extracts the hosts a shell command is about to
// contact before it runs, so the resolved NetworkPolicy / approval cache
// can be consulted without waiting for the sandboxed process to hit the
// proxy itself, layered on top of internal/sandbox/command.go's shell
// tokenizer so both subsystems parse shell syntax identically.
package preflight

import (
	"net/url"
	"strings"
)

// canonicalTools is the set of CLIs whose argv this package knows how to
// mine for a target host. Anything else is left unanalyzed: the proxy's
// own domain filter is still the enforcement point, this is only a
// best-effort hint for pre-approval.
var canonicalTools = map[string]bool{
	"curl": true, "wget": true, "git": true, "gh": true,
	"ssh": true, "scp": true, "rsync": true,
	"npm": true, "yarn": true, "pnpm": true,
	"pip": true, "pipx": true, "cargo": true, "go": true,
}

// sshLikeTools need $SSH_AUTH_SOCK forwarded into the sandbox for
// key-agent auth to work.
var sshLikeTools = map[string]bool{
	"ssh": true, "scp": true, "sftp": true, "ssh-add": true,
}

// Hosts extracts every host a tokenized command line is likely to
// contact. tokens is the already-shell-tokenized argv (see
// internal/sandbox's tokenizeCommand for the shared tokenizer).
func Hosts(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}

	tool := baseName(tokens[0])
	if !canonicalTools[tool] {
		return nil
	}

	var hosts []string
	for _, tok := range tokens[1:] {
		if h := hostFromURL(tok); h != "" {
			hosts = append(hosts, h)
			continue
		}
		// scp/rsync operands without a ':' are local paths, not remote specs.
		remote := tool == "ssh" || ((tool == "scp" || tool == "rsync") && strings.Contains(tok, ":"))
		if remote && looksLikeSSHTarget(tok) {
			if h := hostFromSSHTarget(tok); h != "" {
				hosts = append(hosts, h)
			}
		}
	}
	if len(hosts) == 0 {
		return nil
	}
	return dedupe(hosts)
}

// NeedsSSHAuthSock reports whether command invokes a tool that needs the
// SSH agent socket forwarded into the sandbox.
func NeedsSSHAuthSock(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	return sshLikeTools[baseName(tokens[0])]
}

func hostFromURL(tok string) string {
	if !strings.Contains(tok, "://") {
		return ""
	}
	u, err := url.Parse(tok)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// looksLikeSSHTarget matches user@host or host, excluding tokens that are
// clearly flags or local paths.
func looksLikeSSHTarget(tok string) bool {
	if tok == "" || strings.HasPrefix(tok, "-") || strings.HasPrefix(tok, "/") || strings.HasPrefix(tok, ".") {
		return false
	}
	return strings.Contains(tok, "@") || (strings.Contains(tok, ".") && !strings.Contains(tok, ":"))
}

func hostFromSSHTarget(tok string) string {
	if idx := strings.Index(tok, "@"); idx != -1 {
		tok = tok[idx+1:]
	}
	// Strip an rsync-style trailing path after ':' (user@host:/path).
	if idx := strings.Index(tok, ":"); idx != -1 {
		tok = tok[:idx]
	}
	return tok
}

func baseName(path string) string {
	if idx := strings.LastIndex(path, "/"); idx != -1 {
		return path[idx+1:]
	}
	return path
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
