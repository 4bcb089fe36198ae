package sandbox

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// globChars are the characters that make a path pattern a glob rather than
// a literal path, mirroring the character set doublestar treats specially.
const globChars = "*?[]{}"

// ContainsGlobChars reports whether pattern contains any glob
// metacharacter. Used throughout the sandbox profile generators to decide
// whether a configured path needs regex-based matching (Seatbelt) or a
// literal bind mount (bwrap/Landlock).
func ContainsGlobChars(pattern string) bool {
	return strings.ContainsAny(pattern, globChars)
}

// RemoveTrailingGlobSuffix strips one trailing "/**" (and its leading
// slash) from pattern, used when a caller needs the concrete directory a
// recursive glob pattern is rooted at.
func RemoveTrailingGlobSuffix(pattern string) string {
	pattern = strings.TrimSuffix(pattern, "/**")
	if pattern == "" {
		return ""
	}
	return pattern
}

// NormalizePath resolves a path pattern to an absolute path: expands a
// leading "~" to the user's home directory, resolves "." and ".." against
// the current working directory, and resolves symlinks for concrete
// (non-glob) paths so sandbox rules apply to the real location on disk.
// Glob patterns are returned with only tilde/relative expansion applied,
// since symlink resolution on a pattern containing "*" doesn't make sense.
func NormalizePath(pattern string) string {
	if pattern == "" {
		return pattern
	}

	expanded := expandTilde(pattern)

	if !filepath.IsAbs(expanded) {
		if abs, err := filepath.Abs(expanded); err == nil {
			expanded = abs
		}
	}

	if ContainsGlobChars(expanded) {
		return expanded
	}

	if resolved, err := filepath.EvalSymlinks(expanded); err == nil {
		return resolved
	}
	return expanded
}

func expandTilde(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

// GenerateProxyEnvVars builds the environment variable assignments a
// sandboxed child needs to route outbound traffic through fence's
// HTTP/SOCKS proxy pair. Both upper- and lower-case forms are set since
// tool ecosystems are inconsistent about which they honor (curl/npm read
// lower-case, most everything else reads upper-case).
func GenerateProxyEnvVars(httpPort, socksPort int) []string {
	env := []string{
		"FENCE_SANDBOX=1",
		"TMPDIR=/tmp/fence",
	}

	if httpPort > 0 {
		httpURL := fmt.Sprintf("http://localhost:%d", httpPort)
		env = append(env,
			"HTTP_PROXY="+httpURL,
			"HTTPS_PROXY="+httpURL,
			"http_proxy="+httpURL,
			"https_proxy="+httpURL,
			"NO_PROXY=",
			"no_proxy=",
		)
	}

	if socksPort > 0 {
		socksURL := fmt.Sprintf("socks5h://localhost:%d", socksPort)
		env = append(env,
			"ALL_PROXY="+socksURL,
			"all_proxy="+socksURL,
			"FTP_PROXY="+socksURL,
			"GIT_SSH_COMMAND=ssh",
		)
	}

	return env
}

// sandboxCommandMaxLen bounds how much of a command is embedded in the
// Seatbelt violation-log tag (see macos.go's logTag), since macOS's
// unified log truncates overly long predicate strings anyway.
const sandboxCommandMaxLen = 100

// EncodeSandboxedCommand base64-encodes the first 100 bytes of command for
// embedding in a Seatbelt "(with message ...)" log tag, so a violation
// seen in `log stream` can be correlated back to the command that
// triggered it without leaking the full command line into the system log
// verbatim.
func EncodeSandboxedCommand(command string) string {
	if len(command) > sandboxCommandMaxLen {
		command = command[:sandboxCommandMaxLen]
	}
	return base64.RawURLEncoding.EncodeToString([]byte(command))
}

// DecodeSandboxedCommand reverses EncodeSandboxedCommand.
func DecodeSandboxedCommand(encoded string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode sandboxed command: %w", err)
	}
	return string(data), nil
}
