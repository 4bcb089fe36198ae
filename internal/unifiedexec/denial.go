package unifiedexec

import (
	"strings"
	"time"
)

// denialGracePeriod bounds how long after spawn a session's output is
// still checked against known sandbox-denial signatures. A command that
// fails past this window is assumed to be failing on its own terms, not
// because the sandbox rejected the syscall.
const denialGracePeriod = 2 * time.Second

// denialSignatures are substrings that show up in a child's stderr when
// the OS sandbox itself refused an operation, generalized from
// internal/sandbox/monitor.go's macOS log-stream violationPattern to the
// message text every supported sandbox backend actually surfaces:
// Seatbelt's deny message, bwrap/Landlock's EPERM/EACCES wording, and the
// two-account Windows model's ERROR_ACCESS_DENIED text.
var denialSignatures = []string{
	"operation not permitted",
	"permission denied",
	"sandbox",
	"seccomp",
	"landlock",
	"access is denied",
	"function not implemented", // seccomp ENOSYS for a filtered syscall
}

// CheckForSandboxDenial reports whether output collected within
// denialGracePeriod of spawn matches a known denial signature, and if so,
// the matched snippet to surface to the caller as fenceerr.SandboxDenied.
func CheckForSandboxDenial(output []byte, sinceSpawn time.Duration) (snippet string, denied bool) {
	if sinceSpawn > denialGracePeriod {
		return "", false
	}
	lower := strings.ToLower(string(output))
	for _, sig := range denialSignatures {
		if idx := strings.Index(lower, sig); idx != -1 {
			start := idx
			end := idx + len(sig) + 40
			if end > len(output) {
				end = len(output)
			}
			return string(output[start:end]), true
		}
	}
	return "", false
}
