//go:build !windows

package sandbox

import (
	"fmt"

	"github.com/Use-Tusk/fence/internal/config"
)

// WrapCommandWindows is only implemented on windows; every other platform
// uses its own WrapCommand{MacOS,Linux} function instead.
func WrapCommandWindows(cfg *config.Config, command string, httpPort, socksPort int, env map[string]string, debug bool) (string, error) {
	return "", fmt.Errorf("windows sandbox is not available on this platform")
}
