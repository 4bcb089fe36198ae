//go:build windows

package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"

	"github.com/Use-Tusk/fence/internal/config"
)

// sandboxUsersFile and setupMarkerFile persist the two-account model's
// state across invocations: the low-privilege local account is
// provisioned once and reused, not recreated per command.
const (
	sandboxUsersFile = "sandbox_users.json"
	setupMarkerFile  = "setup_marker.json"
)

// sandboxUser is the persisted low-integrity account fence launches
// sandboxed commands as.
type sandboxUser struct {
	Username     string `json:"username"`
	SID          string `json:"sid"`
	ProfilePath  string `json:"profilePath"`
	CreatedAtRFC string `json:"createdAt"`
}

// setupMarker records that the sandbox account was found and persisted, so
// a later run can skip the account lookup.
type setupMarker struct {
	Version int    `json:"version"`
	UserSID string `json:"userSid"`
}

// stateDir returns the directory fence persists its Windows sandbox
// account state in.
func stateDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	full := filepath.Join(dir, "fence")
	if err := os.MkdirAll(full, 0o700); err != nil {
		return "", err
	}
	return full, nil
}

// ensureSandboxUser loads the persisted sandbox account, or on first use
// looks up the existing "fence-sandbox" account and persists it. It creates
// no account and no firewall rule.
func ensureSandboxUser(debug bool) (*sandboxUser, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, fmt.Errorf("resolve fence state dir: %w", err)
	}

	markerPath := filepath.Join(dir, setupMarkerFile)
	usersPath := filepath.Join(dir, sandboxUsersFile)

	if data, err := os.ReadFile(markerPath); err == nil {
		var marker setupMarker
		if json.Unmarshal(data, &marker) == nil {
			if userData, err := os.ReadFile(usersPath); err == nil {
				var user sandboxUser
				if json.Unmarshal(userData, &user) == nil && user.SID == marker.UserSID {
					return &user, nil
				}
			}
		}
	}

	user, err := provisionSandboxAccount(debug)
	if err != nil {
		return nil, err
	}

	userData, _ := json.MarshalIndent(user, "", "  ")
	if err := os.WriteFile(usersPath, userData, 0o600); err != nil {
		return nil, fmt.Errorf("persist sandbox user: %w", err)
	}
	markerData, _ := json.MarshalIndent(setupMarker{Version: 1, UserSID: user.SID}, "", "  ")
	if err := os.WriteFile(markerPath, markerData, 0o600); err != nil {
		return nil, fmt.Errorf("persist setup marker: %w", err)
	}

	return user, nil
}

// provisionSandboxAccount looks up the SID of the local "fence-sandbox"
// account and returns it with its profile path. It does not create the
// account or any filtering rule; if the account does not exist it returns
// an error.
func provisionSandboxAccount(debug bool) (*sandboxUser, error) {
	username := "fence-sandbox"

	sid, _, _, err := windows.LookupSID("", username)
	if err != nil {
		// Account doesn't exist yet; fence expects an operator or an
		// elevated installer step to have created it via `net user` with
		// a random password and no interactive logon rights. fence
		// itself never holds credential-creation privileges.
		return nil, fmt.Errorf("sandbox account %q not provisioned: create it as Administrator first", username)
	}

	return &sandboxUser{
		Username:    username,
		SID:         sid.String(),
		ProfilePath: filepath.Join(os.Getenv("SystemDrive")+`\`, "Users", username),
	}, nil
}

// WrapCommandWindows builds a cmd script for the command: a comment line
// naming the sandbox account, a "set" line for each proxy and CA env var,
// then the command itself. It does not switch to the sandbox account;
// nothing in this repository launches the script as that account.
func WrapCommandWindows(cfg *config.Config, command string, httpPort, socksPort int, env map[string]string, debug bool) (string, error) {
	user, err := ensureSandboxUser(debug)
	if err != nil {
		return "", err
	}

	proxyEnv := map[string]string{
		"HTTP_PROXY":  fmt.Sprintf("http://127.0.0.1:%d", httpPort),
		"HTTPS_PROXY": fmt.Sprintf("http://127.0.0.1:%d", httpPort),
		"ALL_PROXY":   fmt.Sprintf("socks5://127.0.0.1:%d", socksPort),
	}
	for k, v := range env {
		proxyEnv[k] = v
	}

	var b strings.Builder
	fmt.Fprintf(&b, "rem sandbox account: %s (%s)\r\n", user.Username, user.SID)
	for k, v := range proxyEnv {
		fmt.Fprintf(&b, "set %s=%s\r\n", k, v)
	}
	b.WriteString(command)

	return b.String(), nil
}
