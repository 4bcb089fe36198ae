package sandbox

import (
	"fmt"
	"os"
	"strings"

	"github.com/Use-Tusk/fence/internal/config"
	"github.com/Use-Tusk/fence/internal/netproxy"
	"github.com/Use-Tusk/fence/internal/platform"
)

// Manager handles sandbox initialization and command wrapping. It owns the
// resolved policy's network surface: the HTTP/SOCKS proxy pair, the
// optional MITM CA, the admin control plane, and (on Linux) the socat
// bridges that get the sandboxed process's traffic to those proxies at
// all.
type Manager struct {
	config        *config.Config
	configPath    string
	filter        *netproxy.Filter
	fifo          *netproxy.BlockedFIFO
	httpProxy     *netproxy.HTTPProxy
	socksProxy    *netproxy.SOCKSProxy
	admin         *netproxy.Admin
	watcher       *netproxy.Watcher
	mitmCA        *netproxy.GeneratedCA
	linuxBridge   *LinuxBridge
	reverseBridge *ReverseBridge
	httpPort      int
	socksPort     int
	adminPort     int
	exposedPorts  []int
	debug           bool
	monitor         bool
	mitm            bool
	forwardSSHAgent bool
	initialized     bool
}

// NewManager creates a new sandbox manager. configPath is the on-disk file
// the resolved config was loaded from, used to hot-reload the network
// filter on change; pass "" (or a synthetic source like "default" or
// "template:name" that doesn't name a real file) to disable the watcher.
func NewManager(cfg *config.Config, debug, monitor, mitm bool, configPath string) *Manager {
	return &Manager{
		config:     cfg,
		configPath: configPath,
		debug:      debug,
		monitor:    monitor,
		mitm:       mitm,
	}
}

// SetForwardSSHAgent controls whether WrapCommand/WrapCommandLoose bind the
// host's SSH_AUTH_SOCK into the sandbox, for commands that authenticate
// against a running SSH agent.
func (m *Manager) SetForwardSSHAgent(forward bool) {
	m.forwardSSHAgent = forward
}

// SetExposedPorts sets the ports to expose for inbound connections.
func (m *Manager) SetExposedPorts(ports []int) {
	m.exposedPorts = ports
}

// Initialize sets up the sandbox infrastructure (proxies, admin plane, and
// on Linux the socat bridges).
func (m *Manager) Initialize() error {
	if m.initialized {
		return nil
	}

	if !platform.IsSupported() {
		return fmt.Errorf("sandbox is not supported on platform: %s", platform.Detect())
	}

	m.fifo = netproxy.NewBlockedFIFO()
	m.filter = netproxy.NewFilter(m.config, netproxy.ModeFull, m.mitm, m.fifo, m.debug)

	var ca *netproxy.GeneratedCA
	if m.mitm {
		dir, err := os.MkdirTemp("", "fence-mitm-*")
		if err != nil {
			return fmt.Errorf("failed to create mitm ca dir: %w", err)
		}
		ca, err = netproxy.GenerateCA(dir)
		if err != nil {
			return fmt.Errorf("failed to generate mitm ca: %w", err)
		}
		m.mitmCA = ca
	}

	m.httpProxy = netproxy.NewHTTPProxy(m.filter, m.debug, ca)
	httpPort, err := m.httpProxy.Start()
	if err != nil {
		return fmt.Errorf("failed to start HTTP proxy: %w", err)
	}
	m.httpPort = httpPort

	m.socksProxy = netproxy.NewSOCKSProxy(m.filter, m.debug)
	socksPort, err := m.socksProxy.Start()
	if err != nil {
		m.httpProxy.Stop()
		return fmt.Errorf("failed to start SOCKS proxy: %w", err)
	}
	m.socksPort = socksPort

	var reload func() error
	if m.hasReloadableConfigPath() {
		w, err := netproxy.NewWatcher(m.configPath, m.filter)
		if err != nil {
			return fmt.Errorf("failed to start config watcher: %w", err)
		}
		m.watcher = w
		go m.watcher.Run()
		reload = m.watcher.ReloadNow
	}

	m.admin = netproxy.NewAdmin(m.filter, m.fifo, reload)
	adminPort, err := m.admin.Start()
	if err != nil {
		m.httpProxy.Stop()
		m.socksProxy.Stop()
		return fmt.Errorf("failed to start admin plane: %w", err)
	}
	m.adminPort = adminPort

	// On Linux, set up the socat bridges
	if platform.Detect() == platform.Linux {
		bridge, err := NewLinuxBridge(m.httpPort, m.socksPort, m.debug)
		if err != nil {
			m.Cleanup()
			return fmt.Errorf("failed to initialize Linux bridge: %w", err)
		}
		m.linuxBridge = bridge

		// Set up reverse bridge for exposed ports (inbound connections)
		if len(m.exposedPorts) > 0 {
			reverseBridge, err := NewReverseBridge(m.exposedPorts, m.debug)
			if err != nil {
				m.Cleanup()
				return fmt.Errorf("failed to initialize reverse bridge: %w", err)
			}
			m.reverseBridge = reverseBridge
		}
	}

	m.initialized = true
	m.logDebug("Sandbox manager initialized (HTTP proxy: %d, SOCKS proxy: %d, admin: %d)", m.httpPort, m.socksPort, m.adminPort)
	return nil
}

// WrapCommand wraps a command with sandbox restrictions. A command that the
// configured command deny list blocks is rejected with CommandBlockedError
// before anything is wrapped.
func (m *Manager) WrapCommand(command string) (string, error) {
	if !m.initialized {
		if err := m.Initialize(); err != nil {
			return "", err
		}
	}

	if err := CheckCommand(command, m.config); err != nil {
		return "", err
	}

	env := m.proxyEnv()

	plat := platform.Detect()
	switch plat {
	case platform.MacOS:
		return WrapCommandMacOS(m.config, command, m.httpPort, m.socksPort, m.exposedPorts, m.forwardSSHAgent, m.debug)
	case platform.Linux:
		return WrapCommandLinux(m.config, command, m.linuxBridge, m.reverseBridge, m.forwardSSHAgent, m.debug)
	case platform.Windows:
		return WrapCommandWindows(m.config, command, m.httpPort, m.socksPort, env, m.debug)
	default:
		return "", fmt.Errorf("unsupported platform: %s", plat)
	}
}

// WrapCommandLoose re-plans command under a more permissive sandbox kind,
// the re-plan step of the retry/escalation protocol: it only runs once an
// approval callback has granted an escalation after a SandboxDenied
// failure. On Linux it drops Landlock and seccomp, the two layers most
// likely to produce a false-positive deny against a legitimate syscall
// pattern the policy didn't anticipate. macOS and Windows have no tunable
// kind in this implementation, so the escalation there is the command
// running with no sandbox wrapper at all.
func (m *Manager) WrapCommandLoose(command string) (string, error) {
	if !m.initialized {
		if err := m.Initialize(); err != nil {
			return "", err
		}
	}

	switch platform.Detect() {
	case platform.Linux:
		return WrapCommandLinuxWithOptions(m.config, command, m.linuxBridge, m.reverseBridge, LinuxSandboxOptions{
			UseLandlock:     false,
			UseSeccomp:      false,
			UseEBPF:         false,
			Monitor:         m.monitor,
			ForwardSSHAgent: m.forwardSSHAgent,
			Debug:           m.debug,
		})
	default:
		return command, nil
	}
}

// proxyEnv returns the env vars a sandboxed child needs to trust the
// generated CA when MITM is enabled, and an empty map otherwise. Only the
// Windows path passes them on; the proxy address variables are set by each
// platform's wrapper.
func (m *Manager) proxyEnv() map[string]string {
	env := map[string]string{}
	if m.mitmCA != nil {
		for k, v := range m.mitmCA.Env() {
			env[k] = v
		}
	}
	return env
}

// hasReloadableConfigPath reports whether m.configPath names a real file on
// disk rather than a synthetic source like "default" or "template:name",
// which have nothing for fsnotify to watch.
func (m *Manager) hasReloadableConfigPath() bool {
	if m.configPath == "" || m.configPath == "default" || strings.HasPrefix(m.configPath, "template:") {
		return false
	}
	_, err := os.Stat(m.configPath)
	return err == nil
}

// Cleanup stops the proxies, admin plane, watcher, and bridges.
func (m *Manager) Cleanup() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
	if m.reverseBridge != nil {
		m.reverseBridge.Cleanup()
	}
	if m.linuxBridge != nil {
		m.linuxBridge.Cleanup()
	}
	if m.admin != nil {
		m.admin.Stop()
	}
	if m.httpProxy != nil {
		m.httpProxy.Stop()
	}
	if m.socksProxy != nil {
		m.socksProxy.Stop()
	}
	m.logDebug("Sandbox manager cleaned up")
}

func (m *Manager) logDebug(format string, args ...interface{}) {
	if m.debug {
		fmt.Fprintf(os.Stderr, "[fence] "+format+"\n", args...)
	}
}

// HTTPPort returns the HTTP proxy port.
func (m *Manager) HTTPPort() int {
	return m.httpPort
}

// SOCKSPort returns the SOCKS proxy port.
func (m *Manager) SOCKSPort() int {
	return m.socksPort
}

// AdminPort returns the admin control-plane port.
func (m *Manager) AdminPort() int {
	return m.adminPort
}
