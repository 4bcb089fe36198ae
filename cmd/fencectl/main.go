// Package main implements the fencectl CLI.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Use-Tusk/fence/internal/approval"
	"github.com/Use-Tusk/fence/internal/config"
	"github.com/Use-Tusk/fence/internal/fenceerr"
	"github.com/Use-Tusk/fence/internal/netproxy"
	"github.com/Use-Tusk/fence/internal/platform"
	"github.com/Use-Tusk/fence/internal/policy"
	"github.com/Use-Tusk/fence/internal/preflight"
	"github.com/Use-Tusk/fence/internal/sandbox"
	"github.com/Use-Tusk/fence/internal/templates"
	"github.com/Use-Tusk/fence/internal/unifiedexec"
)

// Build-time variables (set via -ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	debug               bool
	monitor             bool
	mitm                bool
	settingsPath        string
	templateName        string
	listTemplates       bool
	cmdString           string
	exposePorts         []string
	sessionAllowDomains []string
	allowEscalation     bool
	forwardSSHAgent     bool
	exitCode            int
	showVersion         bool
	linuxFeatures       bool
)

func main() {
	// Check for internal --landlock-apply mode (used inside sandbox)
	// This must be checked before cobra to avoid flag conflicts
	if len(os.Args) >= 2 && os.Args[1] == "--landlock-apply" {
		runLandlockWrapper()
		return
	}

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fencectl [flags] -- [command...]",
		Short: "Run commands in a sandbox with network and filesystem restrictions",
		Long: `fencectl is a command-line tool that runs commands in a sandboxed environment
with network and filesystem restrictions.

By default, all network access is blocked. Configure allowed domains in
~/.fence.json or pass a settings file with --settings, or use a built-in
template with --template.

Examples:
  fencectl curl https://example.com          # Will be blocked (no domains allowed)
  fencectl -- curl -s https://example.com    # Use -- to separate flags from command
  fencectl -c "echo hello && ls"             # Run with shell expansion
  fencectl --settings config.json npm install
  fencectl -t npm-install npm install        # Use built-in npm-install template
  fencectl -p 3000 -c "npm run dev"          # Expose port 3000 for inbound connections
  fencectl resolve                           # Print the resolved policy and exit
  fencectl proxy --admin-port 9000           # Query the running admin control plane
  fencectl --list-templates                  # Show available built-in templates

Configuration file format (~/.fence.json):
{
  "network": {
    "allowedDomains": ["github.com", "*.npmjs.org"],
    "deniedDomains": []
  },
  "filesystem": {
    "denyRead": [],
    "allowWrite": ["."],
    "denyWrite": []
  },
  "command": {
    "deny": ["git push", "npm publish"]
  }
}`,
		RunE:          runCommand,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
	}

	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.Flags().BoolVarP(&monitor, "monitor", "m", false, "Monitor and log sandbox violations (macOS: log stream, all: proxy denials)")
	rootCmd.Flags().BoolVar(&mitm, "mitm", false, "Enable TLS-intercepting HTTP proxy mode")
	rootCmd.Flags().StringVarP(&settingsPath, "settings", "s", "", "Path to settings file (default: ~/.fence.json)")
	rootCmd.Flags().StringVarP(&templateName, "template", "t", "", "Use built-in template (e.g., code, npm-install)")
	rootCmd.Flags().BoolVar(&listTemplates, "list-templates", false, "List available templates")
	rootCmd.Flags().StringVarP(&cmdString, "c", "c", "", "Run command string directly (like sh -c)")
	rootCmd.Flags().StringArrayVarP(&exposePorts, "port", "p", nil, "Expose port for inbound connections (can be used multiple times)")
	rootCmd.Flags().StringArrayVar(&sessionAllowDomains, "session-allow-domain", nil, "Additional allowed domain for this invocation only, subject to the trusted ceiling (can be used multiple times)")
	rootCmd.Flags().BoolVar(&allowEscalation, "allow-escalation", false, "Allow retrying a sandbox-denied command once under a looser sandbox kind")
	rootCmd.Flags().BoolVar(&forwardSSHAgent, "forward-ssh-agent", false, "Forward SSH_AUTH_SOCK into the sandbox for commands that need an SSH agent")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version information")
	rootCmd.Flags().BoolVar(&linuxFeatures, "linux-features", false, "Show available Linux security features and exit")
	rootCmd.Flags().SetInterspersed(true)

	rootCmd.AddCommand(newResolveCmd(), newProxyCmd(), newUnifiedExecCmd())

	return rootCmd
}

// newResolveCmd implements `fencectl resolve`: load and merge every
// available policy layer (default, config file, template, extends chain)
// and print the resolved document without spawning anything. Exists so an
// operator (or the agent driving fencectl) can inspect what a command would
// actually run under before running it.
func newResolveCmd() *cobra.Command {
	var settings, template string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the resolved policy and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, source, err := loadConfig(settings, template, false)
			if err != nil {
				return err
			}
			resolved, err := policy.Resolve(resolvePolicyLayers(cfg, source, sessionAllowDomains))
			if err != nil {
				exitCode = 2
				return fmt.Errorf("resolve policy: %w", err)
			}
			out, err := json.MarshalIndent(resolved.Config, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			fmt.Printf("# layers used: %s (customized: %v)\n", strings.Join(resolved.LayersUsed, ", "), resolved.Customized)
			return nil
		},
	}
	cmd.Flags().StringVarP(&settings, "settings", "s", "", "Path to settings file")
	cmd.Flags().StringVarP(&template, "template", "t", "", "Built-in template to resolve")
	return cmd
}

// newProxyCmd implements `fencectl proxy`: a thin HTTP client for an
// already-running sandbox's admin control plane (/blocked, /mode, /reload),
// for an operator to poll without reaching for curl and hand-rolling the
// request.
func newProxyCmd() *cobra.Command {
	var adminPort int
	var setMode string
	var reload bool
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Query or control the sandbox's network proxy admin plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminPort == 0 {
				return fmt.Errorf("--admin-port is required")
			}
			base := fmt.Sprintf("http://127.0.0.1:%d", adminPort)
			client := &http.Client{Timeout: 5 * time.Second}

			switch {
			case reload:
				resp, err := client.Post(base+"/reload", "application/json", nil)
				if err != nil {
					return fmt.Errorf("reload: %w", err)
				}
				defer resp.Body.Close()
				fmt.Println("reload requested")
			case setMode != "":
				body := strings.NewReader(fmt.Sprintf(`{"mode":%q}`, setMode))
				resp, err := client.Post(base+"/mode", "application/json", body)
				if err != nil {
					return fmt.Errorf("set mode: %w", err)
				}
				defer resp.Body.Close()
				fmt.Printf("mode set to %s\n", setMode)
			default:
				resp, err := client.Get(base + "/blocked")
				if err != nil {
					return fmt.Errorf("list blocked: %w", err)
				}
				defer resp.Body.Close()
				var events []json.RawMessage
				if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
					return fmt.Errorf("decode blocked events: %w", err)
				}
				for _, e := range events {
					fmt.Println(string(e))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&adminPort, "admin-port", 0, "Admin control-plane port")
	cmd.Flags().StringVar(&setMode, "set-mode", "", "Set the proxy mode (full|limited)")
	cmd.Flags().BoolVar(&reload, "reload", false, "Force an immediate config reload")
	return cmd
}

// newUnifiedExecCmd implements `fencectl unified-exec`: spawn one
// PTY-backed command via the unified execution manager and print its
// output once, for interactive debugging of the unified_exec subsystem
// outside of an agent's own call loop.
func newUnifiedExecCmd() *cobra.Command {
	var timeoutMS int
	cmd := &cobra.Command{
		Use:   "unified-exec -- <command> [args...]",
		Short: "Run one command through the unified PTY execution manager",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnifiedExec(args, timeoutMS)
		},
	}
	cmd.Flags().IntVar(&timeoutMS, "timeout-ms", 1000, "Read timeout in milliseconds")
	return cmd
}

func loadConfig(settingsPath, templateName string, debug bool) (*config.Config, string, error) {
	var cfg *config.Config
	var err error
	var source string

	switch {
	case templateName != "":
		cfg, err = templates.Load(templateName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load template: %w\nUse --list-templates to see available templates", err)
		}
		source = "template:" + templateName
	case settingsPath != "":
		cfg, err = config.Load(settingsPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		absPath, _ := filepath.Abs(settingsPath)
		cfg, err = templates.ResolveExtendsWithBaseDir(cfg, filepath.Dir(absPath))
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve extends: %w", err)
		}
		source = settingsPath
	default:
		configPath := config.DefaultConfigPath()
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		if cfg == nil {
			if debug {
				fmt.Fprintf(os.Stderr, "[fencectl] No config found at %s, using default (block all network)\n", configPath)
			}
			cfg = config.Default()
			source = "default"
		} else {
			cfg, err = templates.ResolveExtendsWithBaseDir(cfg, filepath.Dir(configPath))
			if err != nil {
				return nil, "", fmt.Errorf("failed to resolve extends: %w", err)
			}
			source = configPath
		}
	}
	return cfg, source, nil
}

// resolvePolicyLayers builds the trust-ranked stack policy.Resolve folds
// into one effective config: a trusted system default, an optional
// trusted managed-policy document an administrator drops onto the host
// (FENCE_MANAGED_CONFIG), the invoking user's own ~/.fence.json (untrusted —
// only the system and managed layers set the ceiling), the project/template-resolved config
// loadConfig produced (untrusted, since a working tree's .fence.json is
// attacker-controlled the moment an agent can write to it), and finally
// this invocation's --session-allow-domain flags (untrusted, but highest
// rank so they apply on top of everything else once the constraint check
// below has already bounded them to the trusted ceiling).
func resolvePolicyLayers(cfg *config.Config, source string, sessionAllowDomains []string) []policy.Layer {
	layers := []policy.Layer{
		{Name: "system", Rank: policy.RankSystem, Trusted: true, Doc: config.Default()},
	}

	if managedPath := os.Getenv("FENCE_MANAGED_CONFIG"); managedPath != "" {
		if managed, err := config.Load(managedPath); err == nil && managed != nil {
			layers = append(layers, policy.Layer{Name: "managed", Rank: policy.RankManaged, Trusted: true, Doc: managed})
		}
	}

	if userPath := config.DefaultConfigPath(); userPath != "" {
		if user, err := config.Load(userPath); err == nil && user != nil {
			layers = append(layers, policy.Layer{Name: "user", Rank: policy.RankUser, Trusted: false, Doc: user})
		}
	}

	layers = append(layers, policy.Layer{Name: "project:" + source, Rank: policy.RankProject, Trusted: false, Doc: cfg})

	if len(sessionAllowDomains) > 0 {
		layers = append(layers, policy.Layer{
			Name:    "session-flags",
			Rank:    policy.RankSessionFlags,
			Trusted: false,
			Doc:     &config.Config{Network: config.NetworkConfig{AllowedDomains: sessionAllowDomains}},
		})
	}

	return layers
}

// boundedWriter keeps the most recent limit bytes written to it, trimming
// from the front, so a denial check can run against the tail of a
// potentially long-lived command's stderr without holding the whole stream
// in memory.
type boundedWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(p), nil
}

func (w *boundedWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// runPreflight extracts the hosts command is likely to contact and checks
// each against a throwaway Filter built from the resolved network policy,
// so an obviously-blocked command aborts before the sandbox is even spun
// up rather than failing inside the proxy partway through. store records
// each disposition; a host already in store is not evaluated again (a
// cached Denied or Abort blocks it, any other cached decision passes it).
func runPreflight(resolvedCfg *config.Config, mitmEnabled bool, command string, store *approval.Store, debug bool) error {
	tokens := sandbox.TokenizeCommand(command)
	filter := netproxy.NewFilter(resolvedCfg, netproxy.ModeFull, mitmEnabled, nil, false)

	for _, host := range preflight.Hosts(tokens) {
		key := approval.HostKey(host)
		if cached, ok := store.Lookup(key); ok {
			if cached == approval.Denied || cached == approval.Abort {
				return &fenceerr.PolicyBlock{Host: host, Reason: "denied"}
			}
			continue
		}

		d := filter.Evaluate(host, 0, "")
		if !d.Allowed {
			store.Record(key, approval.Denied)
			if debug {
				fmt.Fprintf(os.Stderr, "[fencectl] preflight: %s would contact %q, blocked by network policy (%s)\n", command, host, d.Reason)
			}
			return &fenceerr.PolicyBlock{Host: host, Reason: d.Reason}
		}
		store.Record(key, approval.Approved)
	}

	if preflight.NeedsSSHAuthSock(tokens) && !forwardSSHAgent && debug {
		fmt.Fprintf(os.Stderr, "[fencectl] command may need an SSH agent; SSH_AUTH_SOCK is not forwarded into the sandbox (pass --forward-ssh-agent)\n")
	}

	return nil
}

func runCommand(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("fencectl - lightweight, container-free sandbox for running untrusted commands\n")
		fmt.Printf("  Version: %s\n", version)
		fmt.Printf("  Built:   %s\n", buildTime)
		fmt.Printf("  Commit:  %s\n", gitCommit)
		return nil
	}

	if linuxFeatures {
		sandbox.PrintLinuxFeatures()
		return nil
	}

	if listTemplates {
		printTemplates()
		return nil
	}

	var command string
	switch {
	case cmdString != "":
		command = cmdString
	case len(args) > 0:
		command = strings.Join(args, " ")
	default:
		return fmt.Errorf("no command specified. Use -c <command> or provide command arguments")
	}

	if debug {
		fmt.Fprintf(os.Stderr, "[fencectl] Command: %s\n", command)
	}

	var ports []int
	for _, p := range exposePorts {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			exitCode = 2
			return fmt.Errorf("invalid port: %s", p)
		}
		ports = append(ports, port)
	}

	if debug && len(ports) > 0 {
		fmt.Fprintf(os.Stderr, "[fencectl] Exposing ports: %v\n", ports)
	}

	cfg, source, err := loadConfig(settingsPath, templateName, debug)
	if err != nil {
		exitCode = 2
		return err
	}
	if debug {
		fmt.Fprintf(os.Stderr, "[fencectl] Config source: %s\n", source)
	}

	resolved, err := policy.Resolve(resolvePolicyLayers(cfg, source, sessionAllowDomains))
	if err != nil {
		exitCode = 2
		return fmt.Errorf("resolve policy: %w", err)
	}
	if debug {
		fmt.Fprintf(os.Stderr, "[fencectl] Layers used: %s (customized: %v)\n", strings.Join(resolved.LayersUsed, ", "), resolved.Customized)
	}

	approvals := approval.NewStore()
	if err := runPreflight(resolved.Config, mitm, command, approvals, debug); err != nil {
		exitCode = 2
		return err
	}

	manager := sandbox.NewManager(resolved.Config, debug, monitor, mitm, source)
	manager.SetExposedPorts(ports)
	manager.SetForwardSSHAgent(forwardSSHAgent)
	defer manager.Cleanup()

	if err := manager.Initialize(); err != nil {
		exitCode = 3
		return fmt.Errorf("failed to initialize sandbox: %w", err)
	}

	var logMonitor *sandbox.LogMonitor
	if monitor {
		logMonitor = sandbox.NewLogMonitor(sandbox.GetSessionSuffix())
		if logMonitor != nil {
			if err := logMonitor.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "[fencectl] Warning: failed to start log monitor: %v\n", err)
			} else {
				defer logMonitor.Stop()
			}
		}
	}

	hardenedEnv := sandbox.GetHardenedEnv()
	if debug {
		if stripped := sandbox.GetStrippedEnvVars(os.Environ()); len(stripped) > 0 {
			fmt.Fprintf(os.Stderr, "[fencectl] Stripped dangerous env vars: %v\n", stripped)
		}
	}

	// attempt runs the command once, under the normal sandbox kind or,
	// once escalated, manager's looser re-plan. It returns a
	// *fenceerr.SandboxDenied when the child's early output matches a
	// known denial signature, which is the only error AttemptWithRetryIf
	// treats as retryable; every other failure (wrap/start/wait) sets
	// exitCode directly and is returned unchanged.
	attempt := func(loose bool) (int, error) {
		wrap := manager.WrapCommand
		if loose {
			wrap = manager.WrapCommandLoose
		}
		sandboxedCommand, err := wrap(command)
		if err != nil {
			exitCode = 3
			return 0, fmt.Errorf("failed to wrap command: %w", err)
		}

		if debug {
			fmt.Fprintf(os.Stderr, "[fencectl] Sandboxed command: %s\n", sandboxedCommand)
			fmt.Fprintf(os.Stderr, "[fencectl] Admin plane: http://127.0.0.1:%d\n", manager.AdminPort())
		}

		execCmd := exec.Command("sh", "-c", sandboxedCommand) //nolint:gosec // sandboxedCommand is constructed from user input - intentional
		execCmd.Env = hardenedEnv
		execCmd.Stdin = os.Stdin
		execCmd.Stdout = os.Stdout
		denied := &boundedWriter{limit: 4096}
		execCmd.Stderr = io.MultiWriter(os.Stderr, denied)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		spawnedAt := time.Now()
		if err := execCmd.Start(); err != nil {
			exitCode = 3
			return 0, fmt.Errorf("failed to start command: %w", err)
		}

		var linuxMonitors *sandbox.LinuxMonitors
		if monitor && execCmd.Process != nil {
			linuxMonitors, _ = sandbox.StartLinuxMonitor(execCmd.Process.Pid, sandbox.LinuxSandboxOptions{
				Monitor: true,
				Debug:   debug,
				UseEBPF: true,
			})
			if linuxMonitors != nil {
				defer linuxMonitors.Stop()
			}
		}

		// Note: Landlock is NOT applied here because:
		// 1. The sandboxed command is already running (Landlock only affects future children)
		// 2. Proper Landlock integration requires applying restrictions inside the sandbox
		// For now, filesystem isolation relies on bwrap mount namespaces.
		// Landlock code exists for future integration (e.g., via a wrapper binary).

		done := make(chan struct{})
		defer close(done)
		go func() {
			sigCount := 0
			for {
				select {
				case sig := <-sigChan:
					sigCount++
					if execCmd.Process == nil {
						continue
					}
					if sigCount >= 2 {
						_ = execCmd.Process.Kill()
					} else {
						_ = execCmd.Process.Signal(sig)
					}
				case <-done:
					return
				}
			}
		}()

		waitErr := execCmd.Wait()
		if waitErr == nil {
			return 0, nil
		}

		if snippet, isDenial := unifiedexec.CheckForSandboxDenial(denied.Bytes(), time.Since(spawnedAt)); isDenial {
			return 0, &fenceerr.SandboxDenied{Snippet: snippet}
		}

		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if exitErr.ExitCode() == -1 {
				return 130, nil
			}
			return exitErr.ExitCode(), nil
		}

		exitCode = 4
		return 0, fmt.Errorf("command failed: %w", waitErr)
	}

	loose := false
	launch := func() (int, error) { return attempt(loose) }
	shouldRetry := func(err error) bool {
		var denied *fenceerr.SandboxDenied
		return errors.As(err, &denied)
	}
	approve := func(err error) bool {
		if debug {
			if allowEscalation {
				fmt.Fprintf(os.Stderr, "[fencectl] %v; retrying once under a looser sandbox (--allow-escalation)\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "[fencectl] %v; pass --allow-escalation to retry under a looser sandbox\n", err)
			}
		}
		return allowEscalation
	}
	escalate := func() { loose = true }

	code, err := sandbox.AttemptWithRetryIf(launch, shouldRetry, approve, escalate)
	if err != nil {
		var denied *fenceerr.SandboxDenied
		if errors.As(err, &denied) {
			exitCode = 3
		}
		return err
	}

	exitCode = code
	return nil
}

// runUnifiedExec spawns one command through a standalone unified_exec
// manager and streams whatever output accumulates within timeoutMS before
// printing it. This is a diagnostic entrypoint, not how an agent actually
// drives unified_exec (it goes through the in-process Manager directly),
// so a single read-then-print is enough.
func runUnifiedExec(args []string, timeoutMS int) error {
	mgr := unifiedexec.NewManager()
	s, err := mgr.Spawn(args[0], args[1:], os.Environ(), "")
	if err != nil {
		exitCode = 3
		return fmt.Errorf("spawn: %w", err)
	}
	out, exited, err := mgr.Write(s.ID, nil, time.Duration(timeoutMS)*time.Millisecond)
	if err != nil {
		exitCode = 4
		return fmt.Errorf("read: %w", err)
	}
	os.Stdout.Write(out)
	if !exited {
		_ = mgr.Kill(s.ID)
	}
	return nil
}

// printTemplates prints all available templates to stdout.
func printTemplates() {
	fmt.Println("Available templates:")
	fmt.Println()
	for _, t := range templates.List() {
		fmt.Printf("  %-20s %s\n", t.Name, t.Description)
	}
	fmt.Println()
	fmt.Println("Usage: fencectl -t <template> <command>")
	fmt.Println("Example: fencectl -t code -- code")
}

// runLandlockWrapper runs in "wrapper mode" inside the sandbox.
// It applies Landlock restrictions and then execs the user command.
// Usage: fencectl --landlock-apply [--debug] -- <command...>
// Config is passed via FENCE_CONFIG_JSON environment variable.
func runLandlockWrapper() {
	args := os.Args[2:] // Skip "fencectl" and "--landlock-apply"

	var debugMode bool
	var cmdStart int

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--debug":
			debugMode = true
		case "--":
			cmdStart = i + 1
			goto parseCommand
		default:
			cmdStart = i
			goto parseCommand
		}
	}

parseCommand:
	if cmdStart >= len(args) {
		fmt.Fprintf(os.Stderr, "[fencectl:landlock-wrapper] Error: no command specified\n")
		os.Exit(1)
	}

	command := args[cmdStart:]

	if debugMode {
		fmt.Fprintf(os.Stderr, "[fencectl:landlock-wrapper] Applying Landlock restrictions\n")
	}

	if platform.Detect() == platform.Linux {
		var cfg *config.Config
		if configJSON := os.Getenv("FENCE_CONFIG_JSON"); configJSON != "" {
			cfg = &config.Config{}
			if err := json.Unmarshal([]byte(configJSON), cfg); err != nil {
				if debugMode {
					fmt.Fprintf(os.Stderr, "[fencectl:landlock-wrapper] Warning: failed to parse config: %v\n", err)
				}
				cfg = nil
			}
		}
		if cfg == nil {
			cfg = config.Default()
		}

		cwd, _ := os.Getwd()

		err := sandbox.ApplyLandlockFromConfig(cfg, cwd, nil, debugMode)
		if err != nil {
			if debugMode {
				fmt.Fprintf(os.Stderr, "[fencectl:landlock-wrapper] Warning: Landlock not applied: %v\n", err)
			}
		} else if debugMode {
			fmt.Fprintf(os.Stderr, "[fencectl:landlock-wrapper] Landlock restrictions applied\n")
		}
	}

	execPath, err := exec.LookPath(command[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "[fencectl:landlock-wrapper] Error: command not found: %s\n", command[0])
		os.Exit(127)
	}

	if debugMode {
		fmt.Fprintf(os.Stderr, "[fencectl:landlock-wrapper] Exec: %s %v\n", execPath, command[1:])
	}

	hardenedEnv := sandbox.FilterDangerousEnv(os.Environ())

	err = syscall.Exec(execPath, command, hardenedEnv) //nolint:gosec
	if err != nil {
		fmt.Fprintf(os.Stderr, "[fencectl:landlock-wrapper] Exec failed: %v\n", err)
		os.Exit(1)
	}
}
