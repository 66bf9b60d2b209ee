package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/api"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/auth"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/cache"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/capability"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/config"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/events"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/history"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/lock"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/log"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/orchestrator"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/plugin"

	// Built-in capability drivers register themselves on import.
	_ "github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/plugins/recommender"
	_ "github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/plugins/valuation"
	_ "github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/plugins/zillow"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const watchInterval = 10 * time.Second

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "plugin":
		return runPluginNoun(args)
	case "task":
		return runTaskNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`reicore - Pluggable real-estate analysis platform core

Usage:
  reicore <noun> <action> [flags]

System Commands:
  system start      Start the platform core in foreground

Config Commands:
  config check      Validate configuration syntax and policy

Plugin Commands:
  plugin list       Show discovered plugin manifests

Task Commands:
  task inspect <id> Show a task's history record and attempt log

General:
  --version         Show version information
  version           Show version information
  help              Show this help message
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: reicore system start [--config PATH]")
		if len(args) >= 1 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "start":
		return runStart(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: reicore config check [--config PATH]")
		if len(args) >= 1 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runPluginNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: reicore plugin list [--config PATH] [--json]")
		if len(args) >= 1 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "list":
		return runPluginList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n", args[0])
		return 1
	}
}

func runTaskNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: reicore task inspect <id> [--config PATH]")
		if len(args) >= 1 {
			return 0
		}
		return 1
	}
	switch args[0] {
	case "inspect":
		return runTaskInspect(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown task action: %s\n", args[0])
		return 1
	}
}

func isHelpToken(s string) bool {
	return s == "help" || s == "--help" || s == "-h"
}

// --- VERSION ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("reicore %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// --- ACTIONS ---

func loadConfigArg(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			return nil, "", fmt.Errorf("discover config: %w", err)
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, resolved, err := loadConfigArg(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		return 1
	}

	manifests, errs := plugin.Discover([]string{cfg.PluginsDir}, log.Get())
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "WARN: %v\n", e)
	}

	fmt.Printf("OK: %s\n", resolved)
	fmt.Printf("  service: %s (log_level=%s)\n", cfg.Service.Name, cfg.Service.LogLevel)
	fmt.Printf("  workers: %d, queue: %d\n", cfg.Orchestrator.MaxWorkers, cfg.Orchestrator.QueueCapacity)
	fmt.Printf("  plugins discovered: %d, manifest errors: %d\n", len(manifests), len(errs))
	if len(errs) > 0 {
		return 1
	}
	return 0
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output manifests as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := loadConfigArg(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	manifests, errs := plugin.Discover([]string{cfg.PluginsDir}, log.Get())
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "WARN: %v\n", e)
	}

	if *jsonOut {
		data, err := json.MarshalIndent(manifests, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("%-28s %-10s %-12s %-8s %s\n", "NAME", "VERSION", "DRIVER", "ENABLED", "CAPABILITIES")
	for _, m := range manifests {
		caps := make([]string, 0, len(m.Capabilities))
		for _, c := range m.Capabilities {
			caps = append(caps, c.Name)
		}
		enabled := "no"
		if pc, ok := cfg.Plugins[m.Name]; ok && pc.Enabled {
			enabled = "yes"
		}
		fmt.Printf("%-28s %-10s %-12s %-8s %s\n", m.Name, m.Version, m.Driver, enabled, strings.Join(caps, ","))
	}
	return 0
}

func runTaskInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: reicore task inspect <id> [--config PATH]")
		return 1
	}
	taskID := fs.Arg(0)

	cfg, _, err := loadConfigArg(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	hist, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history: %v\n", err)
		return 1
	}
	defer hist.Close()

	rec, attempts, err := hist.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Task not found: %s\n", taskID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to read task: %v\n", err)
		return 1
	}

	out := struct {
		Task     *history.TaskRecord `json:"task"`
		Attempts []history.Attempt   `json:"attempts"`
	}{rec, attempts}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, err := loadConfigArg(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("reicore starting", "version", version, "config", resolved)

	pidLockPath := filepath.Join(filepath.Dir(cfg.History.Path), "reicore.pid")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(256)

	var remote cache.RemoteStore
	if cfg.Cache.Redis.Enabled {
		remote = cache.NewRedisStore(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB)
		logger.Info("remote cache tier enabled", "addr", cfg.Cache.Redis.Addr, "db", cfg.Cache.Redis.DB)
	}
	tier := cache.New(cfg.Cache, remote, hub, log.WithComponent("cache"))
	defer tier.Close()

	hist, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		logger.Error("failed to open task history", "path", cfg.History.Path, "error", err)
		return 1
	}
	defer hist.Close()
	logger.Info("task history opened", "path", cfg.History.Path)

	pluginConfigs := make(map[string]map[string]any, len(cfg.Plugins))
	for name, pc := range cfg.Plugins {
		pluginConfigs[name] = pc.Config
	}
	env := capability.Env{Cache: tier, Logger: log.WithComponent("plugin")}
	registry := plugin.NewRegistry(env, pluginConfigs, hub, log.WithComponent("plugin"))

	manifests, discErrs := plugin.Discover([]string{cfg.PluginsDir}, logger)
	for _, e := range discErrs {
		logger.Warn("manifest rejected", "error", e)
	}
	for _, e := range registry.Load(ctx, manifests) {
		logger.Warn("plugin load failed", "error", e)
	}
	for name, pc := range cfg.Plugins {
		if !pc.Enabled {
			continue
		}
		if err := registry.Enable(name); err != nil {
			logger.Warn("plugin enable failed", "plugin", name, "error", err)
		}
	}
	logger.Info("plugin registry ready", "discovered", len(manifests), "enabled", countEnabled(registry))

	orch := orchestrator.New(cfg.Orchestrator, registry, hist, hub, log.WithComponent("orchestrator"))
	orch.Start(ctx)

	watchPath := resolved
	if stat, err := os.Stat(watchPath); err == nil && stat.IsDir() {
		watchPath = filepath.Join(watchPath, "config.yaml")
	}
	watcher, err := config.NewWatcher(watchPath, watchInterval, hub, log.WithComponent("config"), func(next *config.Config) {
		applyPluginToggles(registry, next, logger)
	})
	if err != nil {
		logger.Warn("config watcher disabled", "path", watchPath, "error", err)
	} else {
		go watcher.Watch(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens)+1)
		if cfg.API.Auth.APIKey != "" {
			tokens = append(tokens, auth.TokenConfig{Token: cfg.API.Auth.APIKey, Scopes: []string{"*"}})
		}
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			Tokens: tokens,
		}, orch, registry, tier, hist, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("reicore running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exitCode = 1
	}

	if !orch.Drain(cfg.Orchestrator.DrainTimeout) {
		logger.Warn("drain deadline hit, abandoning in-flight tasks", "timeout", cfg.Orchestrator.DrainTimeout)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	registry.Shutdown(shutdownCtx)
	shutdownCancel()

	logger.Info("reicore stopped")
	return exitCode
}

// applyPluginToggles reconciles the enabled set against a freshly reloaded
// config. Plugin config changes require a hot-reload through the API; only
// the enabled flag is applied live.
func applyPluginToggles(registry *plugin.Registry, next *config.Config, logger *slog.Logger) {
	for name, pc := range next.Plugins {
		info, ok := registry.Get(name)
		if !ok {
			continue
		}
		if pc.Enabled && info.State != plugin.StateEnabled {
			if err := registry.Enable(name); err != nil {
				logger.Warn("plugin enable failed on reload", "plugin", name, "error", err)
			}
		}
		if !pc.Enabled && info.State == plugin.StateEnabled {
			if err := registry.Disable(name); err != nil {
				logger.Warn("plugin disable failed on reload", "plugin", name, "error", err)
			}
		}
	}
}

func countEnabled(registry *plugin.Registry) int {
	n := 0
	for _, info := range registry.List() {
		if info.State == plugin.StateEnabled {
			n++
		}
	}
	return n
}
