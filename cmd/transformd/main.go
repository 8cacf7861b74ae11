package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/transformd/internal/api"
	"github.com/mattjoyce/transformd/internal/command"
	"github.com/mattjoyce/transformd/internal/config"
	"github.com/mattjoyce/transformd/internal/doctor"
	"github.com/mattjoyce/transformd/internal/history"
	"github.com/mattjoyce/transformd/internal/lock"
	"github.com/mattjoyce/transformd/internal/log"
	"github.com/mattjoyce/transformd/internal/scheduler"
	"github.com/mattjoyce/transformd/internal/storage"
	"github.com/mattjoyce/transformd/internal/transform"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK              = 0
	exitUsage           = 1
	exitFatal           = 2
	exitExpectedFailure = 3
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return exitUsage
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "transform":
		if hasHelpFlag(args) {
			printTransformHelp()
			return exitOK
		}
		return runTransform(args)
	case "check":
		if hasHelpFlag(args) {
			printCheckHelp()
			return exitOK
		}
		return runCheck(args)
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return exitOK
		}
		return runServe(args)
	case "history":
		return runHistoryNoun(args)
	case "config":
		return runConfigNoun(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Print(`transformd - file transformation through native converters and external tools

Usage:
  transformd <command> [flags]

Commands:
  transform         Convert one file
  check             Probe every engine and report availability
  serve             Run the operational HTTP API and history housekeeping
  history list      Show recent transforms
  history prune     Delete expired history entries
  config check      Validate configuration and declared tools
  config lock       Record configuration checksums
  version           Show version information
  help              Show this help message

Exit codes:
  0  success
  1  usage or configuration error, or request rejected before launch
  2  fatal failure
  3  expected failure (the tool exited with an accepted code)

Use 'transformd <command> --help' for command flags.
`)
}

func printTransformHelp() {
	fmt.Print(`Usage: transformd transform --source FILE --target FILE [flags]

Flags:
  --config PATH        Configuration file or directory
  --source FILE        Source file
  --target FILE        Target file
  --source-ext EXT     Source extension (default: from --source)
  --target-ext EXT     Target extension (default: from --target)
  --source-mime TYPE   Source mimetype
  --target-mime TYPE   Target mimetype
  --id ID              Request ID (default: generated)
  -o key=value         Transform option, repeatable
  --json               Print the outcome as JSON
`)
}

func printCheckHelp() {
	fmt.Println("Usage: transformd check [--config PATH] [--json]")
}

func printServeHelp() {
	fmt.Println("Usage: transformd serve [--config PATH] [--listen ADDR]")
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if isHelpToken(arg) {
			return true
		}
	}
	return false
}

// loadConfig resolves, loads and validates configuration and sets up logging.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	return cfg, nil
}

func newLauncher(cfg *config.Config) *command.Launcher {
	return &command.Launcher{DefaultTimeout: cfg.Service.DefaultTimeout}
}

// optionFlags collects repeated -o key=value flags.
type optionFlags map[string]string

func (o optionFlags) String() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+o[k])
	}
	return strings.Join(pairs, ",")
}

func (o optionFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("option %q must be key=value", value)
	}
	o[key] = val
	return nil
}

type transformOutput struct {
	RequestID string   `json:"request_id"`
	Engine    string   `json:"engine"`
	Template  string   `json:"template"`
	State     string   `json:"state"`
	Verdict   string   `json:"verdict"`
	Cause     string   `json:"cause,omitempty"`
	ExitCode  int      `json:"exit_code"`
	Duration  string   `json:"duration"`
	Argv      []string `json:"argv,omitempty"`
	Stdout    string   `json:"stdout,omitempty"`
	Stderr    string   `json:"stderr,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func runTransform(args []string) int {
	fs := flag.NewFlagSet("transform", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	source := fs.String("source", "", "Source file")
	target := fs.String("target", "", "Target file")
	sourceExt := fs.String("source-ext", "", "Source extension")
	targetExt := fs.String("target-ext", "", "Target extension")
	sourceMime := fs.String("source-mime", "", "Source mimetype")
	targetMime := fs.String("target-mime", "", "Target mimetype")
	requestID := fs.String("id", "", "Request ID")
	jsonOut := fs.Bool("json", false, "Output the outcome as JSON")
	opts := optionFlags{}
	fs.Var(opts, "o", "Transform option key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *source == "" || *target == "" || fs.NArg() > 0 {
		printTransformHelp()
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var svcOpts []transform.Option
	if cfg.History.Enabled {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open history: %s\n", historyError(err))
			return exitUsage
		}
		defer store.Close()
		svcOpts = append(svcOpts, transform.WithRecorder(store))
	}

	svc, err := transform.FromConfig(cfg, newLauncher(cfg), svcOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engines: %v\n", err)
		return exitUsage
	}

	res, err := svc.Transform(ctx, transform.Request{
		ID:              *requestID,
		SourcePath:      *source,
		TargetPath:      *target,
		SourceMimetype:  *sourceMime,
		TargetMimetype:  *targetMime,
		SourceExtension: *sourceExt,
		TargetExtension: *targetExt,
		Options:         opts,
	})
	if err != nil {
		if *jsonOut {
			printJSON(transformOutput{RequestID: res.RequestID, Engine: res.Engine, Error: err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "%s %v\n", styles.Fail.Render("rejected:"), err)
		}
		return exitUsage
	}

	o := res.Outcome
	out := transformOutput{
		RequestID: res.RequestID,
		Engine:    res.Engine,
		Template:  o.Template,
		State:     string(o.State),
		Verdict:   string(o.Verdict),
		Cause:     string(o.Cause),
		ExitCode:  o.ExitCode,
		Duration:  o.Duration.Round(time.Millisecond).String(),
		Argv:      o.Argv(),
		Stdout:    o.Stdout,
		Stderr:    o.Stderr,
	}
	if err := o.Err(); err != nil {
		out.Error = err.Error()
	}
	if *jsonOut {
		printJSON(out)
	} else {
		fmt.Print(renderOutcome(out))
	}

	switch o.Verdict {
	case command.VerdictSuccess:
		return exitOK
	case command.VerdictExpectedFailure:
		return exitExpectedFailure
	default:
		return exitFatal
	}
}

type checkOutput struct {
	Engine  string `json:"engine"`
	Ready   bool   `json:"ready"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// versioned is implemented by engines backed by an external tool.
type versioned interface {
	Version() (string, error)
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}
	svc, err := transform.FromConfig(cfg, newLauncher(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engines: %v\n", err)
		return exitUsage
	}

	ctx := context.Background()
	results := svc.CheckAvailable(ctx)
	engines := svc.Engines()
	rows := make([]checkOutput, 0, len(results))
	ready := true
	for i, a := range results {
		row := checkOutput{Engine: a.Engine, Ready: a.Available(), Error: a.Error}
		if v, ok := engines[i].(versioned); ok && row.Ready {
			row.Version, _ = v.Version()
		}
		if !row.Ready {
			ready = false
		}
		rows = append(rows, row)
	}

	if *jsonOut {
		printJSON(rows)
	} else {
		fmt.Print(renderCheck(rows))
	}
	if !ready {
		return exitFatal
	}
	return exitOK
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	listen := fs.String("listen", "", "Listen address (enables the API)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}
	if *listen != "" {
		cfg.API.Enabled = true
		cfg.API.Listen = *listen
	}
	logger := log.WithComponent("main")
	if !cfg.API.Enabled {
		logger.Error("api is disabled; set api.enabled or pass --listen")
		return exitUsage
	}
	logger.Info("transformd starting", "version", version, "config", cfg.Path)

	svc, err := transform.FromConfig(cfg, newLauncher(cfg))
	if err != nil {
		logger.Error("failed to build engines", "error", err)
		return exitUsage
	}
	logger.Info("engines loaded", "engines", svc.EngineNames())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var hist api.HistoryReader
	if cfg.History.Enabled {
		pidLock, err := lock.AcquirePIDLock(lock.PathFor(cfg.History.Path))
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "error", err)
			return exitUsage
		}
		defer pidLock.Release()

		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			logger.Error("failed to open history", "path", cfg.History.Path, "error", historyError(err))
			return exitUsage
		}
		defer store.Close()
		hist = store

		sched := scheduler.New(scheduler.Config{
			Interval:  cfg.History.PruneInterval,
			Retention: cfg.History.Retention,
			Jitter:    time.Minute,
		}, store, logger)
		sched.Start(ctx)
		defer sched.Stop()
	}

	server := api.New(api.Config{
		Listen:            cfg.API.Listen,
		ServiceName:       cfg.Service.Name,
		ConfigFingerprint: cfg.Fingerprint,
		ProbeTimeout:      cfg.Service.DefaultTimeout,
	}, svc, hist, log.Get())

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api server failed", "error", err)
		return exitFatal
	}
	logger.Info("transformd stopped")
	return exitOK
}

func runHistoryNoun(args []string) int {
	if len(args) > 0 && isHelpToken(args[0]) {
		fmt.Println("Usage: transformd history [list|prune] [--config PATH] [flags]")
		return exitOK
	}
	action := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		action, args = args[0], args[1:]
	}

	switch action {
	case "list":
		return runHistoryList(args)
	case "prune":
		return runHistoryPrune(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return exitUsage
	}
}

func openHistory(configPath string) (*history.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, errors.New("history is disabled in configuration")
	}
	return history.Open(context.Background(), cfg.History.Path)
}

// historyError appends the remedy for failures fixed in configuration.
func historyError(err error) string {
	if errors.Is(err, storage.ErrNetworkFilesystem) {
		return err.Error() + " (set history.path to a local disk)"
	}
	return err.Error()
}

func runHistoryList(args []string) int {
	fs := flag.NewFlagSet("history list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Number of entries")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	store, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History unavailable: %s\n", historyError(err))
		return exitUsage
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		return exitFatal
	}
	if *jsonOut {
		if entries == nil {
			entries = []history.Entry{}
		}
		printJSON(entries)
		return exitOK
	}
	fmt.Print(renderHistory(entries))
	return exitOK
}

func runHistoryPrune(args []string) int {
	fs := flag.NewFlagSet("history prune", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	olderThan := fs.Duration("older-than", 0, "Age to prune (default: history.retention)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}
	if !cfg.History.Enabled {
		fmt.Fprintln(os.Stderr, "History unavailable: history is disabled in configuration")
		return exitUsage
	}
	age := *olderThan
	if age <= 0 {
		age = cfg.History.Retention
	}
	if age <= 0 {
		fmt.Fprintln(os.Stderr, "Nothing to prune: no retention configured and no --older-than given")
		return exitUsage
	}

	store, err := history.Open(context.Background(), cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History unavailable: %s\n", historyError(err))
		return exitUsage
	}
	defer store.Close()

	n, err := store.Prune(context.Background(), age)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
		return exitFatal
	}
	fmt.Printf("Pruned %d entr(y/ies) older than %s\n", n, age)
	return exitOK
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: transformd config <check|lock> [flags]")
		return exitUsage
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: transformd config <check|lock> [flags]")
		return exitOK
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return exitUsage
	}
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if jsonOut {
		format = "json"
	}

	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return exitUsage
		}
		configPath = discovered
	}

	cfg, err := config.Read(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return exitUsage
	}

	result := doctor.New(cfg).Validate()
	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return exitUsage
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return exitUsage
	}
	if strict && len(result.Warnings) > 0 {
		return exitFatal
	}
	return exitOK
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verbose, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return exitUsage
		}
		configPath = discovered
	}
	absPath, err := config.ResolvePath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitUsage
	}

	dir := filepath.Dir(absPath)
	report, err := config.GenerateChecksumsWithReport(dir, config.LockedFiles(absPath), dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config in %s: %v\n", dir, err)
		return exitUsage
	}

	if verbose {
		for _, file := range report.Files {
			if file.Exists {
				fmt.Printf("  HASH %s: %s\n", file.Filename, file.Hash)
				continue
			}
			fmt.Printf("  SKIP %s: not found (optional)\n", file.Filename)
		}
	}
	if dryRun {
		fmt.Printf("Dry run completed (no files written): %s\n", report.ChecksumPath)
	} else {
		fmt.Printf("Successfully locked configuration: %s\n", report.ChecksumPath)
	}
	return exitOK
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: transformd version [--json]")
		return exitUsage
	}

	info := currentVersionInfo()
	if *jsonOut {
		printJSON(info)
		return exitOK
	}

	fmt.Printf("transformd %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
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
		info.Commit = shortenCommit(commit)
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

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
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

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
