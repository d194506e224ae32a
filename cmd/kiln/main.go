package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kilnhq/kiln/internal/action"
	"github.com/kilnhq/kiln/internal/config"
	"github.com/kilnhq/kiln/internal/daemon"
	"github.com/kilnhq/kiln/internal/doctor"
	"github.com/kilnhq/kiln/internal/events"
	"github.com/kilnhq/kiln/internal/history"
	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/session"
	"github.com/kilnhq/kiln/internal/template"
	"github.com/kilnhq/kiln/internal/tui"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

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
	case "job":
		return runJobNoun(args)
	case "template":
		return runTemplateNoun(args)
	case "daemon":
		return runDaemonNoun(args)

	case "doctor":
		if hasHelpFlag(args) {
			printDoctorHelp()
			return 0
		}
		return runDoctor(args)

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

// --- NOUN DISPATCHERS ---

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "run":
		if hasHelpFlag(actionArgs) {
			printJobRunHelp()
			return 0
		}
		return runJobRun(actionArgs)
	case "watch":
		// Alias for run --watch.
		if hasHelpFlag(actionArgs) {
			printJobRunHelp()
			return 0
		}
		return runJobRun(append([]string{"--watch"}, actionArgs...))
	case "check":
		if hasHelpFlag(actionArgs) {
			printJobCheckHelp()
			return 0
		}
		return runJobCheck(actionArgs)
	case "history":
		if hasHelpFlag(actionArgs) {
			printJobHistoryHelp()
			return 0
		}
		return runJobHistory(actionArgs)
	case "help":
		printJobNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

func runTemplateNoun(args []string) int {
	if len(args) < 1 {
		printTemplateNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printTemplateNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printTemplateLockHelp()
			return 0
		}
		return runTemplateLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printTemplateCheckHelp()
			return 0
		}
		return runTemplateCheck(actionArgs)
	case "help":
		printTemplateNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown template action: %s\n", action)
		return 1
	}
}

func runDaemonNoun(args []string) int {
	if len(args) < 1 {
		printDaemonNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printDaemonNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printDaemonStartHelp()
			return 0
		}
		return runDaemonStart(actionArgs)
	case "run":
		if hasHelpFlag(actionArgs) {
			printDaemonRunHelp()
			return 0
		}
		return runDaemonRun(actionArgs)
	case "stop":
		if hasHelpFlag(actionArgs) {
			printDaemonStopHelp()
			return 0
		}
		return runDaemonStop(actionArgs)
	case "_serve":
		// Internal: the foreground serve loop `daemon start` re-executes.
		return runDaemonServe(actionArgs)
	case "help":
		printDaemonNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown daemon action: %s\n", action)
		return 1
	}
}

// --- JOB VERBS ---

func runJobRun(args []string) int {
	fs, opts := jobFlags("job run")
	watch := fs.Bool("watch", false, "Show the live session monitor TUI")
	configPath := fs.String("config", "", "Config file (default $KILN_CONFIG or ~/.kiln/config.yaml)")
	historyPath := fs.String("history", "", "History database path ('off' disables)")
	gracePeriod := fs.Duration("grace-period", 0, "Cancellation notify-to-terminate window")
	logLevel := fs.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(config.Discover(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Flags override the config file, which overrides built-in defaults.
	if *logLevel == "" {
		*logLevel = cfg.Log.Level
	}
	if *gracePeriod == 0 {
		*gracePeriod = cfg.Session.GracePeriod
	}
	if *historyPath == "" {
		*historyPath = cfg.History.Path
	}
	if opts.pathMappingRules == "" {
		opts.pathMappingRules = cfg.PathMappingRulesFile
	}

	log.Setup(*logLevel)
	logger := log.WithComponent("main")

	tmpl, ret := loadAndVerifyTemplate(opts.templatePath)
	if tmpl == nil {
		return ret
	}

	hub := events.NewHub(256)

	var store *history.Store
	if *historyPath != "off" {
		db, err := history.OpenSQLite(context.Background(), *historyPath)
		if err != nil {
			logger.Warn("history disabled: failed to open database", "path", *historyPath, "error", err)
		} else {
			defer db.Close()
			store = history.NewStore(db)
		}
	}

	controller, err := session.New(session.Options{
		Template:             tmpl,
		TemplatePath:         opts.templatePath,
		Parameters:           opts.params,
		WorkingDirectory:     opts.workingDir,
		PathMappingRulesFile: opts.pathMappingRules,
		GracePeriod:          *gracePeriod,
	}, action.NewProcessRunner(), hub, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received cancellation signal", "signal", sig)
		cancel()
	}()

	if *watch {
		return runJobWithMonitor(ctx, controller, tmpl.Name, hub)
	}

	summary, err := controller.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return reportSummary(summary)
}

// runJobWithMonitor runs the session in the background and the TUI in the
// foreground; the monitor quits itself when the session finishes.
func runJobWithMonitor(ctx context.Context, controller *session.Controller, jobName string, hub *events.Hub) int {
	type runOutcome struct {
		summary *session.Summary
		err     error
	}
	outcomeCh := make(chan runOutcome, 1)
	go func() {
		summary, err := controller.Run(ctx)
		outcomeCh <- runOutcome{summary, err}
	}()

	m := tui.NewMonitor(jobName, hub)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
	}

	outcome := <-outcomeCh
	if outcome.err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", outcome.err)
		return 1
	}
	return reportSummary(outcome.summary)
}

func reportSummary(summary *session.Summary) int {
	fmt.Printf("session %s: %s (%d frames)\n",
		summary.SessionID, summary.Status, len(summary.Frames))
	for _, task := range summary.Tasks {
		line := fmt.Sprintf("  frame %d: %s", task.Frame, task.Status)
		if task.Error != "" {
			line += ": " + task.Error
		}
		fmt.Println(line)
	}
	if summary.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", summary.Error)
	}

	switch summary.Status {
	case history.StatusSucceeded:
		return 0
	case history.StatusCancelled:
		return 130
	default:
		return 1
	}
}

func runJobCheck(args []string) int {
	fs, opts := jobFlags("job check")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.Setup("ERROR")

	tmpl, ret := loadAndVerifyTemplate(opts.templatePath)
	if tmpl == nil {
		return ret
	}

	values, err := tmpl.ResolveValues(opts.params)
	if err == nil {
		err = tmpl.ValidateValues(values)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
		return 1
	}

	fmt.Printf("OK: %s (%d parameters, %d steps)\n",
		tmpl.Name, len(tmpl.ParameterDefinitions), len(tmpl.Steps))
	return 0
}

func runJobHistory(args []string) int {
	fs := newFlagSet("job history")
	configPath := fs.String("config", "", "Config file")
	historyPath := fs.String("history", "", "History database path")
	limit := fs.Int("limit", 20, "Maximum sessions to list")
	sessionID := fs.String("session", "", "Show the tasks of one session")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.Setup("ERROR")

	cfg, err := config.Load(config.Discover(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	path := *historyPath
	if path == "" {
		path = cfg.History.Path
	}
	if path == "off" {
		fmt.Fprintln(os.Stderr, "History recording is disabled.")
		return 1
	}

	ctx := context.Background()
	db, err := history.OpenSQLite(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history database: %v\n", err)
		return 1
	}
	defer db.Close()
	store := history.NewStore(db)

	if *sessionID != "" {
		return showSessionTasks(ctx, store, *sessionID)
	}

	sessions, err := store.ListSessions(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list sessions: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return 0
	}

	for _, rec := range sessions {
		line := fmt.Sprintf("%s  %-9s  %-24s  frames=%s  %s",
			rec.ID[:8], rec.Status, rec.JobName, rec.Frames,
			rec.CreatedAt.Local().Format(time.RFC3339))
		if rec.LastError != nil {
			line += "  error=" + *rec.LastError
		}
		fmt.Println(line)
	}
	return 0
}

func showSessionTasks(ctx context.Context, store *history.Store, prefix string) int {
	// Accept the short ID form the list output shows.
	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list sessions: %v\n", err)
		return 1
	}
	var rec *history.SessionRecord
	for _, s := range sessions {
		if s.ID == prefix || strings.HasPrefix(s.ID, prefix) {
			rec = s
			break
		}
	}
	if rec == nil {
		fmt.Fprintf(os.Stderr, "No session matches %q\n", prefix)
		return 1
	}

	fmt.Printf("session %s: %s (%s, frames=%s)\n", rec.ID, rec.Status, rec.JobName, rec.Frames)
	tasks, err := store.ListTasks(ctx, rec.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list tasks: %v\n", err)
		return 1
	}
	for _, task := range tasks {
		line := fmt.Sprintf("  frame %-6d %s", task.Frame, task.Status)
		if task.ExitCode != nil {
			line += fmt.Sprintf("  exit=%d", *task.ExitCode)
		}
		if task.LastError != nil {
			line += "  error=" + *task.LastError
		}
		fmt.Println(line)
	}
	return 0
}

// --- TEMPLATE VERBS ---

func runTemplateLock(args []string) int {
	fs := newFlagSet("template lock")
	templatePath := fs.String("template", "job-template.yaml", "Job template path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.Setup("ERROR")

	// Parse first so we never lock a malformed document.
	if _, err := template.Load(*templatePath); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock: %v\n", err)
		return 1
	}

	dir := filepath.Dir(*templatePath)
	manifest, err := template.Lock(dir, []string{filepath.Base(*templatePath)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	fmt.Printf("Locked %d file(s) in %s\n", len(manifest.Hashes), dir)
	for name, hash := range manifest.Hashes {
		fmt.Printf("  %s  %s\n", hash[:16], name)
	}
	return 0
}

func runTemplateCheck(args []string) int {
	fs := newFlagSet("template check")
	templatePath := fs.String("template", "job-template.yaml", "Job template path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.Setup("ERROR")

	tmpl, ret := loadAndVerifyTemplate(*templatePath)
	if tmpl == nil {
		return ret
	}

	fmt.Printf("OK: %s\n", tmpl.Name)
	return 0
}

// --- DAEMON VERBS ---

func runDaemonStart(args []string) int {
	fs := newFlagSet("daemon start")
	connectionFile := fs.String("connection-file", "", "Connection file path to create")
	initData := fs.String("init-data", "", "Init data URI (file:// path or data: payload)")
	pathMappingRules := fs.String("path-mapping-rules", "", "Path mapping rules URI")
	timeout := fs.Duration("timeout", daemon.DefaultStartTimeout, "How long to wait for readiness")
	logLevel := fs.String("log-level", "INFO", "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.Setup(*logLevel)

	if *connectionFile == "" || *initData == "" {
		fmt.Fprintln(os.Stderr, "Error: --connection-file and --init-data are required")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	err := daemon.Start(ctx, daemon.StartOptions{
		ConnectionFile:      *connectionFile,
		InitDataURI:         *initData,
		PathMappingRulesURI: *pathMappingRules,
		Timeout:             *timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Daemon start failed: %v\n", err)
		return 1
	}
	fmt.Printf("daemon ready (connection file %s)\n", *connectionFile)
	return 0
}

func runDaemonServe(args []string) int {
	fs := newFlagSet("daemon _serve")
	connectionFile := fs.String("connection-file", "", "Connection file path to create")
	initData := fs.String("init-data", "", "Init data URI")
	pathMappingRules := fs.String("path-mapping-rules", "", "Path mapping rules URI")
	logLevel := fs.String("log-level", "INFO", "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.Setup(*logLevel)
	logger := log.WithComponent("daemon")

	// The config file can pin the renderer binary for hosts where it is not
	// on PATH; the environment variable still wins.
	if os.Getenv(daemon.EnvKickExecutable) == "" {
		if cfg, err := config.Load(config.Discover("")); err == nil && cfg.Daemon.KickExecutable != "" {
			os.Setenv(daemon.EnvKickExecutable, cfg.Daemon.KickExecutable)
		}
	}

	server, err := daemon.NewServer(daemon.ServerOptions{
		ConnectionFile:      *connectionFile,
		InitDataURI:         *initData,
		PathMappingRulesURI: *pathMappingRules,
	})
	if err != nil {
		logger.Error("daemon init failed", "error", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := server.Run(ctx); err != nil {
		logger.Error("daemon failed", "error", err)
		return 1
	}
	return 0
}

func runDaemonRun(args []string) int {
	fs := newFlagSet("daemon run")
	connectionFile := fs.String("connection-file", "", "Connection file of the running daemon")
	runData := fs.String("run-data", "", "Run data URI (file:// path or data: payload)")
	logLevel := fs.String("log-level", "INFO", "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.Setup(*logLevel)

	if *connectionFile == "" || *runData == "" {
		fmt.Fprintln(os.Stderr, "Error: --connection-file and --run-data are required")
		return 1
	}

	payload, err := daemon.ReadDataURI(*runData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read run data: %v\n", err)
		return 1
	}

	client, err := daemon.NewClient(*connectionFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read connection file: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	report, code, err := client.Run(ctx, payload, func(percent int) {
		// The session controller scans this exact shape for live progress.
		fmt.Printf("[PROGRESS] %d percent\n", percent)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 1
	}

	out, _ := json.Marshal(report)
	fmt.Println(string(out))
	return code
}

func runDaemonStop(args []string) int {
	fs := newFlagSet("daemon stop")
	connectionFile := fs.String("connection-file", "", "Connection file of the running daemon")
	logLevel := fs.String("log-level", "INFO", "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.Setup(*logLevel)

	if *connectionFile == "" {
		fmt.Fprintln(os.Stderr, "Error: --connection-file is required")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := daemon.Stop(ctx, *connectionFile); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon stop failed: %v\n", err)
		return 1
	}
	return 0
}

// --- DOCTOR ---

func runDoctor(args []string) int {
	fs := newFlagSet("doctor")
	configPath := fs.String("config", "", "Config file (default $KILN_CONFIG or ~/.kiln/config.yaml)")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	var templates []string
	fs.Func("template", "Job template to check (repeatable)", func(v string) error {
		templates = append(templates, v)
		return nil
	})
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.Setup("ERROR")

	cfg, err := config.Load(config.Discover(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	d := doctor.New(cfg)
	d.TemplatePaths = templates
	result := d.Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

// --- SHARED HELPERS ---

// loadAndVerifyTemplate checks the integrity manifest, then parses. A nil
// template means failure; the int is the exit code to return.
func loadAndVerifyTemplate(path string) (*template.Template, int) {
	if err := template.VerifyIntegrity(path); err != nil {
		fmt.Fprintf(os.Stderr, "Integrity check failed: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'kiln template lock' after intentional edits.")
		return nil, 1
	}
	tmpl, err := template.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load template: %v\n", err)
		return nil, 1
	}
	return tmpl, 0
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// --- VERSION ---

func runVersion(args []string) int {
	fs := newFlagSet("version")
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit == "" {
		commit = "unknown"
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(map[string]string{
			"version": version,
			"commit":  commit,
		}, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("kiln %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	return 0
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

// --- USAGE ---

func printUsage() {
	fmt.Print(`kiln - Render job session engine

Usage:
  kiln <noun> <action> [flags]

Job Commands:
  job run        Execute a job template (validate, enter environment, render, exit)
  job check      Validate a template and parameter set without running
  job history    List recorded sessions and their tasks

Template Commands:
  template lock  Write the integrity manifest (.checksums) for a template
  template check Verify integrity and parse a template

Daemon Commands:
  daemon start   Launch the render daemon in the background, wait until ready
  daemon run     Render one frame against a running daemon
  daemon stop    Shut down a running daemon (no-op when already gone)

General:
  doctor         Check configuration, renderer, history storage and templates
  version        Show version information
  help           Show this help message

Use 'kiln <noun> help' for resource-specific flags.
`)
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: kiln job <action> [flags]")
	fmt.Fprintln(w, "Actions: run, watch, check, history")
}

func printTemplateNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: kiln template <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check")
}

func printDaemonNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: kiln daemon <action> [flags]")
	fmt.Fprintln(w, "Actions: start, run, stop")
}

func printJobRunHelp() {
	fmt.Println("Usage: kiln job run --template PATH [--param NAME=VALUE ...] [flags]")
	fmt.Println("Run a job template end to end.")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("  --param NAME=VALUE      Set a job parameter (repeatable)")
	fmt.Println("  --frames EXPR           Shorthand for --param Frames=EXPR")
	fmt.Println("  --working-dir PATH      Session working directory (default: temp dir)")
	fmt.Println("  --path-mapping-rules F  Path mapping rules file")
	fmt.Println("  --history PATH          History database ('off' disables)")
	fmt.Println("  --grace-period D        Cancellation grace window (default 5s)")
	fmt.Println("  --watch                 Live session monitor TUI")
}

func printJobCheckHelp() {
	fmt.Println("Usage: kiln job check --template PATH [--param NAME=VALUE ...]")
	fmt.Println("Validate the template and parameters; nothing is executed.")
}

func printJobHistoryHelp() {
	fmt.Println("Usage: kiln job history [--history PATH] [--limit N] [--session ID]")
	fmt.Println("List recorded sessions, or the tasks of one session.")
}

func printTemplateLockHelp() {
	fmt.Println("Usage: kiln template lock [--template PATH]")
	fmt.Println("Write the .checksums integrity manifest next to the template.")
}

func printTemplateCheckHelp() {
	fmt.Println("Usage: kiln template check [--template PATH]")
	fmt.Println("Verify the integrity manifest and parse the template.")
}

func printDaemonStartHelp() {
	fmt.Println("Usage: kiln daemon start --connection-file PATH --init-data URI [--path-mapping-rules URI]")
	fmt.Println("Launch the render daemon in the background; blocks until it is ready.")
}

func printDaemonRunHelp() {
	fmt.Println("Usage: kiln daemon run --connection-file PATH --run-data URI")
	fmt.Println("Render one frame; prints progress lines and the final report.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0    Frame rendered")
	fmt.Println("  102  Render failed")
	fmt.Println("  104  Renderer license failure")
}

func printDoctorHelp() {
	fmt.Println("Usage: kiln doctor [--config PATH] [--template PATH ...] [--json]")
	fmt.Println("Validate the installation: config, renderer binary, history storage,")
	fmt.Println("path mapping rules and (optionally) job templates.")
}

func printDaemonStopHelp() {
	fmt.Println("Usage: kiln daemon stop --connection-file PATH")
	fmt.Println("Shut down the daemon. Missing or stale connection files are a no-op.")
}
