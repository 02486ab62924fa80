// PersonaFlow runs autonomous persona agents against a target shop API
// and synthesizes their experiences into a UX report.
//
// It exposes a REST control API with per-session WebSocket log
// streaming, and ships a deliberately flawed mock shop API to point
// the agents at. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	personaflow init [dir]           Write an example config file (default: .)
//	personaflow serve                Start the control API server
//	personaflow mockapi              Start only the mock shop API
//	personaflow run <api-url>        Run the built-in personas once and print the report
//	personaflow version              Print version and build information
//	personaflow -o json version      Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dhruvshrma/persona-flow/internal/api"
	"github.com/dhruvshrma/persona-flow/internal/architect"
	"github.com/dhruvshrma/persona-flow/internal/buildinfo"
	"github.com/dhruvshrma/persona-flow/internal/config"
	"github.com/dhruvshrma/persona-flow/internal/llm"
	"github.com/dhruvshrma/persona-flow/internal/mockapi"
	"github.com/dhruvshrma/persona-flow/internal/mqtt"
	"github.com/dhruvshrma/persona-flow/internal/persona"
	"github.com/dhruvshrma/persona-flow/internal/session"
)

// defaultGoal is used by the run subcommand when no goal is given.
const defaultGoal = "Find a product you want, add it to your cart, and complete the checkout process."

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the personaflow command. All
// OS-level dependencies are injected as parameters: ctx controls the
// process lifetime, stdout and stderr receive all output, and args is
// os.Args[1:]. Arguments are parsed by hand because the flag package's
// global state interferes with parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "mockapi":
		return runMockAPI(ctx, stdout, configPath)
	case "run":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: personaflow run <api-url> [goal]")
		}
		goal := defaultGoal
		if len(cmdArgs) > 1 {
			goal = strings.Join(cmdArgs[1:], " ")
		}
		return runOnce(ctx, stdout, stderr, configPath, cmdArgs[0], goal)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "PersonaFlow - Autonomous Persona Testing")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: personaflow [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init [dir]         Write an example config file (default: .)")
	fmt.Fprintln(w, "  serve              Start the control API server")
	fmt.Fprintln(w, "  mockapi            Start only the mock shop API")
	fmt.Fprintln(w, "  run <url> [goal]   Run the built-in personas once, print the report")
	fmt.Fprintln(w, "  version            Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./personaflow.yaml, ~/.config/personaflow/config.yaml,")
	fmt.Fprintln(w, "  /etc/personaflow/config.yaml")
	return nil
}

// runServe handles the "personaflow serve" subcommand. It is the
// primary operating mode: loads config, opens the session store,
// builds the gateway client and session runner, starts the control API
// (and optionally the embedded mock shop and MQTT mirror), and blocks
// until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting PersonaFlow", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// A config fault is fatal here, before any session can start.
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	if cfg.LogLevel != "" {
		// ParseLogLevel errors surface as a fallback to Info; a typo in
		// log_level should not stop the server.
		if level, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
			logger = newLogger(stdout, level)
		}
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.Model,
		"llm_url", cfg.LLM.URL,
	)

	store, err := session.NewStore(cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	client := llm.NewOllamaClient(cfg.LLM.URL, cfg.LLM.Model, cfg.LLM.Timeout(), logger)

	reportModel := cfg.LLM.ReportModel
	if reportModel == "" {
		reportModel = cfg.LLM.Model
	}
	arch := architect.New(client, reportModel, logger)

	hub := api.NewHub(logger)
	sink := session.Sink(hub)

	var mirror *mqtt.Mirror
	if cfg.MQTT.Enabled {
		mirror = mqtt.NewMirror(cfg.MQTT, logger)
		sink = session.MultiSink(hub, mirror)
		go func() {
			if err := mirror.Start(ctx); err != nil {
				logger.Error("mqtt mirror failed", "error", err)
			}
		}()
		logger.Info("mqtt mirroring enabled", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt mirroring disabled")
	}

	runner := session.NewRunner(store, client, arch,
		session.WithSink(sink),
		session.WithMarkers(cfg.Agent.SuccessMarkers),
		session.WithLogger(logger),
	)

	var mock *mockapi.Server
	if cfg.MockAPI.Enabled {
		mock = mockapi.New(cfg.MockAPI.Address, cfg.MockAPI.Port,
			mockapi.WithCartDelay(time.Duration(cfg.MockAPI.CartDelayMs)*time.Millisecond),
			mockapi.WithLogger(logger),
		)
		go func() {
			if err := mock.Start(ctx); err != nil {
				logger.Error("mock shop API failed", "error", err)
			}
		}()
	} else {
		logger.Info("embedded mock shop API disabled")
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, store, runner, arch, hub, logger)

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if mirror != nil {
			if err := mirror.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if mock != nil {
			_ = mock.Shutdown(shutdownCtx)
		}
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("PersonaFlow stopped")
	return nil
}

// runMockAPI handles the "personaflow mockapi" subcommand: just the
// flawed shop, for pointing an externally hosted PersonaFlow (or a
// curious human) at. Runs with defaults when no config file exists.
func runMockAPI(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)

	cfg := config.Default()
	if cfgPath, err := config.FindConfig(configPath); err == nil {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", cfgPath, err)
		}
		logger.Info("config loaded", "path", cfgPath)
	} else if configPath != "" {
		return err
	}

	mock := mockapi.New(cfg.MockAPI.Address, cfg.MockAPI.Port,
		mockapi.WithCartDelay(time.Duration(cfg.MockAPI.CartDelayMs)*time.Millisecond),
		mockapi.WithLogger(logger),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = mock.Shutdown(shutdownCtx)
	}()

	if err := mock.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("mock shop API failed: %w", err)
		}
	}
	return nil
}

// runOnce handles the "personaflow run <api-url> [goal]" subcommand.
// It drives the built-in personas against the target once, streaming
// progress to stderr, and prints the synthesized report to stdout.
func runOnce(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, apiURL, goal string) error {
	logger := newLogger(stderr, slog.LevelInfo)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	store, err := session.NewStore(cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	client := llm.NewOllamaClient(cfg.LLM.URL, cfg.LLM.Model, cfg.LLM.Timeout(), logger)

	reportModel := cfg.LLM.ReportModel
	if reportModel == "" {
		reportModel = cfg.LLM.Model
	}
	arch := architect.New(client, reportModel, logger)

	progress := session.SinkFunc(func(ev session.Event) {
		who := ev.PersonaName
		if who == "" {
			who = "session"
		}
		fmt.Fprintf(stderr, "[%s] %s: %s\n", ev.Type, who, ev.Message)
	})

	runner := session.NewRunner(store, client, arch,
		session.WithSink(progress),
		session.WithMarkers(cfg.Agent.SuccessMarkers),
		session.WithLogger(logger),
	)

	sess, err := runner.Create(session.Request{
		Personas: persona.Builtin(),
		Goal:     goal,
		APIURL:   apiURL,
		MaxSteps: cfg.Agent.MaxSteps,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := runner.Run(ctx, sess); err != nil {
		return err
	}

	done, err := store.Get(sess.ID)
	if err != nil {
		return fmt.Errorf("load finished session: %w", err)
	}
	fmt.Fprintln(stdout, done.Report)
	return nil
}

// newLogger creates a structured text logger that writes to w at the
// given level. All log output goes through slog.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
