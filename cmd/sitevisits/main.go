// Command sitevisits scrapes the Microlise TMC Site Visits report for a store
// and posts today's delivery plan to Google Chat.
//
// Usage:
//
//	sitevisits run --site-id 218                 # full run (default command)
//	sitevisits login --headless=false            # only refresh the saved session
//	sitevisits show visits.csv --today           # print a previous run's CSV
//
// Configuration is read from defaults, then --config (YAML), then the
// environment (a .env file is loaded first), then flags.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/sitevisits/tracker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// flags holds every command-line override. Only flags the user set are
// applied over the file and environment configuration.
type flags struct {
	configPath string
	envFile    string
	logLevel   string

	siteID         string
	username       string
	password       string
	authState      string
	sessionBackend string
	headless       bool
	browserURL     string
	timeout        time.Duration
	csv            string
	json           string
	screenshot     string
	apiWait        time.Duration
	domWait        time.Duration
	webhookURL     string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	run := newRunCmd(f)

	root := &cobra.Command{
		Use:           "sitevisits",
		Short:         "Microlise TMC Site Visits scraper",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run.RunE,
	}
	root.Flags().AddFlagSet(run.LocalFlags())

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&f.siteID, "site-id", "", "store / site identifier")
	pf.StringVar(&f.username, "username", "", "portal username")
	pf.StringVar(&f.password, "password", "", "portal password")
	pf.StringVar(&f.authState, "auth-state", "", "session file (or sqlite database) path")
	pf.StringVar(&f.sessionBackend, "session-backend", "", "session backend: file or sqlite")
	pf.BoolVar(&f.headless, "headless", true, "run Chrome headless")
	pf.StringVar(&f.browserURL, "browser-url", "", "DevTools WebSocket URL of a running Chrome")
	pf.DurationVar(&f.timeout, "timeout", 0, "navigation and login step timeout")
	pf.StringVar(&f.csv, "csv", "", "CSV output path")
	pf.StringVar(&f.json, "json", "", "raw API payload output path")
	pf.StringVar(&f.screenshot, "screenshot", "", "diagnostic screenshot path")
	pf.DurationVar(&f.apiWait, "api-wait-timeout", 0, "how long to wait for the report API response")
	pf.DurationVar(&f.domWait, "dom-wait-timeout", 0, "how long to wait for table rows")
	pf.StringVar(&f.webhookURL, "webhook-url", "", "Google Chat webhook URL")

	root.AddCommand(run)
	root.AddCommand(newLoginCmd(f))
	root.AddCommand(newShowCmd(f))
	return root
}

func newRunCmd(f *flags) *cobra.Command {
	var printTable, dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape the report, write the CSV and post today's summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, f)
			if err != nil {
				return err
			}

			var opts []tracker.Option
			if dryRun {
				opts = append(opts, tracker.WithSinks(tracker.NewStdoutSink(cmd.OutOrStdout())))
			}
			t, err := tracker.New(cfg, logger, opts...)
			if err != nil {
				return fatal(logger, err)
			}

			res, err := t.Run(cmd.Context())
			if err != nil {
				return fatal(logger, err)
			}
			if printTable {
				tracker.PrintTable(cmd.OutOrStdout(), res.Table)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printTable, "print", false, "print the scraped table")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the chat card instead of posting it")
	return cmd
}

func newLoginCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in if needed and save the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, f)
			if err != nil {
				return err
			}
			t, err := tracker.New(cfg, logger)
			if err != nil {
				return fatal(logger, err)
			}
			did, err := t.Login(cmd.Context())
			if err != nil {
				return fatal(logger, err)
			}
			if did {
				cmd.Println("Signed in; session saved to", cfg.Session.Path)
			} else {
				cmd.Println("Saved session is still valid.")
			}
			return nil
		},
	}
}

func newShowCmd(f *flags) *cobra.Command {
	var today bool
	cmd := &cobra.Command{
		Use:   "show [csv]",
		Short: "Print a CSV written by a previous run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, f)
			if err != nil {
				return err
			}
			path := cfg.Output.CSV
			if len(args) == 1 {
				path = args[0]
			}

			tbl, err := tracker.ReadCSV(path)
			if err != nil {
				return fatal(logger, err)
			}
			out := cmd.OutOrStdout()
			if !today {
				tracker.PrintTable(out, tbl)
				return nil
			}

			s := tracker.Summarize(tbl, time.Now(), logger)
			tracker.PrintTable(out, &tracker.Table{Columns: tbl.Columns, Records: s.Records})
			fmt.Fprintln(out, s.Text())
			return nil
		},
	}
	cmd.Flags().BoolVar(&today, "today", false, "only today's deliveries, plus the summary text")
	return cmd
}

// setup resolves the configuration (defaults, file, environment, flags)
// and builds the logger. Failures are logged with the --log-level logger
// since the configured one does not exist yet.
func setup(cmd *cobra.Command, f *flags) (*tracker.Config, *slog.Logger, error) {
	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		return nil, nil, fatal(newLogger(cmd.ErrOrStderr(), f.logLevel), err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func resolveConfig(cmd *cobra.Command, f *flags) (*tracker.Config, error) {
	if err := godotenv.Load(f.envFile); err != nil && cmd.Flags().Changed("env-file") {
		return nil, fmt.Errorf("load %s: %w", f.envFile, err)
	}

	cfg := tracker.DefaultConfig()
	if f.configPath != "" {
		c, err := tracker.LoadConfigFile(f.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	applyFlags(cmd, f, cfg)
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, f *flags, cfg *tracker.Config) {
	set := cmd.Flags().Changed
	strs := []struct {
		name string
		val  string
		dst  *string
	}{
		{"log-level", f.logLevel, &cfg.LogLevel},
		{"site-id", f.siteID, &cfg.SiteID},
		{"username", f.username, &cfg.Username},
		{"password", f.password, &cfg.Password},
		{"auth-state", f.authState, &cfg.Session.Path},
		{"session-backend", f.sessionBackend, &cfg.Session.Backend},
		{"browser-url", f.browserURL, &cfg.Browser.Remote},
		{"csv", f.csv, &cfg.Output.CSV},
		{"json", f.json, &cfg.Output.JSON},
		{"screenshot", f.screenshot, &cfg.Output.Screenshot},
		{"webhook-url", f.webhookURL, &cfg.Notify.WebhookURL},
	}
	for _, s := range strs {
		if set(s.name) {
			*s.dst = s.val
		}
	}
	durs := []struct {
		name string
		val  time.Duration
		dst  *time.Duration
	}{
		{"timeout", f.timeout, &cfg.Timeouts.Operation},
		{"api-wait-timeout", f.apiWait, &cfg.Timeouts.APIWait},
		{"dom-wait-timeout", f.domWait, &cfg.Timeouts.DOMWait},
	}
	for _, d := range durs {
		if set(d.name) {
			*d.dst = d.val
		}
	}
	if set("headless") {
		cfg.Browser.Headless = f.headless
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

func fatal(logger *slog.Logger, err error) error {
	logger.Error("sitevisits: fatal", "error", err)
	return err
}
