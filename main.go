package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
	"github.com/sweetbit-io/dispenser-setup/internal/config"
	dispenserlog "github.com/sweetbit-io/dispenser-setup/internal/log"
	"github.com/sweetbit-io/dispenser-setup/internal/tui"
)

var (
	// Version is the version of the application. It is set at build time.
	Version string = "dev"
)

// main is the entry point of the application
func main() {
	var (
		rootFlagSet   = flag.NewFlagSet("dispenser-setup", flag.ExitOnError)
		configPath    = rootFlagSet.String("config", "", "path to config toml file (env: DISPENSER_CONFIG)")
		theme         = rootFlagSet.String("theme", "", "path to theme toml file (env: DISPENSER_THEME)")
		adapter       = rootFlagSet.String("adapter", "", "bluetooth adapter to use, linux only (env: DISPENSER_ADAPTER)")
		address       = rootFlagSet.String("address", "", "pair with this dispenser instead of picking one (env: DISPENSER_ADDRESS)")
		clearOnRescan = rootFlagSet.Bool("clear-on-rescan", false, "forget listed networks on every scan (env: DISPENSER_CLEAR_ON_RESCAN)")
		scanInterval  = rootFlagSet.Duration("scan-interval", config.DefaultScanInterval, "how often to rescan while the network list is shown, 0 to disable (env: DISPENSER_SCAN_INTERVAL)")
		timeout       = rootFlagSet.Duration("timeout", config.DefaultTimeout, "timeout for every bluetooth operation (env: DISPENSER_TIMEOUT)")
		logFile       = rootFlagSet.String("log-file", "", "write logs to this file (env: DISPENSER_LOG_FILE)")
		verbose       = rootFlagSet.Bool("verbose", false, "log debug messages (env: DISPENSER_VERBOSE)")
		version       = rootFlagSet.Bool("version", false, "display version")
	)

	var (
		cfg    config.Config
		client *dispenser.Client
		prompt *tui.Prompt
	)

	statusFlagSet := flag.NewFlagSet("status", flag.ExitOnError)
	statusJSON := statusFlagSet.Bool("json", false, "output in JSON format")
	statusCmd := &ffcli.Command{
		Name:      "status",
		ShortHelp: "Pair with a dispenser and show what it reports",
		FlagSet:   statusFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			return runStatus(ctx, os.Stdout, *statusJSON, client)
		},
	}

	scanFlagSet := flag.NewFlagSet("scan", flag.ExitOnError)
	scanJSON := scanFlagSet.Bool("json", false, "output in JSON format")
	scanDuration := scanFlagSet.Duration("duration", 5*time.Second, "how long to collect networks")
	scanCmd := &ffcli.Command{
		Name:      "scan",
		ShortHelp: "List the wifi networks a dispenser sees",
		FlagSet:   scanFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			return runScan(ctx, os.Stdout, *scanJSON, *scanDuration, client)
		},
	}

	joinFlagSet := flag.NewFlagSet("join", flag.ExitOnError)
	joinPassphrase := joinFlagSet.String("passphrase", "", "passphrase for the network")
	joinWait := joinFlagSet.Duration("wait", 0, "how long to wait for the dispenser to connect (default: join_timeout from the config)")
	joinCmd := &ffcli.Command{
		Name:       "join",
		ShortUsage: "dispenser-setup join [flags] <ssid>",
		ShortHelp:  "Connect a dispenser to a wifi network",
		FlagSet:    joinFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("join requires an ssid")
			}
			wait := *joinWait
			if wait <= 0 {
				wait = cfg.JoinTimeout
			}
			return runJoin(ctx, os.Stdout, args[0], *joinPassphrase, wait, defaultPollInterval, client)
		},
	}

	qrCmd := &ffcli.Command{
		Name:      "qr",
		ShortHelp: "Show the dispenser's web app address as a QR code",
		Exec: func(ctx context.Context, args []string) error {
			return runQR(ctx, os.Stdout, client)
		},
	}

	root := &ffcli.Command{
		ShortUsage:  "dispenser-setup [flags] <subcommand> [args...]",
		FlagSet:     rootFlagSet,
		Subcommands: []*ffcli.Command{statusCmd, scanCmd, joinCmd, qrCmd},
		Exec: func(ctx context.Context, args []string) error {
			return runTUI(client, prompt, tui.Options{
				ScanInterval: cfg.ScanInterval,
				JoinTimeout:  cfg.JoinTimeout,
			})
		},
	}

	// Parse flags using ff to get the config before root.Run sets up the
	// subcommands. root.Run will parse them again, but that's fine.
	err := ff.Parse(rootFlagSet, os.Args[1:],
		ff.WithEnvVarPrefix("DISPENSER"),
		ff.WithIgnoreUndefined(true), // Ignore subcommand flags for now
	)
	if err != nil {
		if err == flag.ErrHelp {
			// ff.Parse doesn't print usage on ErrHelp, so we do it manually.
			root.FlagSet.Usage()
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if *version {
		fmt.Println(Version)
		os.Exit(0)
	}

	cfg, err = config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	// Flags that were set explicitly win over the file.
	rootFlagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "theme":
			cfg.Theme = *theme
		case "adapter":
			cfg.Adapter = *adapter
		case "address":
			cfg.Address = *address
		case "clear-on-rescan":
			cfg.ClearOnRescan = *clearOnRescan
		case "scan-interval":
			cfg.ScanInterval = *scanInterval
		case "timeout":
			cfg.Timeout = *timeout
		case "log-file":
			cfg.LogFile = *logFile
		case "verbose":
			cfg.Verbose = *verbose
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := loadTheme(cfg.Theme); err != nil {
		fmt.Fprintf(os.Stderr, "error loading theme: %v\n", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so it only logs to a file.
	interactive := rootFlagSet.NArg() == 0
	logger, closeLog, err := setupLogging(cfg, interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	transport, err := GetTransport(logger, cfg)
	if err != nil {
		logger.Warn("bluetooth is unavailable", "error", err)
		transport = nil
	}

	var chooser dispenser.Chooser = dispenser.FirstDevice
	switch {
	case cfg.Address != "":
		chooser = dispenser.AddressChooser(cfg.Address)
	case interactive:
		prompt = tui.NewPrompt()
		chooser = prompt.Choose
	}

	client = dispenser.New(transport, dispenser.Options{
		Supported:      transport != nil,
		Chooser:        chooser,
		ClearOnRescan:  cfg.ClearOnRescan,
		OpTimeout:      cfg.Timeout,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	})

	if err := root.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}

func loadTheme(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return tui.LoadTheme(f)
}

func setupLogging(cfg config.Config, interactive bool) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	closeLog := func() error { return nil }
	switch {
	case cfg.LogFile != "":
		h, closer, err := dispenserlog.OpenFile(cfg.LogFile, level)
		if err != nil {
			return nil, nil, err
		}
		handler = h
		closeLog = closer.Close
	case interactive:
		handler = slog.DiscardHandler
	default:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return dispenserlog.Init(handler, level), closeLog, nil
}
