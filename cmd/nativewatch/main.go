package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"nativewatch/internal/cli"
	"nativewatch/internal/config"
	"nativewatch/internal/logging"
	"nativewatch/internal/metrics"
	"nativewatch/internal/native"
	"nativewatch/internal/version"
)

const (
	modeWatch = "watch"
	modePoll  = "poll"
	modeServe = "serve"
)

type Options struct {
	ConfigPath  string
	Mode        string
	Paths       []string
	Overrides   map[string]any
	ShowVersion bool
}

func main() {
	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, os.Interrupt, syscall.SIGTERM)
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, stopSignals))
}

func run(args []string, out io.Writer, errOut io.Writer, signals <-chan os.Signal) int {
	options, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(errOut, err)
		return 1
	}
	if options.ShowVersion {
		fmt.Fprintln(out, version.GetVersionInfo().Line("nativewatch"))
		return 0
	}

	settings, err := config.LoadSettings(options.ConfigPath, config.DefaultsYAML, options.Overrides)
	if err != nil {
		fmt.Fprintf(errOut, "load settings: %v\n", err)
		return 1
	}
	mode := options.Mode
	if mode == "" {
		mode = modeWatch
		if settings.Server.Listen != "" {
			mode = modeServe
		}
	}
	if mode != modeServe && len(options.Paths) == 0 {
		fmt.Fprintln(errOut, "at least one path is required")
		return 1
	}

	level, _ := logging.ParseLevel(settings.Log.Level)
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(settings.Log.BufferSize), level, errOut)
	app := &application{
		settings: settings,
		facility: native.Platform(native.PortableOptions{
			Logger:     logger,
			MaxWatches: settings.Watcher.MaxNativeWatches,
		}),
		logger:  logger,
		metrics: metrics.NewRegistry(),
		out:     &lockedWriter{writer: out},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopWatching := watchShutdownSignals(logger, cancel, signals)
	defer stopWatching()

	switch mode {
	case modeServe:
		err = app.serve(ctx)
	case modePoll:
		err = app.poll(ctx, options.Paths)
	default:
		err = app.watch(ctx, options.Paths)
	}
	if err != nil {
		logger.Error("nativewatch stopped", map[string]string{
			"mode":  mode,
			"error": err.Error(),
		})
		return 1
	}
	return 0
}

func parseArgs(args []string, errOut io.Writer) (Options, error) {
	fs := flag.NewFlagSet("nativewatch", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configFlag := fs.String("config", "", "YAML settings file")
	modeFlag := fs.String("mode", "", "watch (classified events), poll (raw events) or serve (websocket bridge)")
	listenFlag := fs.String("listen", "", "Address for serve mode (setting server.listen)")
	encodingFlag := fs.String("encoding", "", "Bridge frame encoding: json or binary (setting bridge.encoding)")
	logLevelFlag := fs.String("log-level", "", "Minimum log level (setting log.level)")
	overrides := cli.AddSettingOverrides(fs, "set", "Override a setting, key=value (repeatable)")
	helpVersion := cli.AddHelpVersionFlags(fs, "", "")
	fs.Usage = func() {
		printHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if helpVersion.Help {
		fs.Usage()
		return Options{}, flag.ErrHelp
	}
	if helpVersion.Version {
		return Options{ShowVersion: true}, nil
	}

	mode := strings.ToLower(strings.TrimSpace(*modeFlag))
	switch mode {
	case "", modeWatch, modePoll, modeServe:
	default:
		return Options{}, fmt.Errorf("unknown mode %q", *modeFlag)
	}

	for key, value := range map[string]string{
		"server.listen":   *listenFlag,
		"bridge.encoding": *encodingFlag,
		"log.level":       *logLevelFlag,
	} {
		if strings.TrimSpace(value) != "" {
			overrides[key] = strings.TrimSpace(value)
		}
	}

	return Options{
		ConfigPath: strings.TrimSpace(*configFlag),
		Mode:       mode,
		Paths:      fs.Args(),
		Overrides:  overrides,
	}, nil
}

func printHelp(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintln(out, "usage: nativewatch [flags] [path ...]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Watches directories through the platform file-event facility.")
	fmt.Fprintln(out)
	fs.PrintDefaults()
}
