package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/OCAP2/bodytrack/internal/config"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "bodytrack"
)

// shutdownTimeout bounds the final flush of storage, metrics and telemetry.
const shutdownTimeout = 10 * time.Second

// flags holds the parsed command line.
type flags struct {
	configDir string
	input     string
	version   bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	fs.StringVarP(&f.configDir, "config", "c", ".", "directory containing "+config.FileName)
	fs.StringVarP(&f.input, "input", "i", "-", "recorded host command stream to replay (- for stdin)")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	fs.String("log-level", "", "override logLevel (DEBUG, INFO, WARN, ERROR)")
	fs.String("storage", "", "override storage.type (memory, sqlite, postgres, websocket, none)")
	fs.String("topology", "", "override skeleton.topology (arkit, sequential)")

	if err := fs.Parse(args); err != nil {
		return f, err
	}

	// Only flags that were set on the command line take precedence over the file.
	for key, name := range map[string]string{
		"logLevel":          "log-level",
		"storage.type":      "storage",
		"skeleton.topology": "topology",
	} {
		if fs.Changed(name) {
			if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
				return f, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}
	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if f.version {
		fmt.Printf("%s %s (%s)\n", AppName, Version, BuildDate)
		return
	}

	if err := run(f, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(f flags, out io.Writer) error {
	// Bootstrap logger until the config names a log file.
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := config.Load(f.configDir); err != nil {
		bootstrap.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		bootstrap.Info("Loaded config", "dir", f.configDir)
	}

	a, err := newApp(time.Now())
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.shutdown(ctx)
	}()

	in, closeIn, err := openInput(f.input)
	if err != nil {
		return err
	}
	defer closeIn()

	return a.replay(in, out)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening input stream: %w", err)
	}
	return file, func() { file.Close() }, nil
}
