package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/OCAP2/bodytrack/internal/bridge"
	"github.com/OCAP2/bodytrack/internal/config"
	"github.com/OCAP2/bodytrack/internal/dispatcher"
	"github.com/OCAP2/bodytrack/internal/influx"
	"github.com/OCAP2/bodytrack/internal/logging"
	"github.com/OCAP2/bodytrack/internal/monitor"
	intOtel "github.com/OCAP2/bodytrack/internal/otel"
	"github.com/OCAP2/bodytrack/internal/scene"
	"github.com/OCAP2/bodytrack/internal/storage"
	"github.com/OCAP2/bodytrack/internal/tracking"
	"github.com/OCAP2/bodytrack/internal/visualizer"
	"github.com/OCAP2/bodytrack/pkg/core"
)

// maxLineSize bounds one command line of the replayed stream.
const maxLineSize = 4 << 20

// statusInterval is how often the monitor rewrites the status file.
const statusInterval = 5 * time.Second

// app holds every wired service for one run.
type app struct {
	startedAt time.Time
	logFile   *os.File

	slogManager *logging.SlogManager
	log         *slog.Logger
	session     *logging.SessionContext
	otel        *intOtel.Provider

	backend storage.Backend
	influx  *influx.Manager
	monitor *monitor.Service
	vis     *visualizer.Visualizer
	bridge  *bridge.Bridge
}

func newApp(startedAt time.Time) (*app, error) {
	a := &app{
		startedAt:   startedAt,
		slogManager: logging.NewSlogManager(),
		session:     &logging.SessionContext{},
	}
	a.slogManager.SetContextProvider(a.session.Attrs)

	a.setupLogging()

	if err := a.wire(); err != nil {
		a.log.Error("Failed to start", "error", err)
		a.shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

// setupLogging opens the log file, then the OTel provider that mirrors it.
func (a *app) setupLogging() {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logs dir %s: %v\n", logsDir, err)
	}

	logFilePath := logging.LogFilePath(logsDir, AppName, a.startedAt)
	if _, err := os.Stat(logFilePath); err == nil {
		os.Rename(logFilePath, logFilePath+".old")
	}

	var logWriter io.Writer
	file, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log file %s: %v\n", logFilePath, err)
	} else {
		a.logFile = file
		logWriter = file
	}

	otelCfg := intOtel.ConfigFrom(config.GetOTelConfig(), logWriter)
	otelCfg.ServiceVersion = Version
	var otelErr error
	a.otel, otelErr = intOtel.New(otelCfg)
	if otelErr != nil {
		a.otel = nil
	}

	a.slogManager.Setup(logWriter, viper.GetString("logLevel"), a.otelLogProvider())
	a.log = a.slogManager.Logger()

	if otelErr != nil {
		a.log.Error("Failed to initialize OTel provider", "error", otelErr)
	} else if a.otel.Enabled() {
		a.log.Info("OTel provider initialized", "endpoint", config.GetOTelConfig().Endpoint)
	}
	a.log.Info("Starting", "app", AppName, "version", Version, "build", BuildDate, "logFile", logFilePath)
}

func (a *app) otelLogProvider() *sdklog.LoggerProvider {
	if a.otel == nil {
		return nil
	}
	return a.otel.LoggerProvider()
}

// wire builds the services from the loaded config, bottom-up.
func (a *app) wire() error {
	storageCfg := config.GetStorageConfig()
	backend, err := createStorageBackend(storageCfg, a.startedAt, a.log)
	if err != nil {
		return fmt.Errorf("creating storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("initializing %s storage: %w", storageCfg.Type, err)
	}
	a.backend = backend
	a.log.Info("Storage backend initialized", "type", storageCfg.Type)

	var metrics monitor.MetricsWriter
	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		backupPath := filepath.Join(viper.GetString("logsDir"),
			fmt.Sprintf("%s.metrics.%s.gz", AppName, a.startedAt.Format("20060102_150405")))
		a.influx = influx.NewManager(influxCfg, backupPath, a.log)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.influx.Connect(ctx)
		cancel()
		if err != nil {
			a.log.Warn("InfluxDB unavailable, metrics disabled", "error", err)
			a.influx.Close()
			a.influx = nil
		} else {
			metrics = a.influx
		}
	}

	a.monitor = monitor.NewService(monitor.Dependencies{
		Metrics:    metrics,
		Backend:    backend,
		StatusFile: filepath.Join(viper.GetString("logsDir"), AppName+".status.json"),
		Interval:   statusInterval,
		Logger:     a.log,
	})

	skelCfg := config.GetSkeletonConfig()
	topology, err := core.TopologyByName(skelCfg.Topology)
	if err != nil {
		return err
	}

	feed := tracking.NewFeed()
	graph := scene.New()
	a.vis, err = visualizer.New(feed, graph,
		visualizer.WithTopology(topology),
		visualizer.WithJointScaleModifier(skelCfg.JointScaleModifier),
		visualizer.WithSkipUnavailable(skelCfg.SkipUnavailableSamples),
		visualizer.WithReleaseRemoved(skelCfg.ReleaseRemoved),
		visualizer.WithRecorder(backend),
		visualizer.WithObserver(a.monitor),
		visualizer.WithLogger(a.log),
	)
	if err != nil {
		return fmt.Errorf("creating visualizer: %w", err)
	}
	a.monitor.SetTracker(a.vis)

	d, err := dispatcher.New(a.log)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	a.bridge, err = bridge.New(bridge.Dependencies{
		Dispatcher:     d,
		Feed:           feed,
		Graph:          graph,
		Sessions:       &flushingSessions{vis: a.vis, otel: a.otel, log: a.log},
		Recorder:       backend,
		Status:         func() any { return a.monitor.Status() },
		Metrics:        metrics,
		SessionContext: a.session,
		ReleaseRemoved: skelCfg.ReleaseRemoved,
		Version:        Version,
		BuildDate:      BuildDate,
		Logger:         a.log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	if err := a.monitor.Start(); err != nil {
		a.log.Warn("Status monitor not started", "error", err)
	}
	a.vis.Enable()
	a.log.Info("Ready", "topology", topology.Name, "commands", d.Commands())
	return nil
}

// replay feeds each line of r to the bridge and writes every reply to out.
// Blank lines and lines starting with "#" are skipped.
func (a *app) replay(r io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines, failed int
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines++
		reply := a.bridge.Call(line)
		if strings.HasPrefix(reply, `["error"`) {
			failed++
			command, _, _ := strings.Cut(line, "|")
			a.log.Warn("Command failed", "command", command, "line", lines, "reply", reply)
		}
		if _, err := fmt.Fprintln(out, reply); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input stream: %w", err)
	}
	a.log.Info("Replay finished", "commands", lines, "failed", failed)
	return nil
}

// shutdown stops everything newApp started, in reverse order. It tolerates a
// partially wired app.
func (a *app) shutdown(ctx context.Context) {
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.vis != nil {
		a.vis.Disable()
		if _, active := a.vis.Session(); active {
			if s, err := a.vis.EndSession(); err != nil {
				a.log.Error("Failed to end session on shutdown", "error", err)
			} else {
				a.log.Info("Ended open session on shutdown", "session", s.ID.String())
			}
			a.session.Clear()
		}
		a.vis.ReleaseAll()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.Error("Failed to close storage backend", "error", err)
		}
		if exp, ok := a.backend.(storage.Exportable); ok && exp.ExportedFilePath() != "" {
			a.log.Info("Recording written", "path", exp.ExportedFilePath())
		}
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.log.Error("Failed to close InfluxDB client", "error", err)
		}
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			a.log.Error("Failed to shut down OTel provider", "error", err)
		}
	}
	if err := a.slogManager.Flush(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// flushingSessions flushes buffered telemetry whenever a session ends so its
// records are exported together.
type flushingSessions struct {
	vis  *visualizer.Visualizer
	otel *intOtel.Provider
	log  *slog.Logger
}

func (s *flushingSessions) StartSession(name string) (core.Session, error) {
	return s.vis.StartSession(name)
}

func (s *flushingSessions) EndSession() (core.Session, error) {
	session, err := s.vis.EndSession()
	if s.otel != nil {
		if ferr := s.otel.Flush(context.Background()); ferr != nil {
			s.log.Warn("Failed to flush telemetry", "error", ferr)
		}
	}
	return session, err
}
