// Package influx ships runtime metrics points to InfluxDB, falling back to a
// gzipped line-protocol file when the server cannot be reached.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/OCAP2/bodytrack/internal/config"
)

// Measurement names.
const (
	MeasurementUpdate = "skeleton_update"
	MeasurementStatus = "bodytrack_status"
)

var (
	ErrDisabled      = errors.New("influx is disabled")
	ErrNotConnected  = errors.New("influx client not initialized and backup writer not available")
	ErrInvalidMetric = errors.New("invalid metric")
)

// Manager handles the InfluxDB connection and writes.
type Manager struct {
	cfg        config.InfluxConfig
	backupPath string
	log        *slog.Logger

	mu         sync.Mutex
	client     influxdb2.Client
	writer     influxdb2_api.WriteAPI
	backupFile *os.File
	backup     *gzip.Writer
	valid      bool
}

// NewManager creates a new InfluxDB manager. backupPath receives points while
// the server is unreachable.
func NewManager(cfg config.InfluxConfig, backupPath string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		backupPath: backupPath,
		log:        log.With("component", "influx"),
	}
}

// URL returns the server address built from the config.
func (m *Manager) URL() string {
	return fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port)
}

// Connect establishes a connection to InfluxDB. When the server does not
// answer a ping, points go to the backup file instead and Connect succeeds.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.client = influxdb2.NewClientWithOptions(
		m.URL(),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.valid = false
		if m.backup == nil {
			m.log.Info("Failed to initialize InfluxDB client, writing to backup file",
				"url", m.URL(), "backupPath", m.backupPath, "error", err)
			file, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %w", err)
			}
			m.backupFile = file
			m.backup = gzip.NewWriter(file)
		}
		return nil
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.valid = true
	m.log.Info("InfluxDB client initialized", "url", m.URL(), "bucket", m.cfg.Bucket)
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.log.Info("Organization not found, creating", "org", m.cfg.Org)
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %s: %w", m.cfg.Org, err)
		}
	}

	if _, err := m.client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}
	m.log.Info("Bucket not found, creating", "bucket", m.cfg.Bucket)

	// 90 day retention
	rule := domain.RetentionRuleTypeExpire
	_, err = m.client.BucketsAPI().CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: 60 * 60 * 24 * 90,
	})
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", m.cfg.Bucket, err)
	}
	return nil
}

func (m *Manager) createWriter() {
	m.writer = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.log.Error("Error sending data to InfluxDB", "bucket", m.cfg.Bucket, "error", writeErr)
		}
	}(m.writer.Errors())
}

// Valid reports whether points go to the server rather than the backup file.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

// WritePoint writes a point to InfluxDB or to the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid {
		m.writer.WritePoint(point)
		return nil
	}
	if m.backup == nil {
		return ErrNotConnected
	}

	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.backup.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.writer != nil {
		m.writer.Flush()
		m.writer = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	if m.backup != nil {
		errs = append(errs, m.backup.Close())
		m.backup = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	m.valid = false
	return errors.Join(errs...)
}

// UpdatePoint describes one per-body update outcome.
func UpdatePoint(bodyID, outcome string, took time.Duration, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPoint(
		MeasurementUpdate,
		map[string]string{"body": bodyID, "outcome": outcome},
		map[string]any{"duration_us": took.Microseconds()},
		at,
	)
}

// ParseMetric builds a point from host-supplied arguments:
//
//	0 = measurement name
//	"tag::<name>::<value>" = tag
//	"field::<string|int|float|bool>::<name>::<value>" = field
//
// Other arguments are ignored. At least one field is required.
func ParseMetric(args []string, at time.Time) (*influxdb2_write.Point, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return nil, fmt.Errorf("%w: measurement name is required", ErrInvalidMetric)
	}

	point := influxdb2_write.NewPointWithMeasurement(args[0]).SetTime(at)
	fields := 0

	for _, arg := range args[1:] {
		switch {
		case strings.HasPrefix(arg, "tag::"):
			parts := strings.SplitN(arg, "::", 3)
			if len(parts) == 3 {
				point.AddTag(parts[1], parts[2])
			}
		case strings.HasPrefix(arg, "field::"):
			parts := strings.SplitN(arg, "::", 4)
			if len(parts) < 4 {
				continue
			}
			value, err := parseFieldValue(parts[1], parts[3])
			if err != nil {
				return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidMetric, parts[2], err)
			}
			point.AddField(parts[2], value)
			fields++
		}
	}

	if fields == 0 {
		return nil, fmt.Errorf("%w: %s has no fields", ErrInvalidMetric, args[0])
	}
	return point.SortTags().SortFields(), nil
}

func parseFieldValue(kind, raw string) (any, error) {
	switch kind {
	case "string":
		return raw, nil
	case "int":
		return strconv.ParseInt(raw, 10, 64)
	case "float":
		return strconv.ParseFloat(raw, 64)
	case "bool":
		return strconv.ParseBool(raw)
	default:
		return nil, fmt.Errorf("unknown field type %q", kind)
	}
}
