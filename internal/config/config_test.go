package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"skeleton": { "jointScaleModifier": 1 },
		"storage": { "db": { "host": "10.0.0.1", "port": "5433" } }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 1.0, viper.GetFloat64("skeleton.jointScaleModifier"))
	assert.Equal(t, "10.0.0.1", viper.GetString("storage.db.host"))
	assert.Equal(t, "5433", viper.GetString("storage.db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./bodytracklogs", viper.GetString("logsDir"))
	assert.Equal(t, "arkit", viper.GetString("skeleton.topology"))
	assert.Equal(t, true, viper.GetBool("skeleton.skipUnavailableSamples"))
	assert.Equal(t, true, viper.GetBool("skeleton.releaseRemoved"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "./recordings", viper.GetString("storage.memory.outputDir"))
	assert.Equal(t, true, viper.GetBool("storage.memory.compressOutput"))
	assert.Equal(t, "3m", viper.GetString("storage.sqlite.dumpInterval"))
	assert.Equal(t, "bodytrack", viper.GetString("storage.db.database"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, "8086", viper.GetString("influx.port"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "bodytrack", viper.GetString("otel.serviceName"))
	assert.Equal(t, "5s", viper.GetString("otel.batchTimeout"))
	assert.Equal(t, true, viper.GetBool("otel.insecure"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)

	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetSkeletonConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want SkeletonConfig
	}{
		{
			name: "defaults",
			body: `{}`,
			want: SkeletonConfig{
				Topology:               "arkit",
				JointScaleModifier:     0.4,
				SkipUnavailableSamples: true,
				ReleaseRemoved:         true,
			},
		},
		{
			name: "unscaled variant",
			body: `{"skeleton": {"topology": "sequential", "jointScaleModifier": 1, "skipUnavailableSamples": false, "releaseRemoved": false}}`,
			want: SkeletonConfig{
				Topology:               "sequential",
				JointScaleModifier:     1,
				SkipUnavailableSamples: false,
				ReleaseRemoved:         false,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			require.NoError(t, Load(writeConfig(t, tt.body)))
			assert.Equal(t, tt.want, GetSkeletonConfig())
		})
	}
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
	assert.Equal(t, "./recordings", cfg.Memory.OutputDir)
	assert.Equal(t, true, cfg.Memory.CompressOutput)
	assert.Equal(t, 3*time.Minute, cfg.SQLite.DumpInterval)
	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, "postgres", cfg.DB.Username)
	assert.Equal(t, "ws://localhost:5000/api/v1/stream", cfg.WebSocket.URL)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"flushInterval": "500ms",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "path": "/tmp/bt.db", "dumpInterval": "10m" },
			"websocket": { "url": "ws://example:1/x", "secret": "s3" }
		}
	}`)
	require.NoError(t, Load(dir))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, 500*time.Millisecond, sc.FlushInterval)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
	assert.Equal(t, "/tmp/bt.db", sc.SQLite.Path)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
	assert.Equal(t, "ws://example:1/x", sc.WebSocket.URL)
	assert.Equal(t, "s3", sc.WebSocket.Secret)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4318",
			"insecure": false
		}
	}`)
	require.NoError(t, Load(dir))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4318", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}

func TestGetInfluxConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	ic := GetInfluxConfig()
	assert.False(t, ic.Enabled)
	assert.Equal(t, "localhost", ic.Host)
	assert.Equal(t, "http", ic.Protocol)
	assert.Equal(t, "bodytrack-metrics", ic.Org)
	assert.Equal(t, "bodytrack_performance", ic.Bucket)
}
