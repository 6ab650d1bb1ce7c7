package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"graph-migrator/internal/errs"
	"graph-migrator/internal/graph"
	"graph-migrator/internal/graph/badgersink"
	"graph-migrator/internal/transfer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "migrator.yaml", `
catalog: games.yaml
source:
  driver: mysql
  dsn: root:secret@tcp(localhost:3306)/games
  schema: games
sink:
  kind: badger
  badger:
    dir: /tmp/graph
transfer:
  workers: 8
  call_timeout: 90s
  max_retries: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "games.yaml", cfg.Catalog)
	assert.Equal(t, "mysql", cfg.Source.Driver)
	assert.Equal(t, SinkBadger, cfg.Sink.Kind)
	assert.Equal(t, 8, cfg.Transfer.Workers)
	assert.Equal(t, 90*time.Second, cfg.Transfer.CallTimeout)
	assert.Equal(t, uint64(5), cfg.Transfer.MaxRetries)
	// 未设置的字段保留默认值
	assert.Equal(t, 1000, cfg.Transfer.ChunkSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeFile(t, "migrator.yaml", "sink:\n  knd: neo4j\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DB_NAME", "games")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_HOST", "db")
	t.Setenv("NEO4J_URI", "bolt://graph:7687")
	t.Setenv("NEO4J_PASSWORD", "neo")
	t.Setenv("MIGRATOR_WORKERS", "2")
	t.Setenv("MIGRATOR_CALL_TIMEOUT", "45")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "postgres", cfg.Source.Driver)
	assert.Equal(t, "host=db port=5432 user=postgres password=pw dbname=games sslmode=disable", cfg.Source.DSN)
	assert.Equal(t, "bolt://graph:7687", cfg.Sink.Neo4j.URI)
	assert.Equal(t, "neo", cfg.Sink.Neo4j.Password)
	assert.Equal(t, 2, cfg.Transfer.Workers)
	assert.Equal(t, 45*time.Second, cfg.Transfer.CallTimeout)
	assert.NotContains(t, cfg.String(), "pw")
}

func TestApplyEnvQuotesDSNValues(t *testing.T) {
	t.Setenv("DB_NAME", "games")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", `it's a \secret`)

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, `host=localhost port=5432 user=postgres password='it\'s a \\secret' dbname=games sslmode=disable`, cfg.Source.DSN)
}

func TestNegativeMaxRetriesRejected(t *testing.T) {
	t.Setenv("SOURCE_DSN", "file:games.db")
	t.Setenv("MIGRATOR_MAX_RETRIES", "-1")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, transfer.DefaultOptions().MaxRetries, cfg.Transfer.MaxRetries)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
	assert.Contains(t, err.Error(), "max retries must not be negative, got -1")
}

func TestExplicitDSNWins(t *testing.T) {
	t.Setenv("DB_NAME", "games")
	t.Setenv("SOURCE_DRIVER", "sqlite")
	t.Setenv("SOURCE_DSN", "file:games.db")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "sqlite", cfg.Source.Driver)
	assert.Equal(t, "file:games.db", cfg.Source.DSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		msg    string
	}{
		{"no dsn", func(c *Config) {}, "source dsn is empty"},
		{"bad driver", func(c *Config) { c.Source.DSN = "x"; c.Source.Driver = "oracle" }, "unsupported database type: oracle"},
		{"bad sink", func(c *Config) { c.Source.DSN = "x"; c.Sink.Kind = "redis" }, `unknown sink "redis"`},
		{"bad workers", func(c *Config) { c.Source.DSN = "x"; c.Transfer.Workers = 0 }, "workers must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
		})
	}
}

func TestOpenSink(t *testing.T) {
	ctx := context.Background()

	cfg := Default()
	cfg.Sink.Kind = SinkMemory
	sink, err := cfg.OpenSink(ctx, nil)
	require.NoError(t, err)
	assert.IsType(t, &graph.MemoryGraph{}, sink)

	cfg.Sink.Kind = SinkBadger
	cfg.Sink.Badger.Dir = filepath.Join(t.TempDir(), "graph")
	sink, err = cfg.OpenSink(ctx, nil)
	require.NoError(t, err)
	assert.IsType(t, &badgersink.Store{}, sink)
	require.NoError(t, sink.Close(ctx))

	cfg.Sink.Kind = "redis"
	_, err = cfg.OpenSink(ctx, nil)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestTransferOptions(t *testing.T) {
	cfg := Default()
	opts := cfg.TransferOptions(nil)
	assert.Equal(t, cfg.Transfer.Workers, opts.Workers)
	assert.Equal(t, cfg.Transfer.ChunkSize, opts.ChunkSize)
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load("../../configs/migrator.yaml")
	require.NoError(t, err)
	assert.Equal(t, "configs/catalog.yaml", cfg.Catalog)
	assert.Equal(t, SinkNeo4j, cfg.Sink.Kind)
	assert.Equal(t, 5*time.Minute, cfg.Transfer.CallTimeout)
	assert.Equal(t, 30*time.Second, cfg.Transfer.RetryMax)
}
