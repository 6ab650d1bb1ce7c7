// Package config 运行配置：默认值、YAML 配置文件、.env 与环境变量
//
// 优先级从低到高：默认值 < 配置文件 < 环境变量 < 命令行参数（由 cmd 覆盖）。
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"graph-migrator/internal/adapter"
	"graph-migrator/internal/errs"
	"graph-migrator/internal/transfer"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// 图存储类型
const (
	SinkNeo4j  = "neo4j"
	SinkBadger = "badger"
	SinkMemory = "memory"
)

// Config 运行配置
type Config struct {
	Catalog  string         `yaml:"catalog"`
	Source   SourceConfig   `yaml:"source"`
	Sink     SinkConfig     `yaml:"sink"`
	Transfer TransferConfig `yaml:"transfer"`
	Server   ServerConfig   `yaml:"server"`

	// envProblems ApplyEnv 遇到的非法取值，由 Validate 报告
	envProblems []string
}

// SourceConfig 关系数据源
type SourceConfig struct {
	Driver string `yaml:"driver"` // postgres / mysql / sqlserver / sqlite
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

// SinkConfig 图存储
type SinkConfig struct {
	Kind   string       `yaml:"kind"`
	Neo4j  Neo4jConfig  `yaml:"neo4j"`
	Badger BadgerConfig `yaml:"badger"`
	// Output 内存图试运行时导出 JSON 的路径，为空则不导出
	Output string `yaml:"output"`
}

// Neo4jConfig Neo4j 连接
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// BadgerConfig 嵌入式存储
type BadgerConfig struct {
	Dir        string `yaml:"dir"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// TransferConfig 编排参数
type TransferConfig struct {
	Workers      int           `yaml:"workers"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	MaxRetries   uint64        `yaml:"max_retries"`
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
	ChunkSize    int           `yaml:"chunk_size"`
}

// ServerConfig 迁移服务
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default 默认配置
func Default() *Config {
	opts := transfer.DefaultOptions()
	return &Config{
		Catalog: "configs/catalog.yaml",
		Source:  SourceConfig{Driver: "postgres"},
		Sink: SinkConfig{
			Kind:   SinkNeo4j,
			Neo4j:  Neo4jConfig{URI: "neo4j://localhost:7687", User: "neo4j"},
			Badger: BadgerConfig{Dir: "./data/graph"},
		},
		Transfer: TransferConfig{
			Workers:      opts.Workers,
			CallTimeout:  opts.CallTimeout,
			MaxRetries:   opts.MaxRetries,
			RetryInitial: opts.RetryInitial,
			RetryMax:     opts.RetryMax,
			ChunkSize:    opts.ChunkSize,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load 加载配置：先读取 .env（不存在则忽略），再读配置文件（path 为空则跳过），最后应用环境变量
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errs.New(errs.KindConfiguration, "load env", ".env", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.New(errs.KindConfiguration, "load", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, errs.New(errs.KindConfiguration, "parse", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv 用环境变量覆盖配置
//
// DB_NAME/DB_USER/DB_PASSWORD/DB_HOST/DB_PORT 在未显式给出 DSN 时拼成 PostgreSQL 连接串。
func (c *Config) ApplyEnv() {
	c.Catalog = getEnv("MIGRATOR_CATALOG", c.Catalog)
	c.Source.Driver = getEnv("SOURCE_DRIVER", c.Source.Driver)
	c.Source.DSN = getEnv("SOURCE_DSN", c.Source.DSN)
	c.Source.Schema = getEnv("SOURCE_SCHEMA", c.Source.Schema)
	if c.Source.DSN == "" && os.Getenv("DB_NAME") != "" {
		c.Source.Driver = "postgres"
		c.Source.DSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			pqValue(getEnv("DB_HOST", "localhost")),
			pqValue(getEnv("DB_PORT", "5432")),
			pqValue(os.Getenv("DB_USER")),
			pqValue(os.Getenv("DB_PASSWORD")),
			pqValue(os.Getenv("DB_NAME")))
	}

	c.Sink.Kind = getEnv("MIGRATOR_SINK", c.Sink.Kind)
	c.Sink.Neo4j.URI = getEnv("NEO4J_URI", c.Sink.Neo4j.URI)
	c.Sink.Neo4j.User = getEnv("NEO4J_USER", c.Sink.Neo4j.User)
	c.Sink.Neo4j.Password = getEnv("NEO4J_PASSWORD", c.Sink.Neo4j.Password)
	c.Sink.Neo4j.Database = getEnv("NEO4J_DATABASE", c.Sink.Neo4j.Database)
	c.Sink.Badger.Dir = getEnv("BADGER_DIR", c.Sink.Badger.Dir)

	c.Transfer.Workers = getEnvInt("MIGRATOR_WORKERS", c.Transfer.Workers)
	c.Transfer.CallTimeout = getEnvDuration("MIGRATOR_CALL_TIMEOUT", c.Transfer.CallTimeout)
	if retries := getEnvInt("MIGRATOR_MAX_RETRIES", int(c.Transfer.MaxRetries)); retries >= 0 {
		c.Transfer.MaxRetries = uint64(retries)
	} else {
		c.envProblems = append(c.envProblems, fmt.Sprintf("max retries must not be negative, got %d", retries))
	}
	c.Transfer.ChunkSize = getEnvInt("MIGRATOR_CHUNK_SIZE", c.Transfer.ChunkSize)

	c.Server.Addr = getEnv("MIGRATOR_ADDR", c.Server.Addr)
}

// Validate 校验配置，所有问题一次性返回
func (c *Config) Validate() error {
	problems := append([]string(nil), c.envProblems...)
	if c.Catalog == "" {
		problems = append(problems, "catalog path is empty")
	}
	if _, err := adapter.ParseDialect(c.Source.Driver); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Source.DSN == "" {
		problems = append(problems, "source dsn is empty (set source.dsn, SOURCE_DSN or DB_NAME)")
	}
	switch c.Sink.Kind {
	case SinkNeo4j:
		if c.Sink.Neo4j.URI == "" {
			problems = append(problems, "neo4j uri is empty")
		}
	case SinkBadger:
		if c.Sink.Badger.Dir == "" {
			problems = append(problems, "badger dir is empty")
		}
	case SinkMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown sink %q (neo4j, badger, memory)", c.Sink.Kind))
	}
	if c.Transfer.Workers <= 0 {
		problems = append(problems, fmt.Sprintf("workers must be positive, got %d", c.Transfer.Workers))
	}
	if c.Transfer.ChunkSize <= 0 {
		problems = append(problems, fmt.Sprintf("chunk size must be positive, got %d", c.Transfer.ChunkSize))
	}
	if c.Transfer.CallTimeout < 0 {
		problems = append(problems, "call timeout must not be negative")
	}
	if len(problems) > 0 {
		return errs.Errorf(errs.KindConfiguration, "validate", "", "%s", strings.Join(problems, "; "))
	}
	return nil
}

// TransferOptions 转成编排参数
func (c *Config) TransferOptions(logger *zap.Logger) transfer.Options {
	return transfer.Options{
		Workers:      c.Transfer.Workers,
		CallTimeout:  c.Transfer.CallTimeout,
		MaxRetries:   c.Transfer.MaxRetries,
		RetryInitial: c.Transfer.RetryInitial,
		RetryMax:     c.Transfer.RetryMax,
		ChunkSize:    c.Transfer.ChunkSize,
		Logger:       logger,
	}
}

// String 不含密码，可以写入日志
func (c *Config) String() string {
	return fmt.Sprintf("Config{Catalog: %s, Source: %s, Sink: %s, Workers: %d, Timeout: %s}",
		c.Catalog, c.Source.Driver, c.Sink.Kind, c.Transfer.Workers, c.Transfer.CallTimeout)
}

// pqValue lib/pq 的 key=value 连接串中，含空格、引号或反斜杠的值要加单引号并转义
func pqValue(s string) string {
	if s != "" && !strings.ContainsAny(s, " '\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
