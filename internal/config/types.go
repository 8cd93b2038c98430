package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Advice    AdviceConfig    `mapstructure:"advice"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
}

// Location 解析配置的时区，失败时回落到 UTC。
func (a AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil || a.Timezone == "" {
		return time.UTC
	}
	return loc
}

// ServerConfig 描述 HTTP 接口。
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchLimit   int           `mapstructure:"batch_limit"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
}

// EngineConfig 控制配置与 KPI 引擎。
type EngineConfig struct {
	MCPaths     int     `mapstructure:"mc_paths"`
	DT          float64 `mapstructure:"dt"`
	DefaultSeed int64   `mapstructure:"default_seed"`
	RoundPlaces int     `mapstructure:"round_places"`
}

// AdviceConfig 描述建议文本生成参数。
type AdviceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxWords int           `mapstructure:"max_words"`
}

// SentimentConfig 描述情绪快照来源。
type SentimentConfig struct {
	Dir             string `mapstructure:"dir"`
	RefreshSchedule string `mapstructure:"refresh_schedule"`
	RSIPeriod       int    `mapstructure:"rsi_period"`
	EMAPeriod       int    `mapstructure:"ema_period"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.App.Timezone != "" {
		if _, locErr := time.LoadLocation(c.App.Timezone); locErr != nil {
			err = multierr.Append(err, fmt.Errorf("app.timezone 无法解析: %w", locErr))
		}
	}
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr 不能为空"))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.read_timeout/write_timeout 必须大于0"))
	}
	if c.Server.BatchLimit <= 0 {
		err = multierr.Append(err, errors.New("server.batch_limit 必须大于0"))
	}
	if c.Server.MaxBatchSize <= 0 {
		err = multierr.Append(err, errors.New("server.max_batch_size 必须大于0"))
	}
	if c.Engine.MCPaths < 2 {
		err = multierr.Append(err, errors.New("engine.mc_paths 至少为2"))
	}
	if c.Engine.DT <= 0 {
		err = multierr.Append(err, errors.New("engine.dt 必须大于0"))
	}
	if c.Engine.RoundPlaces < 1 || c.Engine.RoundPlaces > 9 {
		err = multierr.Append(err, errors.New("engine.round_places 必须位于[1,9]"))
	}
	if c.Advice.Enabled {
		if c.Advice.APIKey == "" {
			err = multierr.Append(err, errors.New("advice.api_key 不能为空 (advice.enabled=true)"))
		}
		if c.Advice.Model == "" {
			err = multierr.Append(err, errors.New("advice.model 不能为空"))
		}
		if c.Advice.Timeout <= 0 {
			err = multierr.Append(err, errors.New("advice.timeout 必须大于0"))
		}
	}
	if c.Advice.MaxWords <= 0 {
		err = multierr.Append(err, errors.New("advice.max_words 必须大于0"))
	}
	if c.Sentiment.RefreshSchedule != "" {
		if _, parseErr := cron.ParseStandard(c.Sentiment.RefreshSchedule); parseErr != nil {
			err = multierr.Append(err, fmt.Errorf("sentiment.refresh_schedule 非法: %w", parseErr))
		}
		if c.Sentiment.Dir == "" {
			err = multierr.Append(err, errors.New("sentiment.dir 不能为空 (已配置 refresh_schedule)"))
		}
	}
	if c.Sentiment.RSIPeriod < 2 || c.Sentiment.EMAPeriod < 2 {
		err = multierr.Append(err, errors.New("sentiment.rsi_period/ema_period 至少为2"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
