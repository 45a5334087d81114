package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`

	Oracle     OracleConfig     `mapstructure:"oracle"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Cron       CronConfig       `mapstructure:"cron"`
	Ticks      TicksConfig      `mapstructure:"ticks"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type OracleConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`

	StreamURL     string   `mapstructure:"stream_url"`
	StreamSymbols []string `mapstructure:"stream_symbols"`

	// TickMaxAge bounds how far past the requested instant a recorded tick
	// may be before settlement falls back to the REST API.
	TickMaxAge time.Duration `mapstructure:"tick_max_age"`
}

type NotifyConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SettlementConfig struct {
	// PayoutRatio is the profit multiple on a winning stake; 0.8 pays 180
	// total on a 100 stake.
	PayoutRatio float64 `mapstructure:"payout_ratio"`
	Asset       string  `mapstructure:"asset"`
}

type SchedulerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
}

type CronConfig struct {
	Reconcile  string `mapstructure:"reconcile"`
	PruneTicks string `mapstructure:"prune_ticks"`
}

type TicksConfig struct {
	Retention time.Duration `mapstructure:"retention"`

	// ReconcileGrace is how long a resolved trade may sit without a
	// settlement transaction before the reconciliation sweep re-drives it.
	ReconcileGrace time.Duration `mapstructure:"reconcile_grace"`
	ReconcileBatch int           `mapstructure:"reconcile_batch"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("oracle.base_url", "http://localhost:9090")
	v.SetDefault("oracle.timeout", "10s")
	v.SetDefault("oracle.stream_url", "")
	v.SetDefault("oracle.stream_symbols", []string{"BTCUSDT"})
	v.SetDefault("oracle.tick_max_age", "2m")

	v.SetDefault("notify.base_url", "")
	v.SetDefault("notify.token", "")
	v.SetDefault("notify.timeout", "5s")

	v.SetDefault("settlement.payout_ratio", 0.8)
	v.SetDefault("settlement.asset", "USDT")

	v.SetDefault("scheduler.poll_interval", "1s")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.settle_timeout", "30s")

	v.SetDefault("cron.reconcile", "@every 1m")
	v.SetDefault("cron.prune_ticks", "@every 10m")
	v.SetDefault("ticks.retention", "24h")
	v.SetDefault("ticks.reconcile_grace", "30s")
	v.SetDefault("ticks.reconcile_batch", 100)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
