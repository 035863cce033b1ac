package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/GoPolymarket/polyvault/internal/risk"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Store      StoreConfig      `mapstructure:"store"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Breaker    risk.Config      `mapstructure:"breaker"`
	Manager    ManagerConfig    `mapstructure:"manager"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Keeper     KeeperConfig     `mapstructure:"keeper"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Events     EventsConfig     `mapstructure:"events"`
	Callers    []CallerConfig   `mapstructure:"callers"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	ReadOnly bool   `mapstructure:"read_only"`
	// 开启 faucet 和模拟收益接口，仅限开发环境
	Faucet bool `mapstructure:"faucet"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type AuthConfig struct {
	Owner        string        `mapstructure:"owner"`
	Guardians    []string      `mapstructure:"guardians"`
	Keepers      []string      `mapstructure:"keepers"`
	ChainID      int64         `mapstructure:"chain_id"`
	MaxSkew      time.Duration `mapstructure:"max_skew"`
	AllowEIP1271 bool          `mapstructure:"allow_eip1271"`
	DefaultQPS   float64       `mapstructure:"default_qps"`
	DefaultBurst int           `mapstructure:"default_burst"`
}

type DatabaseConfig struct {
	// Driver 为 pgx 或 sqlite
	Driver                    string `mapstructure:"driver"`
	DSN                       string `mapstructure:"dsn"`
	IdempotencyRetentionHours int    `mapstructure:"idempotency_retention_hours"`
	EventRetentionDays        int    `mapstructure:"event_retention_days"`
	CleanupIntervalMinutes    int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
	EventListKey          string `mapstructure:"event_list_key"`
	EventListMax          int    `mapstructure:"event_list_max"`
	SnapshotKey           string `mapstructure:"snapshot_key"`
}

type StoreConfig struct {
	// Snapshot 为 badger | redis | postgres | none
	Snapshot    string `mapstructure:"snapshot"`
	BadgerPath  string `mapstructure:"badger_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	History     int    `mapstructure:"history"`
}

type ChainConfig struct {
	RPCURL              string `mapstructure:"rpc_url"`
	EIP1271CacheSeconds int    `mapstructure:"eip1271_cache_seconds"`
	EIP1271TimeoutMs    int    `mapstructure:"eip1271_timeout_ms"`
	EIP1271Retries      int    `mapstructure:"eip1271_retries"`
}

type VaultConfig struct {
	Mode               string        `mapstructure:"mode"`
	Address            string        `mapstructure:"address"`
	AssetSymbol        string        `mapstructure:"asset_symbol"`
	ShareSymbol        string        `mapstructure:"share_symbol"`
	Decimals           int32         `mapstructure:"decimals"`
	DepositCap         string        `mapstructure:"deposit_cap"`
	FeeRecipient       string        `mapstructure:"fee_recipient"`
	PerformanceFeeBps  int64         `mapstructure:"performance_fee_bps"`
	ManagementFeeBps   int64         `mapstructure:"management_fee_bps"`
	ProfitUnlockWindow time.Duration `mapstructure:"profit_unlock_window"`
	MaxWithdrawDelay   time.Duration `mapstructure:"max_withdraw_delay"`
	QueueBatchSize     int           `mapstructure:"queue_batch_size"`
}

type ManagerConfig struct {
	MaxStrategies     int           `mapstructure:"max_strategies"`
	MinRebalanceDelay time.Duration `mapstructure:"min_rebalance_delay"`
}

type StrategyConfig struct {
	Name         string `mapstructure:"name"`
	Address      string `mapstructure:"address"`
	TargetBps    int64  `mapstructure:"target_bps"`
	MaxDebt      string `mapstructure:"max_debt"`
	LiquidityCap string `mapstructure:"liquidity_cap"`
}

type GovernanceConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Address    string        `mapstructure:"address"`
	Delay      time.Duration `mapstructure:"delay"`
	Proposers  []string      `mapstructure:"proposers"`
	Cancellers []string      `mapstructure:"cancellers"`
}

type KeeperConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Address       string `mapstructure:"address"`
	HarvestSpec   string `mapstructure:"harvest_spec"`
	QueueSpec     string `mapstructure:"queue_spec"`
	RebalanceSpec string `mapstructure:"rebalance_spec"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type EventsConfig struct {
	// Backend 为 sql | redis | memory
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	BufferSize int    `mapstructure:"buffer_size"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// CallerConfig 预置调用方的限流配置
type CallerConfig struct {
	Address string  `mapstructure:"address"`
	Name    string  `mapstructure:"name"`
	QPS     float64 `mapstructure:"qps"`
	Burst   int     `mapstructure:"burst"`
}

// Load reads .env (if present), then config.yaml, then VAULT_* env vars.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env")
	}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. VAULT_VAULT_PERFORMANCE_FEE_BPS
	v.SetEnvPrefix("vault")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	// 没有默认值的键也要登记，否则 AutomaticEnv 不会在 Unmarshal 时生效
	v.SetDefault("auth.owner", "")
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.faucet", false)
	v.SetDefault("governance.enabled", false)
	v.SetDefault("keeper.enabled", false)
	v.SetDefault("keeper.address", "")
	v.SetDefault("auth.chain_id", 137)
	v.SetDefault("auth.max_skew", "5m")
	v.SetDefault("auth.default_qps", 10)
	v.SetDefault("auth.default_burst", 20)
	v.SetDefault("vault.address", "0x000000000000000000000000000000000000fa17")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:polyvault.db?_pragma=busy_timeout(5000)")
	v.SetDefault("database.idempotency_retention_hours", 168)
	v.SetDefault("database.event_retention_days", 30)
	v.SetDefault("database.cleanup_interval_minutes", 60)
	v.SetDefault("redis.idempotency_ttl_seconds", 86400)
	v.SetDefault("redis.event_list_key", "vault_events")
	v.SetDefault("redis.event_list_max", 10000)
	v.SetDefault("redis.snapshot_key", "vault_snapshot")
	v.SetDefault("store.snapshot", "badger")
	v.SetDefault("store.badger_path", "./data/snapshots")
	v.SetDefault("store.history", 100)
	v.SetDefault("chain.eip1271_cache_seconds", 60)
	v.SetDefault("chain.eip1271_timeout_ms", 5000)
	v.SetDefault("chain.eip1271_retries", 1)
	v.SetDefault("vault.mode", "single")
	v.SetDefault("vault.asset_symbol", "USDC")
	v.SetDefault("vault.decimals", 6)
	v.SetDefault("vault.deposit_cap", "0")
	v.SetDefault("vault.performance_fee_bps", 2000)
	v.SetDefault("vault.management_fee_bps", 200)
	v.SetDefault("vault.profit_unlock_window", "6h")
	v.SetDefault("vault.max_withdraw_delay", "72h")
	v.SetDefault("vault.queue_batch_size", 50)
	def := risk.DefaultConfig()
	v.SetDefault("breaker.max_loss_bps", def.MaxLossBps)
	v.SetDefault("breaker.max_drawdown_bps", def.MaxDrawdownBps)
	v.SetDefault("breaker.max_single_withdrawal_bps", def.MaxSingleWithdrawalBps)
	v.SetDefault("breaker.hwm_period", def.HighWaterMarkPeriod)
	v.SetDefault("breaker.violation_window", def.ViolationWindow)
	v.SetDefault("breaker.max_violations", def.MaxViolations)
	v.SetDefault("manager.max_strategies", 20)
	v.SetDefault("manager.min_rebalance_delay", "1h")
	v.SetDefault("governance.delay", "24h")
	v.SetDefault("keeper.harvest_spec", "0 0 * * * *")
	v.SetDefault("keeper.queue_spec", "0 */5 * * * *")
	v.SetDefault("keeper.rebalance_spec", "0 30 */6 * * *")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("events.backend", "sql")
	v.SetDefault("events.dir", "./logs")
	v.SetDefault("events.buffer_size", 1000)
	v.SetDefault("events.max_size_mb", 100)
	v.SetDefault("events.max_backups", 10)
}

func (c *Config) Validate() error {
	switch c.Vault.Mode {
	case "single", "multi":
	default:
		return fmt.Errorf("vault.mode must be single or multi, got %q", c.Vault.Mode)
	}
	switch c.Store.Snapshot {
	case "badger", "redis", "postgres", "none":
	default:
		return fmt.Errorf("store.snapshot must be badger, redis, postgres or none, got %q", c.Store.Snapshot)
	}
	if c.Auth.Owner == "" {
		return fmt.Errorf("auth.owner is required")
	}
	if c.Vault.Mode == "single" && len(c.Strategies) > 1 {
		return fmt.Errorf("single mode takes at most one strategy, got %d", len(c.Strategies))
	}
	return c.Breaker.Validate()
}
