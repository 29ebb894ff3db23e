package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del monitor de pools.
type Config struct {
	RPC        RPCConfig        `yaml:"rpc"`
	Governor   GovernorConfig   `yaml:"governor"`
	Priority   PriorityConfig   `yaml:"priority"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Baseline   BaselineConfig   `yaml:"baseline"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Trading    TradingConfig    `yaml:"trading"`
	Storage    StorageConfig    `yaml:"storage"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

// RPCConfig apunta al nodo JSON-RPC de Solana.
type RPCConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSec     float64 `yaml:"rate_per_sec"` // límite documentado del proveedor
	Burst          int     `yaml:"burst"`
	MaxRetries     int     `yaml:"max_retries"`
	Commitment     string  `yaml:"commitment"`
}

// GovernorConfig controla los dos límites del request governor.
type GovernorConfig struct {
	MaxRequestsPerSecond  int `yaml:"max_requests_per_second"`
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`
	BatchSize             int `yaml:"batch_size"`
	QueueCapacity         int `yaml:"queue_capacity"`
	OverloadQueueDepth    int `yaml:"overload_queue_depth"`
	OverloadAfterSeconds  int `yaml:"overload_after_seconds"`
}

// PriorityConfig asigna tiers según el TVL del baseline.
type PriorityConfig struct {
	HighTVL          float64 `yaml:"high_tvl"`   // TVL > high_tvl → high
	MediumTVL        float64 `yaml:"medium_tvl"` // TVL > medium_tvl → medium
	HighIntervalMs   int     `yaml:"high_interval_ms"`
	MediumIntervalMs int     `yaml:"medium_interval_ms"`
	LowIntervalMs    int     `yaml:"low_interval_ms"`
}

// SchedulerConfig controla el polling adaptativo.
type SchedulerConfig struct {
	TickMs              int     `yaml:"tick_ms"`
	MinIntervalMs       int     `yaml:"min_interval_ms"`
	MaxIntervalMs       int     `yaml:"max_interval_ms"`
	BackoffMultiplier   float64 `yaml:"backoff_multiplier"`
	MaxBackoffMs        int     `yaml:"max_backoff_ms"`
	VolatilePricePct    float64 `yaml:"volatile_price_pct"`
	VolatileTVLPct      float64 `yaml:"volatile_tvl_pct"`
	CalmPricePct        float64 `yaml:"calm_price_pct"`
	CalmTVLPct          float64 `yaml:"calm_tvl_pct"`
	FetchTimeoutSeconds int     `yaml:"fetch_timeout_seconds"`
}

// BaselineConfig es la política de reintentos del baseline.
type BaselineConfig struct {
	YoungAgeSeconds     int `yaml:"young_age_seconds"`
	YoungAttempts       int `yaml:"young_attempts"`
	YoungSpacingSeconds int `yaml:"young_spacing_seconds"`
	OldAttempts         int `yaml:"old_attempts"`
	OldSpacingSeconds   int `yaml:"old_spacing_seconds"`
	CeilingSeconds      int `yaml:"ceiling_seconds"`
}

// MonitoringConfig define la ventana de monitoreo de cada pool.
type MonitoringConfig struct {
	WindowMinutes         int `yaml:"window_minutes"`
	ExtensionMinutes      int `yaml:"extension_minutes"`
	HealthIntervalSeconds int `yaml:"health_interval_seconds"`
}

// ExitParams son los umbrales de salida de un tipo de entrada.
type ExitParams struct {
	Amount         float64 `yaml:"amount"` // SOL
	TakeProfitPct  float64 `yaml:"take_profit_pct"`
	StopLossPct    float64 `yaml:"stop_loss_pct"`
	MaxHoldMinutes int     `yaml:"max_hold_minutes"`
}

// TrailingConfig controla el trailing stop.
type TrailingConfig struct {
	Enabled          *bool   `yaml:"enabled"` // nil → activado
	ActivationPct    float64 `yaml:"activation_pct"`
	DistancePct      float64 `yaml:"distance_pct"`
	BreakevenLockPct float64 `yaml:"breakeven_lock_pct"`
}

// TradingConfig contiene las reglas de entrada y salida del paper trading.
type TradingConfig struct {
	Enabled             *bool          `yaml:"enabled"` // nil → activado
	MinPriceIncreasePct float64        `yaml:"min_price_increase_pct"`
	MinTVLIncreasePct   float64        `yaml:"min_tvl_increase_pct"`
	MinBaselineTVL      float64        `yaml:"min_baseline_tvl"`
	Entry               ExitParams     `yaml:"entry"`
	ReEntry             ExitParams     `yaml:"re_entry"`
	Trailing            TrailingConfig `yaml:"trailing"`
	CollapsePct         float64        `yaml:"collapse_pct"`     // negativo, p.ej. -30
	CollapseMinTVL      float64        `yaml:"collapse_min_tvl"` // 0 = desactivado
	MaxReEntries        int            `yaml:"max_re_entries"`
	InitialBalance      float64        `yaml:"initial_balance"`
	MaxTradesPerHour    int            `yaml:"max_trades_per_hour"`
	MaxOpenPositions    int            `yaml:"max_open_positions"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN        string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
	BufferSize int    `yaml:"buffer_size"`
}

// HTTPConfig controla la API HTTP. Addr vacío la desactiva.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Parse interpreta YAML ya leído, aplica overrides de entorno y defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rechaza combinaciones que harían fallar al monitor en runtime.
func (c *Config) Validate() error {
	switch {
	case c.Priority.HighTVL < c.Priority.MediumTVL:
		return fmt.Errorf("priority.high_tvl (%v) < medium_tvl (%v)", c.Priority.HighTVL, c.Priority.MediumTVL)
	case c.Scheduler.MinIntervalMs > c.Scheduler.MaxIntervalMs:
		return fmt.Errorf("scheduler.min_interval_ms > max_interval_ms")
	case c.Trading.CollapsePct >= 0:
		return fmt.Errorf("trading.collapse_pct must be negative, got %v", c.Trading.CollapsePct)
	case c.Scheduler.BackoffMultiplier < 1:
		return fmt.Errorf("scheduler.backoff_multiplier must be >= 1")
	}
	return nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SOLANA_RPC_ENDPOINT"); v != "" {
		cfg.RPC.Endpoint = v
	}
	if v := os.Getenv("POOLWATCH_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("MAX_TRADES_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trading.MaxTradesPerHour = n
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_TRADES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trading.MaxOpenPositions = n
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	setIntDefault(&cfg.RPC.TimeoutSeconds, 10)
	setIntDefault(&cfg.RPC.Burst, 5)
	setIntDefault(&cfg.RPC.MaxRetries, 2)
	if cfg.RPC.Endpoint == "" {
		cfg.RPC.Endpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.RPC.RatePerSec <= 0 {
		cfg.RPC.RatePerSec = 10
	}
	if cfg.RPC.Commitment == "" {
		cfg.RPC.Commitment = "confirmed"
	}

	setIntDefault(&cfg.Governor.MaxRequestsPerSecond, 8)
	setIntDefault(&cfg.Governor.MaxConcurrentRequests, 3)
	setIntDefault(&cfg.Governor.BatchSize, 3)
	setIntDefault(&cfg.Governor.QueueCapacity, 1024)
	setIntDefault(&cfg.Governor.OverloadQueueDepth, 256)
	setIntDefault(&cfg.Governor.OverloadAfterSeconds, 5)

	if cfg.Priority.HighTVL <= 0 {
		cfg.Priority.HighTVL = 100
	}
	if cfg.Priority.MediumTVL <= 0 {
		cfg.Priority.MediumTVL = 20
	}
	setIntDefault(&cfg.Priority.HighIntervalMs, 1000)
	setIntDefault(&cfg.Priority.MediumIntervalMs, 2000)
	setIntDefault(&cfg.Priority.LowIntervalMs, 5000)

	setIntDefault(&cfg.Scheduler.TickMs, 250)
	setIntDefault(&cfg.Scheduler.MinIntervalMs, 500)
	setIntDefault(&cfg.Scheduler.MaxIntervalMs, 10_000)
	setIntDefault(&cfg.Scheduler.MaxBackoffMs, 30_000)
	setIntDefault(&cfg.Scheduler.FetchTimeoutSeconds, 15)
	if cfg.Scheduler.BackoffMultiplier == 0 {
		cfg.Scheduler.BackoffMultiplier = 1.5
	}
	setFloatDefault(&cfg.Scheduler.VolatilePricePct, 5)
	setFloatDefault(&cfg.Scheduler.VolatileTVLPct, 10)
	setFloatDefault(&cfg.Scheduler.CalmPricePct, 1)
	setFloatDefault(&cfg.Scheduler.CalmTVLPct, 2)

	setIntDefault(&cfg.Baseline.YoungAgeSeconds, 60)
	setIntDefault(&cfg.Baseline.YoungAttempts, 15)
	setIntDefault(&cfg.Baseline.YoungSpacingSeconds, 20)
	setIntDefault(&cfg.Baseline.OldAttempts, 10)
	setIntDefault(&cfg.Baseline.OldSpacingSeconds, 30)
	setIntDefault(&cfg.Baseline.CeilingSeconds, 360)

	setIntDefault(&cfg.Monitoring.WindowMinutes, 30)
	setIntDefault(&cfg.Monitoring.ExtensionMinutes, 10)
	setIntDefault(&cfg.Monitoring.HealthIntervalSeconds, 60)

	t := &cfg.Trading
	setFloatDefault(&t.MinPriceIncreasePct, 5)
	setFloatDefault(&t.MinTVLIncreasePct, 5)
	setFloatDefault(&t.MinBaselineTVL, 5)
	setFloatDefault(&t.Entry.Amount, 0.05)
	setFloatDefault(&t.Entry.TakeProfitPct, 25)
	setFloatDefault(&t.Entry.StopLossPct, 8)
	setIntDefault(&t.Entry.MaxHoldMinutes, 30)
	setFloatDefault(&t.ReEntry.Amount, 0.025)
	setFloatDefault(&t.ReEntry.TakeProfitPct, 20)
	setFloatDefault(&t.ReEntry.StopLossPct, 6)
	setIntDefault(&t.ReEntry.MaxHoldMinutes, 15)
	setFloatDefault(&t.Trailing.ActivationPct, 15)
	setFloatDefault(&t.Trailing.DistancePct, 10)
	setFloatDefault(&t.Trailing.BreakevenLockPct, 20)
	if t.CollapsePct == 0 {
		t.CollapsePct = -30
	}
	setIntDefault(&t.MaxReEntries, 1)
	setFloatDefault(&t.InitialBalance, 10)
	setIntDefault(&t.MaxTradesPerHour, 10)
	setIntDefault(&t.MaxOpenPositions, 3)

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "poolwatch.db"
	}
	setIntDefault(&cfg.Storage.BufferSize, 512)
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func setIntDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setFloatDefault(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
func sec(n int) time.Duration { return time.Duration(n) * time.Second }

// RPCTimeout devuelve el timeout HTTP del cliente RPC.
func (c *Config) RPCTimeout() time.Duration { return sec(c.RPC.TimeoutSeconds) }

// TierInterval devuelve el intervalo base de polling de cada tier.
func (c *Config) TierInterval(tier string) time.Duration {
	switch tier {
	case "high":
		return ms(c.Priority.HighIntervalMs)
	case "medium":
		return ms(c.Priority.MediumIntervalMs)
	}
	return ms(c.Priority.LowIntervalMs)
}

func (c *Config) SchedulerTick() time.Duration { return ms(c.Scheduler.TickMs) }
func (c *Config) MinInterval() time.Duration { return ms(c.Scheduler.MinIntervalMs) }
func (c *Config) MaxInterval() time.Duration { return ms(c.Scheduler.MaxIntervalMs) }
func (c *Config) MaxBackoff() time.Duration { return ms(c.Scheduler.MaxBackoffMs) }
func (c *Config) FetchTimeout() time.Duration { return sec(c.Scheduler.FetchTimeoutSeconds) }
func (c *Config) OverloadAfter() time.Duration { return sec(c.Governor.OverloadAfterSeconds) }
func (c *Config) BaselineYoungAge() time.Duration { return sec(c.Baseline.YoungAgeSeconds) }
func (c *Config) BaselineCeiling() time.Duration { return sec(c.Baseline.CeilingSeconds) }
func (c *Config) YoungSpacing() time.Duration { return sec(c.Baseline.YoungSpacingSeconds) }
func (c *Config) OldSpacing() time.Duration { return sec(c.Baseline.OldSpacingSeconds) }

// MonitoringWindow es la duración de monitoreo contada desde discoveredAt.
func (c *Config) MonitoringWindow() time.Duration {
	return time.Duration(c.Monitoring.WindowMinutes) * time.Minute
}

// MonitoringExtension se aplica una sola vez si hay una posición abierta al vencer la ventana.
func (c *Config) MonitoringExtension() time.Duration {
	return time.Duration(c.Monitoring.ExtensionMinutes) * time.Minute
}

func (c *Config) HealthInterval() time.Duration { return sec(c.Monitoring.HealthIntervalSeconds) }

// MaxHold devuelve el tiempo máximo de una posición con estos parámetros.
func (p ExitParams) MaxHold() time.Duration {
	return time.Duration(p.MaxHoldMinutes) * time.Minute
}

// IsEnabled devuelve true salvo que el YAML lo desactive explícitamente.
func (t TrailingConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

// IsEnabled devuelve true salvo que el YAML lo desactive explícitamente.
func (t TradingConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }
