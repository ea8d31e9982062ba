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
	Cron   CronConfig   `mapstructure:"cron"`

	MarketData  MarketDataConfig  `mapstructure:"market_data"`
	QuoteStream QuoteStreamConfig `mapstructure:"quote_stream"`
	Trading     TradingConfig     `mapstructure:"trading"`
	Rewards     RewardsConfig     `mapstructure:"rewards"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
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

type CronConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	PriceRefresh    string `mapstructure:"price_refresh"`
	EconomySnapshot string `mapstructure:"economy_snapshot"`
	ReminderScan    string `mapstructure:"reminder_scan"`
}

type MarketDataConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type QuoteStreamConfig struct {
	URL               string        `mapstructure:"url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
}

type TradingConfig struct {
	// StalenessThreshold is the maximum quote age accepted when opening or
	// closing a position.
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	MinOrderAmount     float64       `mapstructure:"min_order_amount"`
}

type RewardsConfig struct {
	DailyPeriod      time.Duration `mapstructure:"daily_period"`
	DailyBaseMin     int64         `mapstructure:"daily_base_min"`
	DailyBaseMax     int64         `mapstructure:"daily_base_max"`
	JackpotChance    float64       `mapstructure:"jackpot_chance"`
	JackpotMin       int64         `mapstructure:"jackpot_min"`
	JackpotMax       int64         `mapstructure:"jackpot_max"`
	JackpotThreshold int64         `mapstructure:"jackpot_threshold"`

	HarvestCatchChance float64 `mapstructure:"harvest_catch_chance"`
	HarvestPayoutMin   float64 `mapstructure:"harvest_payout_min"`
	HarvestPayoutMax   float64 `mapstructure:"harvest_payout_max"`
}

type InstrumentConfig struct {
	Ticker      string  `mapstructure:"ticker"`
	Description string  `mapstructure:"description"`
	Leverage    float64 `mapstructure:"leverage"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TR")
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
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.price_refresh", "@every 3m")
	v.SetDefault("cron.economy_snapshot", "@every 6h")
	v.SetDefault("cron.reminder_scan", "@every 10m")
	v.SetDefault("market_data.base_url", "https://api.twelvedata.com")
	v.SetDefault("market_data.api_key_env", "TR_MARKET_DATA_API_KEY")
	v.SetDefault("market_data.timeout", "15s")
	v.SetDefault("quote_stream.url", "")
	v.SetDefault("quote_stream.heartbeat_interval", "20s")
	v.SetDefault("quote_stream.refresh_interval", "30s")
	v.SetDefault("trading.staleness_threshold", "10m")
	v.SetDefault("trading.min_order_amount", 1)
	v.SetDefault("rewards.daily_period", "24h")
	v.SetDefault("rewards.daily_base_min", 50)
	v.SetDefault("rewards.daily_base_max", 100)
	v.SetDefault("rewards.jackpot_chance", 0.01)
	v.SetDefault("rewards.jackpot_min", 101)
	v.SetDefault("rewards.jackpot_max", 2000)
	v.SetDefault("rewards.jackpot_threshold", 1000)
	v.SetDefault("rewards.harvest_catch_chance", 0.5)
	v.SetDefault("rewards.harvest_payout_min", 0.1)
	v.SetDefault("rewards.harvest_payout_max", 2.0)
	v.SetDefault("instruments", []map[string]any{
		{"ticker": "AAPL", "description": "Apple Inc.", "leverage": 2},
		{"ticker": "TSLA", "description": "Tesla Inc.", "leverage": 2},
		{"ticker": "NVDA", "description": "NVIDIA Corp.", "leverage": 2},
		{"ticker": "SPY", "description": "SPDR S&P 500 ETF", "leverage": 3},
		{"ticker": "BTC/USD", "description": "Bitcoin", "leverage": 3},
	})

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
