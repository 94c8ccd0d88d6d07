package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvConfigPath overrides the config.yaml search path.
const EnvConfigPath = "TRADER_CONFIG"

type Config struct {
	Binance  BinanceConfig  `mapstructure:"binance"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type BinanceConfig struct {
	APIKey    string     `mapstructure:"api_key"`
	APISecret string     `mapstructure:"api_secret"`
	SSM       SSMConfig  `mapstructure:"ssm"`
	REST      RESTConfig `mapstructure:"rest"`
	WS        WSConfig   `mapstructure:"ws"`
}

// SSMConfig names Parameter Store entries consulted when a credential is
// set neither in the environment nor in the config file.
type SSMConfig struct {
	APIKeyParam    string `mapstructure:"api_key_param"`
	APISecretParam string `mapstructure:"api_secret_param"`
}

type RESTConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RecvWindow     time.Duration `mapstructure:"recv_window"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

type WSConfig struct {
	URL               string        `mapstructure:"url"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"` // consecutive failed sessions before giving up
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type TradingConfig struct {
	Symbol          string        `mapstructure:"symbol"`
	Quantities      []string      `mapstructure:"quantities"`
	BuyRatio        string        `mapstructure:"buy_ratio"`
	SellRatio       string        `mapstructure:"sell_ratio"`
	CancelThreshold int           `mapstructure:"cancel_threshold"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	TimeInForce     string        `mapstructure:"time_in_force"`
	Filters         FilterConfig  `mapstructure:"filters"`
}

// FilterConfig is the exchange precision used until exchangeInfo answers.
type FilterConfig struct {
	TickSize    string `mapstructure:"tick_size"`
	StepSize    string `mapstructure:"step_size"`
	MinQty      string `mapstructure:"min_qty"`
	MinNotional string `mapstructure:"min_notional"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.api_secret", "")
	v.SetDefault("binance.ssm.api_key_param", "")
	v.SetDefault("binance.ssm.api_secret_param", "")

	v.SetDefault("binance.rest.base_url", "https://testnet.binancefuture.com")
	v.SetDefault("binance.rest.timeout", 10*time.Second)
	v.SetDefault("binance.rest.recv_window", 5*time.Second)
	v.SetDefault("binance.rest.max_attempts", 3)
	v.SetDefault("binance.rest.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("binance.rest.retry_max_delay", 5*time.Second)

	v.SetDefault("binance.ws.url", "wss://stream.binancefuture.com/ws")
	v.SetDefault("binance.ws.handshake_timeout", 10*time.Second)
	v.SetDefault("binance.ws.ping_interval", 20*time.Second)
	v.SetDefault("binance.ws.ping_timeout", 20*time.Second)
	v.SetDefault("binance.ws.max_retries", 6)
	v.SetDefault("binance.ws.retry_base_delay", 2*time.Second)
	v.SetDefault("binance.ws.retry_max_delay", 30*time.Second)
	v.SetDefault("binance.ws.heartbeat_interval", 30*time.Second)

	v.SetDefault("trading.symbol", "BTCUSDT")
	v.SetDefault("trading.quantities", []string{"0.004", "0.005", "0.006", "0.007"})
	v.SetDefault("trading.buy_ratio", "0.95")
	v.SetDefault("trading.sell_ratio", "1.05")
	v.SetDefault("trading.cancel_threshold", 5)
	v.SetDefault("trading.settle_delay", 2*time.Second)
	v.SetDefault("trading.min_interval", 3*time.Second)
	v.SetDefault("trading.max_interval", 7*time.Second)
	v.SetDefault("trading.request_timeout", 15*time.Second)
	v.SetDefault("trading.time_in_force", "GTC")
	v.SetDefault("trading.filters.tick_size", "0.1")
	v.SetDefault("trading.filters.step_size", "0.001")
	v.SetDefault("trading.filters.min_qty", "0.001")
	v.SetDefault("trading.filters.min_notional", "100")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.create_db", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "fapitrader")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.max_open_conns", 5)
	v.SetDefault("postgres.max_idle_conns", 2)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)
	v.SetDefault("postgres.ssm.host_param", "")
	v.SetDefault("postgres.ssm.user_param", "")
	v.SetDefault("postgres.ssm.password_param", "")
}

// Load reads config.yaml from the usual locations (or TRADER_CONFIG) and
// overrides it with environment variables. A missing file is not an error.
func Load() (*Config, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFrom(path)
	}
	return load(func(v *viper.Viper) {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")

		ex, _ := os.Executable()
		if strings.Contains(ex, "go-build") {
			pwd, _ := os.Getwd()
			v.AddConfigPath(filepath.Join(pwd, "../../config"))
		} else {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	})
}

// LoadFrom reads the given file, then applies environment overrides.
func LoadFrom(path string) (*Config, error) {
	return load(func(v *viper.Viper) {
		v.SetConfigFile(path)
	})
}

func load(locate func(v *viper.Viper)) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	locate(v)

	// Support environment variables with dot notation (e.g., BINANCE_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// short names kept as aliases
	aliases := map[string][]string{
		"trading.symbol":        {"TRADING_SYMBOL", "SYMBOL"},
		"binance.ws.url":        {"BINANCE_WS_URL", "WS_BASE"},
		"binance.rest.base_url": {"BINANCE_REST_BASE_URL", "REST_BASE"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Trading.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Trading.Symbol))
	return &cfg, nil
}

// Validate checks the values the trading loop relies on.
func (c *Config) Validate() error {
	t := c.Trading
	if t.Symbol == "" {
		return errors.New("trading.symbol is empty")
	}
	if _, err := t.QuantityPool(); err != nil {
		return err
	}
	buy, sell, err := t.Ratios()
	if err != nil {
		return err
	}
	one := decimal.NewFromInt(1)
	if !buy.IsPositive() || !buy.LessThan(one) {
		return fmt.Errorf("trading.buy_ratio %s must be in (0, 1)", buy)
	}
	if !sell.GreaterThan(one) {
		return fmt.Errorf("trading.sell_ratio %s must be greater than 1", sell)
	}
	if t.CancelThreshold < 1 {
		return fmt.Errorf("trading.cancel_threshold %d must be at least 1", t.CancelThreshold)
	}
	// the pause between cycles is what caps the order rate
	if t.MinInterval <= 0 || t.MinInterval > t.MaxInterval {
		return fmt.Errorf("trading interval [%s, %s] is invalid", t.MinInterval, t.MaxInterval)
	}
	if _, err := t.Filters.Parse(); err != nil {
		return err
	}
	rest, ws := c.Binance.REST, c.Binance.WS
	if rest.MaxAttempts < 1 {
		return fmt.Errorf("binance.rest.max_attempts %d must be at least 1", rest.MaxAttempts)
	}
	if err := validateBackoff("binance.rest", rest.RetryBaseDelay, rest.RetryMaxDelay); err != nil {
		return err
	}
	if ws.MaxRetries < 1 {
		return fmt.Errorf("binance.ws.max_retries %d must be at least 1", ws.MaxRetries)
	}
	if err := validateBackoff("binance.ws", ws.RetryBaseDelay, ws.RetryMaxDelay); err != nil {
		return err
	}
	return nil
}

func validateBackoff(section string, base, max time.Duration) error {
	if base <= 0 {
		return fmt.Errorf("%s.retry_base_delay %s must be positive", section, base)
	}
	if max < base {
		return fmt.Errorf("%s.retry_max_delay %s must be at least retry_base_delay %s", section, max, base)
	}
	return nil
}

// QuantityPool parses the allowed order sizes. Every entry must be positive.
func (t TradingConfig) QuantityPool() ([]decimal.Decimal, error) {
	if len(t.Quantities) == 0 {
		return nil, errors.New("trading.quantities is empty")
	}
	pool := make([]decimal.Decimal, 0, len(t.Quantities))
	for _, s := range t.Quantities {
		q, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("trading.quantities: %q: %w", s, err)
		}
		if !q.IsPositive() {
			return nil, fmt.Errorf("trading.quantities: %s is not positive", q)
		}
		pool = append(pool, q)
	}
	return pool, nil
}

func (t TradingConfig) Ratios() (buy, sell decimal.Decimal, err error) {
	if buy, err = decimal.NewFromString(t.BuyRatio); err != nil {
		return buy, sell, fmt.Errorf("trading.buy_ratio: %w", err)
	}
	if sell, err = decimal.NewFromString(t.SellRatio); err != nil {
		return buy, sell, fmt.Errorf("trading.sell_ratio: %w", err)
	}
	return buy, sell, nil
}

type ParsedFilters struct {
	TickSize, StepSize, MinQty, MinNotional decimal.Decimal
}

func (f FilterConfig) Parse() (ParsedFilters, error) {
	var p ParsedFilters
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"tick_size", f.TickSize, &p.TickSize},
		{"step_size", f.StepSize, &p.StepSize},
		{"min_qty", f.MinQty, &p.MinQty},
		{"min_notional", f.MinNotional, &p.MinNotional},
	}
	for _, fld := range fields {
		if fld.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(fld.raw)
		if err != nil {
			return p, fmt.Errorf("trading.filters.%s: %w", fld.name, err)
		}
		if d.IsNegative() {
			return p, fmt.Errorf("trading.filters.%s: %s is negative", fld.name, d)
		}
		*fld.dst = d
	}
	return p, nil
}
