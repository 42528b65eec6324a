package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Payments    PaymentsConfig    `mapstructure:"payments"`
	Investment  InvestmentConfig  `mapstructure:"investment"`
	Capacity    CapacityConfig    `mapstructure:"capacity"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Poller      PollerConfig      `mapstructure:"poller"`
	Cron        CronConfig        `mapstructure:"cron"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Name string `mapstructure:"name"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	// AuthDisabled skips the bearer check on /api/ routes; the gateway in
	// front of the service validates tokens.
	AuthDisabled bool `mapstructure:"auth_disabled"`
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

// RedisConfig backs the callback idempotency store. An empty Addr selects
// the in-process store, which is only safe for a single replica.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig selects the event transport. With no brokers the bridge runs
// on in-process channels.
type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	GroupPrefix      string   `mapstructure:"group_prefix"`
	SettlementTopic  string   `mapstructure:"settlement_topic"`
	InvestmentTopic  string   `mapstructure:"investment_topic"`
	MarketTopic      string   `mapstructure:"market_topic"`
	DeadLetterSuffix string   `mapstructure:"dead_letter_suffix"`
}

type IdempotencyConfig struct {
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type PaymentsConfig struct {
	DefaultCurrency string            `mapstructure:"default_currency"`
	Methods         map[string]string `mapstructure:"methods"`
	Mpesa           MpesaConfig       `mapstructure:"mpesa"`
	Stripe          StripeConfig      `mapstructure:"stripe"`
	Bank            BankConfig        `mapstructure:"bank"`
	Escrow          BankConfig        `mapstructure:"escrow"`
}

type MpesaConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	ConsumerKey        string        `mapstructure:"consumer_key"`
	ConsumerSecret     string        `mapstructure:"consumer_secret"`
	ShortCode          string        `mapstructure:"short_code"`
	Passkey            string        `mapstructure:"passkey"`
	CallbackURL        string        `mapstructure:"callback_url"`
	Initiator          string        `mapstructure:"initiator"`
	SecurityCredential string        `mapstructure:"security_credential"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type StripeConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type BankConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Account string        `mapstructure:"account"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type InvestmentConfig struct {
	CoolingOff           time.Duration `mapstructure:"cooling_off"`
	CompletionMaxRetries int           `mapstructure:"completion_max_retries"`
	CompletionBackoff    time.Duration `mapstructure:"completion_backoff"`
}

type CapacityConfig struct {
	ReleaseOnRefund bool `mapstructure:"release_on_refund"`
}

type MarketplaceConfig struct {
	HoldingPeriodDays int           `mapstructure:"holding_period_days"`
	SellerFeeRate     string        `mapstructure:"seller_fee_rate"`
	ListingTTL        time.Duration `mapstructure:"listing_ttl"`
}

type PollerConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	BatchSize  int           `mapstructure:"batch_size"`
}

type CronConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CoolingOffSweep string `mapstructure:"cooling_off_sweep"`
	ListingExpiry   string `mapstructure:"listing_expiry"`
	PaymentPoll     string `mapstructure:"payment_poll"`
}

type NotifyConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.name", "fundflow")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.auth_disabled", false)
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

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.group_prefix", "fundflow")
	v.SetDefault("kafka.settlement_topic", "payments.settlement")
	v.SetDefault("kafka.investment_topic", "investments.events")
	v.SetDefault("kafka.market_topic", "marketplace.events")
	v.SetDefault("kafka.dead_letter_suffix", ".dlq")

	v.SetDefault("idempotency.prefix", "payment:callback:")
	v.SetDefault("idempotency.ttl", "24h")

	v.SetDefault("payments.default_currency", "KES")
	v.SetDefault("payments.methods", map[string]string{
		"MOBILE_MONEY":  "mpesa",
		"CARD":          "stripe",
		"BANK_TRANSFER": "bank",
		"ESCROW":        "escrow",
	})
	v.SetDefault("payments.mpesa.base_url", "https://sandbox.safaricom.co.ke")
	v.SetDefault("payments.mpesa.timeout", "20s")
	v.SetDefault("payments.stripe.timeout", "20s")
	v.SetDefault("payments.bank.timeout", "20s")
	v.SetDefault("payments.escrow.timeout", "20s")

	v.SetDefault("investment.cooling_off", "48h")
	v.SetDefault("investment.completion_max_retries", 5)
	v.SetDefault("investment.completion_backoff", "50ms")
	v.SetDefault("capacity.release_on_refund", false)

	v.SetDefault("marketplace.holding_period_days", 365)
	v.SetDefault("marketplace.seller_fee_rate", "0.02")
	v.SetDefault("marketplace.listing_ttl", "720h")

	v.SetDefault("poller.stale_after", "10m")
	v.SetDefault("poller.batch_size", 100)

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.cooling_off_sweep", "@every 1m")
	v.SetDefault("cron.listing_expiry", "@every 5m")
	v.SetDefault("cron.payment_poll", "@every 2m")

	v.SetDefault("notify.timeout", "5s")
}

// splitList accepts both YAML lists and a comma separated env value.
func splitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, raw := range items {
		for _, part := range strings.Split(raw, ",") {
			if val := strings.TrimSpace(part); val != "" {
				out = append(out, val)
			}
		}
	}
	return out
}
