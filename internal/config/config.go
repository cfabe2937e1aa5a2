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
	Auth   AuthConfig   `mapstructure:"auth"`
	Cache  CacheConfig  `mapstructure:"cache"`

	Browser    BrowserConfig    `mapstructure:"browser"`
	Site       SiteConfig       `mapstructure:"site"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Automation AutomationConfig `mapstructure:"automation"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

type AppConfig struct {
	Env    string `mapstructure:"env"`
	UserID string `mapstructure:"user_id"`
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

	// File adds a log file next to stdout; the desktop shell tails it.
	File string `mapstructure:"file"`
}

type DBConfig struct {
	// Driver is "postgres" (hosted database) or "sqlite" (local desktop file).
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	DailyReset        string `mapstructure:"daily_reset"`
	StalePendingSweep string `mapstructure:"stale_pending_sweep"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	SeenTTL       time.Duration `mapstructure:"seen_ttl"`
}

type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless"`
	RemoteURL      string        `mapstructure:"remote_url"`
	ExecPath       string        `mapstructure:"exec_path"`
	UserAgent      string        `mapstructure:"user_agent"`
	WindowWidth    int           `mapstructure:"window_width"`
	WindowHeight   int           `mapstructure:"window_height"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	ActionTimeout  time.Duration `mapstructure:"action_timeout"`
	Retries        int           `mapstructure:"retries"`
	ScreenshotDir  string        `mapstructure:"screenshot_dir"`
}

type SiteConfig struct {
	BetURLMarker     string            `mapstructure:"bet_url_marker"`
	PageLoadTimeout  time.Duration     `mapstructure:"page_load_timeout"`
	LoginFormTimeout time.Duration     `mapstructure:"login_form_timeout"`
	LoginTimeout     time.Duration     `mapstructure:"login_timeout"`
	BetFormTimeout   time.Duration     `mapstructure:"bet_form_timeout"`
	ConfirmTimeout   time.Duration     `mapstructure:"confirm_timeout"`
	Selectors        map[string]string `mapstructure:"selectors"`
}

type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	LongPollSecs   int           `mapstructure:"long_poll_secs"`
	UpdateLimit    int           `mapstructure:"update_limit"`
	ActionKeywords []string      `mapstructure:"action_keywords"`
}

type AutomationConfig struct {
	PollInterval      time.Duration     `mapstructure:"poll_interval"`
	ReconcileInterval time.Duration     `mapstructure:"reconcile_interval"`
	FetchLimit        int               `mapstructure:"fetch_limit"`
	MaxSignalAge      time.Duration     `mapstructure:"max_signal_age"`
	ResultPollBase    time.Duration     `mapstructure:"result_poll_base"`
	ResultPollMax     time.Duration     `mapstructure:"result_poll_max"`
	MaxPendingAge     time.Duration     `mapstructure:"max_pending_age"`
	LockTTL           time.Duration     `mapstructure:"lock_ttl"`
	Timezone          string            `mapstructure:"timezone"`
	PayoutMultipliers map[string]string `mapstructure:"payout_multipliers"`
	AutoStart         bool              `mapstructure:"auto_start"`
}

type NotifyConfig struct {
	TelegramChatID int64    `mapstructure:"telegram_chat_id"`
	Events         []string `mapstructure:"events"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.user_id", "default")
	v.SetDefault("server.http_addr", "127.0.0.1:8787")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.file", "")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "signalbet.db")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.daily_reset", "0 0 0 * * *")
	v.SetDefault("cron.stale_pending_sweep", "@every 10m")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.seen_ttl", "48h")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.default_timeout", "30s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.retries", 2)
	v.SetDefault("browser.screenshot_dir", "")

	v.SetDefault("site.bet_url_marker", "futebol-studio-ao-vivo")
	v.SetDefault("site.page_load_timeout", "30s")
	v.SetDefault("site.login_form_timeout", "10s")
	v.SetDefault("site.login_timeout", "15s")
	v.SetDefault("site.bet_form_timeout", "5s")
	v.SetDefault("site.confirm_timeout", "10s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.poll_interval", "5s")
	v.SetDefault("telegram.long_poll_secs", 0)
	v.SetDefault("telegram.update_limit", 100)
	v.SetDefault("telegram.action_keywords", []string{"Entrada:", "Aposta:", "Sinal:", "Oportunidade:"})

	v.SetDefault("automation.poll_interval", "30s")
	v.SetDefault("automation.reconcile_interval", "5s")
	v.SetDefault("automation.fetch_limit", 50)
	v.SetDefault("automation.max_signal_age", "10m")
	v.SetDefault("automation.result_poll_base", "5s")
	v.SetDefault("automation.result_poll_max", "1m")
	v.SetDefault("automation.max_pending_age", "30m")
	v.SetDefault("automation.lock_ttl", "2m")
	v.SetDefault("automation.timezone", "America/Sao_Paulo")
	v.SetDefault("automation.payout_multipliers", map[string]string{"home": "2", "away": "2", "draw": "12"})
	v.SetDefault("automation.auto_start", false)

	v.SetDefault("notify.telegram_chat_id", 0)
	v.SetDefault("notify.events", []string{"bet_placed", "bet_resolved", "automation_fault"})

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
