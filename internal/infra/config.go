package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации площадки.
type Config struct {
	Console    ConsoleConfig    `mapstructure:"console"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Floor      FloorConfig      `mapstructure:"floor"`
	Decision   DecisionConfig   `mapstructure:"decision"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ConsoleConfig описывает настройки HTTP-сервера операторской консоли.
type ConsoleConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub, fallback чекпоинтов).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT для Console.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// FloorConfig — настройки супервизора и рантаймов агентов.
type FloorConfig struct {
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	CycleInterval      time.Duration `mapstructure:"cycle_interval"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`

	// Потолок авторестартов за СКОЛЬЗЯЩИЙ час. Одиннадцатый краш
	// в окне — эскалация оператору, авторестартов больше нет.
	MaxRestartsPerHour int           `mapstructure:"max_restarts_per_hour"`
	RestartBackoffSeed time.Duration `mapstructure:"restart_backoff_seed"`
	RestartBackoffCap  time.Duration `mapstructure:"restart_backoff_cap"`

	// Жесткий таймаут на graceful stop: не уложился — принудительный
	// cancel и оформление как краш.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	// Глубина истории чекпоинтов (форензика). Старше — прунится асинхронно.
	CheckpointRetention int `mapstructure:"checkpoint_retention"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DecisionConfig — пороги Floor Boss. Это ПОЛИТИКА, а не константы ядра:
// юнит-тесты параметризуются по ним, прошивать цифры в код нельзя.
type DecisionConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	TrialWindow       time.Duration `mapstructure:"trial_window"`
	PromoteThreshold  float64       `mapstructure:"promote_threshold"`
	CloneThreshold    float64       `mapstructure:"clone_threshold"`
	DemoteThreshold   float64       `mapstructure:"demote_threshold"`
	RetireThreshold   float64       `mapstructure:"retire_threshold"`
	HardDrawdownLimit float64       `mapstructure:"hard_drawdown_limit"`
	ThrottleFactor    float64       `mapstructure:"throttle_factor"`
	CloneCapitalShare float64       `mapstructure:"clone_capital_share"`

	// MinTrades — минимальная выборка сделок, ниже которой winRate
	// статистически не значим и снапшот пропускается.
	MinTrades int `mapstructure:"min_trades"`
}

// ResilienceConfig — настройки Circuit Breaker и ретраев для внешних зависимостей.
type ResilienceConfig struct {
	CBFailureThreshold uint32        `mapstructure:"cb_failure_threshold"`
	CBCooldown         time.Duration `mapstructure:"cb_cooldown"`
	RetryMaxAttempts   uint          `mapstructure:"retry_max_attempts"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	RateLimit          float64       `mapstructure:"rate_limit"`
	RateBurst          int           `mapstructure:"rate_burst"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: FLOOR_SWEEP_INTERVAL=10s перекроет floor.sweep_interval
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Валидация порогов. Битая конфигурация — фатальна на старте,
	// молчаливые дефолты для ПОЛИТИКИ запрещены.
	if err := cfg.Decision.Validate(); err != nil {
		return nil, err
	}

	// 7. Загрузка ключей из Файла ИЛИ из ENV
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

// Validate проверяет согласованность порогов принятия решений.
func (d DecisionConfig) Validate() error {
	for name, val := range map[string]float64{
		"promote_threshold": d.PromoteThreshold,
		"clone_threshold":   d.CloneThreshold,
		"demote_threshold":  d.DemoteThreshold,
		"retire_threshold":  d.RetireThreshold,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("decision.%s out of range [0,1]: %f", name, val)
		}
	}
	if d.ThrottleFactor <= 0 || d.ThrottleFactor >= 1 {
		return fmt.Errorf("decision.throttle_factor must be in (0,1): %f", d.ThrottleFactor)
	}
	if d.HardDrawdownLimit <= 0 {
		return fmt.Errorf("decision.hard_drawdown_limit must be positive: %f", d.HardDrawdownLimit)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("console.port", 8080)
	v.SetDefault("console.read_timeout", 5*time.Second)
	v.SetDefault("console.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("floor.heartbeat_interval", 30*time.Second)
	v.SetDefault("floor.checkpoint_interval", 1*time.Minute)
	v.SetDefault("floor.cycle_interval", 5*time.Second)
	v.SetDefault("floor.sweep_interval", 15*time.Second)
	v.SetDefault("floor.max_restarts_per_hour", 10)
	v.SetDefault("floor.restart_backoff_seed", 1*time.Second)
	v.SetDefault("floor.restart_backoff_cap", 16*time.Second)
	v.SetDefault("floor.stop_timeout", 30*time.Second)
	v.SetDefault("floor.checkpoint_retention", 20)
	v.SetDefault("floor.metrics_addr", ":9090")

	v.SetDefault("decision.interval", 1*time.Hour)
	v.SetDefault("decision.trial_window", 24*time.Hour)
	v.SetDefault("decision.promote_threshold", 0.45)
	v.SetDefault("decision.clone_threshold", 0.60)
	v.SetDefault("decision.demote_threshold", 0.35)
	v.SetDefault("decision.retire_threshold", 0.30)
	v.SetDefault("decision.hard_drawdown_limit", 0.25)
	v.SetDefault("decision.throttle_factor", 0.5)
	v.SetDefault("decision.clone_capital_share", 0.25)
	v.SetDefault("decision.min_trades", 20)

	v.SetDefault("resilience.cb_failure_threshold", 3)
	v.SetDefault("resilience.cb_cooldown", 30*time.Second)
	v.SetDefault("resilience.retry_max_attempts", 3)
	v.SetDefault("resilience.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("resilience.retry_max_delay", 30*time.Second)
	v.SetDefault("resilience.call_timeout", 10*time.Second)
	v.SetDefault("resilience.rate_limit", 100)
	v.SetDefault("resilience.rate_burst", 20)
}

// loadKeyResource — универсальный хелпер: ключ либо напрямую в ENV, либо файлом.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
