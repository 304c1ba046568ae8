package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Бэкенды хранилища счётчиков.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Бэкенды аудита.
const (
	AuditNone     = "none"
	AuditJSONL    = "jsonl"
	AuditPostgres = "postgres"
)

// Config — корневая структура конфигурации сервиса политик.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // запросов в секунду, 0 — без ограничения
	RateBurst       int           `mapstructure:"rate_burst"`
}

// Addr — адрес для net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig: JWT RS256 и/или статический токен, хранящийся только как bcrypt-хэш.
// Если не задано ни то ни другое, проверка выключена.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для policyctl token
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	TokenHash      string        `mapstructure:"token_hash"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// Enabled — настроен ли хоть один способ аутентификации.
func (a AuthConfig) Enabled() bool {
	return len(a.PublicKey) > 0 || a.TokenHash != ""
}

// PolicyConfig — откуда брать политику и реестр токенов.
type PolicyConfig struct {
	Path               string        `mapstructure:"path"`
	TokensRegistryPath string        `mapstructure:"tokens_registry_path"`
	Watch              bool          `mapstructure:"watch"`
	WatchDebounce      time.Duration `mapstructure:"watch_debounce"`
}

// StoreConfig выбирает бэкенд счётчиков.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"` // memory, file, redis, postgres
	FilePath  string `mapstructure:"file_path"`
	KeyPrefix string `mapstructure:"key_prefix"` // для redis
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (счётчики и Pub/Sub паузы).
type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PauseChannel string `mapstructure:"pause_channel"` // пусто — слушатель не запускается
}

// AuditConfig — журнал решений.
type AuditConfig struct {
	Backend       string        `mapstructure:"backend"` // none, jsonl, postgres
	Path          string        `mapstructure:"path"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// Настройки Circuit Breaker для sink
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// configFile — явный путь (флаг --config); пусто — поиск config.yaml.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")    // имя файла без расширения
		v.SetConfigType("yaml")      // формат
		v.AddConfigPath(".")         // ищем в корне
		v.AddConfigPath("./configs") // и в папке с конфигами
	}

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключей из Файла ИЛИ из ENV
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность секций между собой.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StoreFile:
		if c.Store.FilePath == "" {
			return errors.New("config: store.file_path is required for file backend")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return errors.New("config: redis.addr is required for redis backend")
		}
	case StorePostgres:
		if c.Database.URL == "" {
			return errors.New("config: database.url is required for postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}

	switch c.Audit.Backend {
	case AuditNone:
	case AuditJSONL:
		if c.Audit.Path == "" {
			return errors.New("config: audit.path is required for jsonl audit")
		}
	case AuditPostgres:
		if c.Database.URL == "" {
			return errors.New("config: database.url is required for postgres audit")
		}
	default:
		return fmt.Errorf("config: unknown audit.backend %q", c.Audit.Backend)
	}

	if c.Redis.PauseChannel != "" && c.Redis.Addr == "" {
		return errors.New("config: redis.addr is required for the pause channel")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 50)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("policy.path", "policy.json")
	v.SetDefault("policy.watch_debounce", 500*time.Millisecond)
	v.SetDefault("store.backend", StoreFile)
	v.SetDefault("store.file_path", "state/counters.json")
	v.SetDefault("store.key_prefix", RedisKeyCounters)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("audit.backend", AuditJSONL)
	v.SetDefault("audit.path", "logs/decisions.jsonl")
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)
	v.SetDefault("audit.cb_max_failures", 5)
	v.SetDefault("audit.cb_timeout", 30*time.Second)
	v.SetDefault("audit.write_timeout", 5*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — PEM из ENV имеет приоритет над файлом
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
