package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/athebyme/gomarket-platform/marketplace-service/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/mapping"
	"github.com/athebyme/gomarket-platform/marketplace-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/marketplace-service/pkg/auth"
	"github.com/spf13/viper"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		RequestTimeout  time.Duration
		RateLimit       float64 // запросов в секунду на весь API; 0 - без ограничения
		RateBurst       int
	}

	Postgres struct {
		Host        string
		Port        int
		User        string
		Password    string
		DBName      string
		SSLMode     string
		Timeout     time.Duration
		PoolSize    int  // размер пула соединений
		ViaBouncer  bool // соединение идет через pgbouncer
		AutoMigrate bool // создавать схему при старте
	}

	Redis struct {
		Host         string
		Port         int
		Password     string
		DB           int
		Prefix       string
		PoolSize     int           // размер пула соединений
		MinIdleConns int           // минимальное количество неактивных соединений
		MaxRetries   int           // максимальное количество повторных попыток
		DialTimeout  time.Duration // таймаут соединения
		ReadTimeout  time.Duration // таймаут чтения
		WriteTimeout time.Duration // таймаут записи
	}

	Kafka struct {
		Enabled           bool
		Brokers           []string
		GroupID           string
		ClientID          string
		Partitions        int
		ReplicationFactor int
	}

	Metrics struct {
		Enabled  bool
		Endpoint string
		Port     int // порт /metrics воркера
	}

	Security struct {
		CORSAllowOrigins []string
		ReadRoles        []string // роли, которым доступны диагностические запросы
		WriteRoles       []string // роли, которым доступны сборка, отказ и сброс кэша
	}

	Resilience struct {
		MaxRetries    int           // максимальное число повторов вызова маркетплейса
		RetryWaitTime time.Duration // базовая пауза между повторами
	}

	Keycloak KeycloakConfig

	Marketplace struct {
		BaseURL           string
		APIKey            string
		ClientID          string
		ClientSecret      string
		TokenURL          string
		RequestsPerSecond float64
		Burst             int
		Timeout           time.Duration
		Locale            string
		SchemaVersion     string
		SubmitConcurrency int
		SubmitClaimTTL    time.Duration // резерв пакета под отправку
	}

	Specs struct {
		BaseURL           string // пусто - тот же адрес, что и у маркетплейса
		SharedTTL         time.Duration
		RequestsPerSecond float64
		Timeout           time.Duration
	}

	Feed struct {
		ChunkSize           int
		MaxPayloadBytes     int
		LeadTimeDays        int
		MapConcurrency      int
		PublishableStatuses []string
		RulesPath           string
	}

	Images struct {
		PrimaryPlaceholder    string
		SecondaryPlaceholders []string
		MinSecondaryImages    int
	}

	Polling struct {
		Interval    time.Duration
		Timeout     time.Duration
		PageSize    int
		MaxAttempts int
		Concurrency int
		BatchLimit  int
		LockTTL     time.Duration
	}
}

// KeycloakConfig представляет конфигурацию Keycloak
type KeycloakConfig struct {
	Enabled   bool
	ServerURL string
	Realm     string
	ClientID  string
}

// GetKeycloakConfig возвращает конфигурацию для auth.KeycloakClient
func (k KeycloakConfig) GetKeycloakConfig() auth.KeycloakConfig {
	return auth.KeycloakConfig{
		ServerURL: k.ServerURL,
		Realm:     k.Realm,
		ClientID:  k.ClientID,
	}
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if strings.ContainsRune(configFile, '/') || strings.HasSuffix(configFile, ".yaml") || strings.HasSuffix(configFile, ".yml") {
		// явный путь к файлу
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configFile)
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// файла нет: работаем на умолчаниях и переменных окружения
	}

	setDefaults(v)
	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, без которых выгрузка работать не может
func (c *Config) Validate() error {
	var errs []error
	if c.Feed.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("feed.chunkSize must be positive, got %d", c.Feed.ChunkSize))
	}
	if c.Feed.MaxPayloadBytes < 0 {
		errs = append(errs, fmt.Errorf("feed.maxPayloadBytes must not be negative, got %d", c.Feed.MaxPayloadBytes))
	}
	if c.Polling.PageSize < 1 {
		errs = append(errs, fmt.Errorf("polling.pageSize must be positive, got %d", c.Polling.PageSize))
	}
	if c.Polling.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("polling.maxAttempts must be positive, got %d", c.Polling.MaxAttempts))
	}
	if c.Images.MinSecondaryImages < 0 {
		errs = append(errs, fmt.Errorf("images.minSecondaryImages must not be negative, got %d", c.Images.MinSecondaryImages))
	}
	if c.Keycloak.Enabled && (c.Keycloak.ServerURL == "" || c.Keycloak.Realm == "") {
		errs = append(errs, errors.New("keycloak.serverURL and keycloak.realm are required when keycloak is enabled"))
	}
	return errors.Join(errs...)
}

// IsProduction сообщает, запущен ли сервис в боевом окружении
func (c *Config) IsProduction() bool {
	return c.ENV == "production"
}

// MappingConfig возвращает настройки движка сопоставления
func (c *Config) MappingConfig() mapping.Config {
	return mapping.Config{
		PrimaryPlaceholder:    c.Images.PrimaryPlaceholder,
		SecondaryPlaceholders: c.Images.SecondaryPlaceholders,
		MinSecondaryImages:    c.Images.MinSecondaryImages,
	}
}

// BuilderConfig возвращает настройки сборки пакетов
func (c *Config) BuilderConfig() services.BuilderConfig {
	return services.BuilderConfig{
		ChunkSize:           c.Feed.ChunkSize,
		MaxPayloadBytes:     c.Feed.MaxPayloadBytes,
		LeadTimeDays:        c.Feed.LeadTimeDays,
		MapConcurrency:      c.Feed.MapConcurrency,
		PublishableStatuses: c.Feed.PublishableStatuses,
		Locale:              c.Marketplace.Locale,
		SchemaVersion:       c.Marketplace.SchemaVersion,
	}
}

// SubmitConfig возвращает настройки отправки
func (c *Config) SubmitConfig() services.SubmitConfig {
	return services.SubmitConfig{
		MaxRetries:  c.Resilience.MaxRetries,
		RetryWait:   c.Resilience.RetryWaitTime,
		Timeout:     c.Marketplace.Timeout,
		Concurrency: c.Marketplace.SubmitConcurrency,
		ClaimTTL:    c.Marketplace.SubmitClaimTTL,
	}
}

// PollingConfig возвращает настройки опроса статусов
func (c *Config) PollingConfig() services.PollingConfig {
	return services.PollingConfig{
		Timeout:     c.Polling.Timeout,
		PageSize:    c.Polling.PageSize,
		MaxAttempts: c.Polling.MaxAttempts,
		Concurrency: c.Polling.Concurrency,
		BatchLimit:  c.Polling.BatchLimit,
		LockTTL:     c.Polling.LockTTL,
		MaxRetries:  c.Resilience.MaxRetries,
		RetryWait:   c.Resilience.RetryWaitTime,
	}
}

// SpecProviderConfig возвращает настройки кэша спецификаций
func (c *Config) SpecProviderConfig() services.SpecProviderConfig {
	return services.SpecProviderConfig{SharedTTL: c.Specs.SharedTTL}
}

// MarketplaceClientConfig возвращает параметры HTTP-клиента маркетплейса
func (c *Config) MarketplaceClientConfig() marketplace.Config {
	return marketplace.Config{
		BaseURL:           c.Marketplace.BaseURL,
		APIKey:            c.Marketplace.APIKey,
		ClientID:          c.Marketplace.ClientID,
		ClientSecret:      c.Marketplace.ClientSecret,
		TokenURL:          c.Marketplace.TokenURL,
		RequestsPerSecond: c.Marketplace.RequestsPerSecond,
		Burst:             c.Marketplace.Burst,
		Timeout:           c.Marketplace.Timeout,
		UserAgent:         c.AppName + "/" + c.Version,
	}
}

// SpecClientConfig возвращает параметры клиента справочника спецификаций
func (c *Config) SpecClientConfig() marketplace.Config {
	cfg := c.MarketplaceClientConfig()
	if c.Specs.BaseURL != "" {
		cfg.BaseURL = c.Specs.BaseURL
	}
	cfg.RequestsPerSecond = c.Specs.RequestsPerSecond
	if c.Specs.Timeout > 0 {
		cfg.Timeout = c.Specs.Timeout
	}
	return cfg
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Основные настройки
	v.SetDefault("appName", "marketplace-feed")
	v.SetDefault("version", "1.0.0")
	v.SetDefault("logLevel", "info")
	v.SetDefault("env", "development")

	// Настройки сервера
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "60s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.requestTimeout", "55s")
	v.SetDefault("server.rateLimit", 50)
	v.SetDefault("server.rateBurst", 100)

	// Настройки Postgres
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.dbname", "postgres")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timeout", "5s")
	v.SetDefault("postgres.poolSize", 10)
	v.SetDefault("postgres.viaBouncer", false)
	v.SetDefault("postgres.autoMigrate", true)

	// Настройки Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "marketplace")
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.maxRetries", 3)
	v.SetDefault("redis.dialTimeout", "3s")
	v.SetDefault("redis.readTimeout", "1s")
	v.SetDefault("redis.writeTimeout", "1s")

	// Настройки Kafka
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.groupID", "marketplace-feed-worker")
	v.SetDefault("kafka.clientID", "marketplace-feed")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replicationFactor", 1)

	// Настройки метрик
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Настройки безопасности
	v.SetDefault("security.corsAllowOrigins", []string{"*"})
	v.SetDefault("security.readRoles", []string{"feed:read", "feed:write"})
	v.SetDefault("security.writeRoles", []string{"feed:write"})

	// Настройки отказоустойчивости
	v.SetDefault("resilience.maxRetries", 3)
	v.SetDefault("resilience.retryWaitTime", "500ms")

	// Keycloak
	v.SetDefault("keycloak.enabled", false)
	v.SetDefault("keycloak.clientID", "marketplace-feed")

	// Маркетплейс
	v.SetDefault("marketplace.baseURL", "http://localhost:8090")
	v.SetDefault("marketplace.requestsPerSecond", 5)
	v.SetDefault("marketplace.burst", 5)
	v.SetDefault("marketplace.timeout", "30s")
	v.SetDefault("marketplace.locale", "en_US")
	v.SetDefault("marketplace.schemaVersion", "2.0")
	v.SetDefault("marketplace.submitConcurrency", 4)
	v.SetDefault("marketplace.submitClaimTTL", "10m")

	// Справочник спецификаций
	v.SetDefault("specs.sharedTTL", "24h")
	v.SetDefault("specs.requestsPerSecond", 2)
	v.SetDefault("specs.timeout", "15s")

	// Сборка пакетов
	v.SetDefault("feed.chunkSize", 25)
	v.SetDefault("feed.maxPayloadBytes", 0)
	v.SetDefault("feed.leadTimeDays", 2)
	v.SetDefault("feed.mapConcurrency", 8)
	v.SetDefault("feed.publishableStatuses", []string{"publish"})
	v.SetDefault("feed.rulesPath", "config/rules.yaml")

	// Изображения
	v.SetDefault("images.primaryPlaceholder", "")
	v.SetDefault("images.secondaryPlaceholders", []string{})
	v.SetDefault("images.minSecondaryImages", 5)

	// Опрос статусов
	v.SetDefault("polling.interval", "1m")
	v.SetDefault("polling.timeout", "30s")
	v.SetDefault("polling.pageSize", 50)
	v.SetDefault("polling.maxAttempts", 20)
	v.SetDefault("polling.concurrency", 4)
	v.SetDefault("polling.batchLimit", 100)
	v.SetDefault("polling.lockTTL", "2m")
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables(v *viper.Viper) {
	// Основные настройки
	_ = v.BindEnv("appName", "APP_NAME")
	_ = v.BindEnv("version", "APP_VERSION")
	_ = v.BindEnv("logLevel", "LOG_LEVEL")
	_ = v.BindEnv("env", "APP_ENV")

	// Настройки сервера
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("server.port", "SERVER_PORT")

	// Настройки Postgres
	_ = v.BindEnv("postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	_ = v.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	_ = v.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")
	_ = v.BindEnv("postgres.viaBouncer", "POSTGRES_VIA_BOUNCER")

	// Настройки Redis
	_ = v.BindEnv("redis.host", "REDIS_HOST")
	_ = v.BindEnv("redis.port", "REDIS_PORT")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")

	// Настройки Kafka
	_ = v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	_ = v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	_ = v.BindEnv("kafka.groupID", "KAFKA_GROUP_ID")

	// Keycloak
	_ = v.BindEnv("keycloak.enabled", "KEYCLOAK_ENABLED")
	_ = v.BindEnv("keycloak.serverURL", "KEYCLOAK_SERVER_URL")
	_ = v.BindEnv("keycloak.realm", "KEYCLOAK_REALM")
	_ = v.BindEnv("keycloak.clientID", "KEYCLOAK_CLIENT_ID")

	// Маркетплейс
	_ = v.BindEnv("marketplace.baseURL", "MARKETPLACE_BASE_URL")
	_ = v.BindEnv("marketplace.apiKey", "MARKETPLACE_API_KEY")
	_ = v.BindEnv("marketplace.clientID", "MARKETPLACE_CLIENT_ID")
	_ = v.BindEnv("marketplace.clientSecret", "MARKETPLACE_CLIENT_SECRET")
	_ = v.BindEnv("marketplace.tokenURL", "MARKETPLACE_TOKEN_URL")
	_ = v.BindEnv("specs.baseURL", "SPECS_BASE_URL")

	// Сборка и опрос
	_ = v.BindEnv("feed.chunkSize", "FEED_CHUNK_SIZE")
	_ = v.BindEnv("feed.maxPayloadBytes", "FEED_MAX_PAYLOAD_BYTES")
	_ = v.BindEnv("feed.rulesPath", "FEED_RULES_PATH")
	_ = v.BindEnv("polling.interval", "POLLING_INTERVAL")
	_ = v.BindEnv("polling.maxAttempts", "POLLING_MAX_ATTEMPTS")
}
