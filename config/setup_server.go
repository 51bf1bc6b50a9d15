package config

import (
	"errors"
	"fmt"
	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	TokenStorePostgres = "postgres"
	TokenStoreRedis    = "redis"
	TokenStoreMemory   = "memory"

	defaultIssuer       = "auth-gateway"
	defaultAudience     = "auth-gateway-users"
	defaultStoreTimeout = 3 * time.Second
)

var (
	ErrMissingSecret     = errors.New("jwt.secret_key не задан")
	ErrInvalidAccessTTL  = errors.New("jwt.access_token_ttl_minutes должен быть положительным целым")
	ErrUnknownTokenStore = errors.New("неизвестное хранилище refresh-токенов")
	// ErrInvalidTrustedProxy : адрес в rateLimit.trusted_proxies не разобран
	ErrInvalidTrustedProxy = errors.New("rateLimit.trusted_proxies: неверный адрес")
)

type AppConfig struct {
	DatabaseConfig DatabaseConfig  `yaml:"databaseConfig"`
	RedisConfig    RedisConfig     `yaml:"redisConfig"`
	ServerAddr     string          `yaml:"serverAddr"`
	JWT            JWTConfig       `yaml:"jwt"`
	Session        SessionConfig   `yaml:"session"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Audit          AuditConfig     `yaml:"audit"`
}

// LoadConfig читает yaml, накладывает переменные окружения и валидирует результат.
// Ошибка валидации фатальна для старта сервиса
func LoadConfig(path string) (*AppConfig, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseConfig(file)
}

func ParseConfig(data []byte) (*AppConfig, error) {
	cfg := AppConfig{
		Session: SessionConfig{
			TokenStore:                TokenStorePostgres,
			RevokeAllOnReuse:          true,
			RevokeAllOnPasswordChange: true,
		},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) applyEnv() {
	if v := os.Getenv("AUTH_JWT_SECRET"); v != "" {
		c.JWT.SecretKey = v
	}
	if v := os.Getenv("AUTH_DATABASE_DSN"); v != "" {
		c.DatabaseConfig.DSN = v
	}
	if v := os.Getenv("AUTH_REDIS_PASSWORD"); v != "" {
		c.RedisConfig.Password = v
	}
}

func (c *AppConfig) applyDefaults() {
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		c.JWT.Issuer = defaultIssuer
	}
	if strings.TrimSpace(c.JWT.Audience) == "" {
		c.JWT.Audience = defaultAudience
	}
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.RedisConfig.Prefix == "" {
		c.RedisConfig.Prefix = "refresh"
	}
	c.Session.TokenStore = strings.ToLower(strings.TrimSpace(c.Session.TokenStore))
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.JWT.SecretKey) == "" {
		return ErrMissingSecret
	}
	if c.JWT.AccessTokenTTLMinutes <= 0 {
		return ErrInvalidAccessTTL
	}

	switch c.Session.TokenStore {
	case TokenStorePostgres, TokenStoreRedis, TokenStoreMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTokenStore, c.Session.TokenStore)
	}

	if _, err := c.RateLimit.TrustedProxyNets(); err != nil {
		return err
	}

	if c.Session.StoreTimeout != "" {
		if _, err := time.ParseDuration(c.Session.StoreTimeout); err != nil {
			return fmt.Errorf("session.store_timeout: %w", err)
		}
	}

	return nil
}

// AccessTokenTTL : время жизни access-токена
func (c *JWTConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// TrustedProxyNets разбирает rateLimit.trusted_proxies. Допускаются CIDR и одиночные адреса
func (c *RateLimitConfig) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidTrustedProxy, raw)
			}
			bits := 8 * net.IPv4len
			if ip.To4() == nil {
				bits = 8 * net.IPv6len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTrustedProxy, raw)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// StoreCallTimeout : таймаут одного обращения к хранилищу токенов
func (c *SessionConfig) StoreCallTimeout() time.Duration {
	if c.StoreTimeout == "" {
		return defaultStoreTimeout
	}
	d, err := time.ParseDuration(c.StoreTimeout)
	if err != nil || d <= 0 {
		return defaultStoreTimeout
	}
	return d
}

func SetupServer(serverAddress string) (*http.Server, *chi.Mux) {
	router := chi.NewRouter()
	server := &http.Server{
		Addr:              serverAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server, router
}

func SetupDatabase(dsn string) (*Database, error) {
	return NewDatabaseConnection("postgres", dsn)
}

func SetupRedis(cfg *RedisConfig) (*RedisClient, error) {
	return NewRedisClient(cfg)
}
