package config

type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// JWTConfig : параметры подписи access-токенов.
// SecretKey и AccessTokenTTLMinutes обязательны, без них сервис не стартует
type JWTConfig struct {
	SecretKey             string `yaml:"secret_key"`
	Issuer                string `yaml:"issuer"`
	Audience              string `yaml:"audience"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
}

// SessionConfig : политика жизненного цикла refresh-токенов
type SessionConfig struct {
	// TokenStore : postgres | redis | memory
	TokenStore string `yaml:"token_store"`
	// RevokeAllOnReuse : повторное предъявление уже ротированного токена отзывает все сессии пользователя
	RevokeAllOnReuse bool `yaml:"revoke_all_on_reuse"`
	// RevokeAllOnPasswordChange : смена пароля отзывает все refresh-токены пользователя
	RevokeAllOnPasswordChange bool   `yaml:"revoke_all_on_password_change"`
	StoreTimeout              string `yaml:"store_timeout"`
}

// RateLimitConfig : лимит запросов login/refresh-token на IP клиента.
// X-Forwarded-For учитывается только если запрос пришёл с адреса из TrustedProxies
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	PerSecond      int      `yaml:"per_second"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Local    bool   `yaml:"local"`
	Prefix   string `yaml:"prefix"`
}

// AuditConfig : куда складывать события безопасности. По умолчанию только в лог
type AuditConfig struct {
	S3Enabled bool     `yaml:"s3_enabled"`
	S3        S3Config `yaml:"s3"`
}
