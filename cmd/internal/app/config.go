package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SocketSessionTTL bounds dormant socket session snapshots in Redis.
	SocketSessionTTL time.Duration

	// MessageTTL bounds stored chat messages; the janitor sweeps older ones.
	MessageTTL time.Duration

	// JanitorInterval is the period of the background sweep loop.
	JanitorInterval time.Duration

	MetricsEnabled bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true, /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool

	// If true, PARLEY_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and
	// refresh-token hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PARLEY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PARLEY_LOG_LEVEL", "info"),
		LogFormat: EnvString("PARLEY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PARLEY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PARLEY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PARLEY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PARLEY_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PARLEY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PARLEY_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PARLEY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PARLEY_DB_MIN_CONNS", 0),

		RedisAddr:     EnvString("PARLEY_REDIS_ADDR", ""),
		RedisPassword: EnvString("PARLEY_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("PARLEY_REDIS_DB", 0),

		SocketSessionTTL: EnvDuration("PARLEY_SOCKET_SESSION_TTL", 30*24*time.Hour),
		MessageTTL:       EnvDuration("PARLEY_MESSAGE_TTL", 30*24*time.Hour),
		JanitorInterval:  EnvDuration("PARLEY_JANITOR_INTERVAL", time.Hour),

		MetricsEnabled: EnvBool("PARLEY_METRICS_ENABLED", true),

		CORSAllowedOrigins:   EnvCSV("PARLEY_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("PARLEY_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("PARLEY_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("PARLEY_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("PARLEY_REQUIRE_TOKEN_HMAC", false),
	}
}
