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
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Empty RedisAddr keeps presence in process memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Empty NATSURL disables cross-process fan-out.
	NATSURL           string
	NATSSubjectPrefix string
	NodeID            string

	TaskWorkers int
	TaskQueue   int
	TaskTimeout time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("MESSENGER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("MESSENGER_LOG_LEVEL", "info"),
		LogFormat: EnvString("MESSENGER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MESSENGER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MESSENGER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MESSENGER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("MESSENGER_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("MESSENGER_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("MESSENGER_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("MESSENGER_DATABASE_URL", ""),
		DBSchema:    EnvString("MESSENGER_DB_SCHEMA", "public"),
		DBMaxConns:  EnvInt32("MESSENGER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("MESSENGER_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("MESSENGER_READINESS_REQUIRE_DB", false),

		RedisAddr:     EnvString("MESSENGER_REDIS_ADDR", ""),
		RedisPassword: EnvString("MESSENGER_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("MESSENGER_REDIS_DB", 0),

		NATSURL:           EnvString("MESSENGER_NATS_URL", ""),
		NATSSubjectPrefix: EnvString("MESSENGER_NATS_SUBJECT_PREFIX", "messenger"),
		NodeID:            EnvString("MESSENGER_NODE_ID", ""),

		TaskWorkers: EnvInt("MESSENGER_TASK_WORKERS", 4),
		TaskQueue:   EnvInt("MESSENGER_TASK_QUEUE", 256),
		TaskTimeout: EnvDuration("MESSENGER_TASK_TIMEOUT", 30*time.Second),

		CORSAllowedOrigins:   EnvCSV("MESSENGER_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("MESSENGER_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("MESSENGER_CORS_MAX_AGE_SECONDS", 600),
	}
}
