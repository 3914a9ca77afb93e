package app

import "time"

// Chat backend selectors.
const (
	BackendPostgres  = "postgres"
	BackendCassandra = "cassandra"
	BackendMemory    = "memory"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// ChatBackend selects the message-storage model: postgres (normalized
	// relational), cassandra (denormalized wide-row), or memory.
	ChatBackend string

	CassandraHosts    []string
	CassandraKeyspace string

	JWTSecret string
	JWTTTL    time.Duration
	JWTIssuer string

	// If true, /readyz returns 503 unless the database is configured and
	// reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("COURIER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("COURIER_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("COURIER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("COURIER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("COURIER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("COURIER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COURIER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("COURIER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("COURIER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("COURIER_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("COURIER_DB_SCHEMA", "courier"),

		ChatBackend: EnvString("COURIER_CHAT_BACKEND", ""),

		CassandraHosts:    EnvStrings("COURIER_CASSANDRA_HOSTS", nil),
		CassandraKeyspace: EnvString("COURIER_CASSANDRA_KEYSPACE", "courier"),

		JWTSecret: EnvString("COURIER_JWT_SECRET", ""),
		JWTTTL:    EnvDuration("COURIER_JWT_TTL", 30*time.Minute),
		JWTIssuer: EnvString("COURIER_JWT_ISSUER", "courier"),

		ReadinessRequireDB: EnvBool("COURIER_READINESS_REQUIRE_DB", false),
	}
}

// EffectiveChatBackend resolves the backend selector: an explicit value wins,
// otherwise postgres when a database is configured, memory when not.
func (c Config) EffectiveChatBackend() string {
	switch c.ChatBackend {
	case BackendPostgres, BackendCassandra, BackendMemory:
		return c.ChatBackend
	}
	if c.DatabaseURL != "" {
		return BackendPostgres
	}
	return BackendMemory
}
