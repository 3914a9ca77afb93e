package app

import (
	"testing"
	"time"
)

func TestEffectiveChatBackend(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "explicit postgres", cfg: Config{ChatBackend: "postgres"}, want: BackendPostgres},
		{name: "explicit cassandra", cfg: Config{ChatBackend: "cassandra"}, want: BackendCassandra},
		{name: "explicit memory with db url", cfg: Config{ChatBackend: "memory", DatabaseURL: "postgres://x"}, want: BackendMemory},
		{name: "unset with db url", cfg: Config{DatabaseURL: "postgres://x"}, want: BackendPostgres},
		{name: "unset without db url", cfg: Config{}, want: BackendMemory},
		{name: "invalid falls back", cfg: Config{ChatBackend: "dynamo"}, want: BackendMemory},
		{name: "invalid falls back to postgres", cfg: Config{ChatBackend: "dynamo", DatabaseURL: "postgres://x"}, want: BackendPostgres},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.cfg.EffectiveChatBackend(); got != tc.want {
				t.Fatalf("EffectiveChatBackend()=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("COURIER_TEST_STRING", "  hello  ")
	t.Setenv("COURIER_TEST_BOOL", "true")
	t.Setenv("COURIER_TEST_BOOL_BAD", "not-a-bool")
	t.Setenv("COURIER_TEST_INT", "42")
	t.Setenv("COURIER_TEST_INT_NEG", "-3")
	t.Setenv("COURIER_TEST_DUR", "90s")
	t.Setenv("COURIER_TEST_DUR_BAD", "soon")
	t.Setenv("COURIER_TEST_LIST", "a, b ,,c")
	t.Setenv("COURIER_TEST_LIST_EMPTY", " , ,")

	if got := EnvString("COURIER_TEST_STRING", "def"); got != "hello" {
		t.Fatalf("EnvString=%q want=%q", got, "hello")
	}
	if got := EnvString("COURIER_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString default=%q want=%q", got, "def")
	}
	if !EnvBool("COURIER_TEST_BOOL", false) {
		t.Fatal("EnvBool: want true")
	}
	if EnvBool("COURIER_TEST_BOOL_BAD", false) {
		t.Fatal("EnvBool: malformed value must keep default")
	}
	if got := EnvInt("COURIER_TEST_INT", 7); got != 42 {
		t.Fatalf("EnvInt=%d want=42", got)
	}
	if got := EnvInt("COURIER_TEST_INT_NEG", 7); got != 7 {
		t.Fatalf("EnvInt negative=%d want default 7", got)
	}
	if got := EnvInt32("COURIER_TEST_INT", 7); got != 42 {
		t.Fatalf("EnvInt32=%d want=42", got)
	}
	if got := EnvDuration("COURIER_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration=%v want=90s", got)
	}
	if got := EnvDuration("COURIER_TEST_DUR_BAD", time.Second); got != time.Second {
		t.Fatalf("EnvDuration malformed=%v want default 1s", got)
	}

	list := EnvStrings("COURIER_TEST_LIST", nil)
	if len(list) != 3 || list[0] != "a" || list[1] != "b" || list[2] != "c" {
		t.Fatalf("EnvStrings=%v want=[a b c]", list)
	}
	def := []string{"127.0.0.1"}
	if got := EnvStrings("COURIER_TEST_LIST_EMPTY", def); len(got) != 1 || got[0] != "127.0.0.1" {
		t.Fatalf("EnvStrings all-blank=%v want default %v", got, def)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	// Clear the variables LoadConfig reads so defaults are observable even
	// when the host environment sets them.
	for _, key := range []string{
		"COURIER_HTTP_ADDR", "COURIER_LOG_LEVEL", "COURIER_DATABASE_URL",
		"COURIER_DB_SCHEMA", "COURIER_CHAT_BACKEND", "COURIER_JWT_TTL",
		"COURIER_JWT_ISSUER", "COURIER_READINESS_REQUIRE_DB",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel=%q", cfg.LogLevel)
	}
	if cfg.DBSchema != "courier" {
		t.Fatalf("DBSchema=%q", cfg.DBSchema)
	}
	if cfg.JWTTTL != 30*time.Minute {
		t.Fatalf("JWTTTL=%v", cfg.JWTTTL)
	}
	if cfg.JWTIssuer != "courier" {
		t.Fatalf("JWTIssuer=%q", cfg.JWTIssuer)
	}
	if cfg.ReadinessRequireDB {
		t.Fatal("ReadinessRequireDB: want false by default")
	}
	if got := cfg.EffectiveChatBackend(); got != BackendMemory {
		t.Fatalf("EffectiveChatBackend()=%q want=%q", got, BackendMemory)
	}
}
