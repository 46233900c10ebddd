package config

import (
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so defaults apply.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "READ_TIMEOUT", "READ_HEADER_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT",
		"MAX_HEADER_BYTES", "GIN_MODE", "LOG_LEVEL", "LOG_PRETTY", "SWAGGER_ENABLED",
		"API_BASE_PATH", "DB_PATH", "MEDIA_APP_ID", "MEDIA_APP_SECRET", "MEDIA_TOKEN_TTL",
		"REDIS_ADDR", "PUSH_ENDPOINT", "PUSH_SERVER_KEY", "RATE_RPS", "RATE_BURST",
		"CORS_ALLOWED_ORIGINS", "ENABLE_HSTS", "HSTS_MAX_AGE",
		"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
		"OTEL_SERVICE_NAME", "OTEL_TRACES_SAMPLER_ARG",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.GinMode != "release" || cfg.LogLevel != "info" {
		t.Fatalf("server defaults mismatch: %+v", cfg)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.DBPath != "app.db" {
		t.Fatalf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Media.TokenTTL != time.Hour {
		t.Fatalf("Media.TokenTTL = %v", cfg.Media.TokenTTL)
	}
	if cfg.Media.AppID != "" || cfg.Realtime.RedisAddr != "" || cfg.Push.Endpoint != "" {
		t.Fatalf("external adapters must default to unconfigured: %+v", cfg)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate defaults mismatch: rps=%v burst=%d", cfg.RateRPS, cfg.RateBurst)
	}
	if cfg.OTEL.Enabled || cfg.OTEL.SampleRatio != 1.0 {
		t.Fatalf("otel defaults mismatch: %+v", cfg.OTEL)
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("GIN_MODE", "DEBUG")
	t.Setenv("LOG_LEVEL", "warning") // normalized to warn
	t.Setenv("MEDIA_APP_ID", "app1")
	t.Setenv("MEDIA_APP_SECRET", "s3cret")
	t.Setenv("MEDIA_TOKEN_TTL", "45m")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("API_BASE_PATH", "api/v2/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.GinMode != "debug" || cfg.LogLevel != "warn" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Media.AppID != "app1" || cfg.Media.TokenTTL != 45*time.Minute {
		t.Fatalf("media config mismatch: %+v", cfg.Media)
	}
	if cfg.Realtime.RedisAddr != "redis:6379" {
		t.Fatalf("redis addr = %q", cfg.Realtime.RedisAddr)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("CSV parse mismatch: %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.APIBasePath != "/api/v2" {
		t.Fatalf("base path not normalized: %q", cfg.APIBasePath)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"LOG_LEVEL", "verbose"},
		{"MAX_HEADER_BYTES", "-1"},
		{"READ_TIMEOUT", "-5s"},
		{"MEDIA_TOKEN_TTL", "-1h"},
		{"RATE_RPS", "-1"},
		{"RATE_BURST", "0"},
		{"OTEL_TRACES_SAMPLER_ARG", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s: expected validation error", tc.key, tc.value)
			}
		})
	}
}

func TestLoad_BadGinModeFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("GIN_MODE", "turbo")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GinMode = %q, want release", cfg.GinMode)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":         "/",
		"/":        "/",
		"api":      "/api",
		"/api/":    "/api",
		"/api/v1/": "/api/v1",
		" /api ":   "/api",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestGetBool(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "YES": true, "on": true,
		"0": false, "false": false, "no": false, "off": false,
	}
	for v, want := range cases {
		t.Setenv("TEST_BOOL", v)
		if got := getbool("TEST_BOOL", !want); got != want {
			t.Errorf("getbool(%q) = %v; want %v", v, got, want)
		}
	}
	t.Setenv("TEST_BOOL", "maybe")
	if got := getbool("TEST_BOOL", true); got != true {
		t.Errorf("unparseable value must keep the default")
	}
}

func TestMustLoad_PanicsOnInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	MustLoad()
}
