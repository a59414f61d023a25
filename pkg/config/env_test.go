package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("FOO", "")
	if got := GetEnv("FOO", "bar"); got != "bar" {
		t.Fatalf("expected bar, got %s", got)
	}
	t.Setenv("FOO", "baz")
	if got := GetEnv("FOO", "bar"); got != "baz" {
		t.Fatalf("expected baz, got %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("NUM", "")
	if got := GetEnvInt("NUM", 42); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("NUM", "100")
	if got := GetEnvInt("NUM", 42); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	t.Setenv("NUM", "notint")
	if got := GetEnvInt("NUM", 7); got != 7 {
		t.Fatalf("expected 7 on parse error, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FLAG", "")
	if got := GetEnvBool("FLAG", true); got != true {
		t.Fatalf("expected true default, got %v", got)
	}
	t.Setenv("FLAG", "false")
	if got := GetEnvBool("FLAG", true); got != false {
		t.Fatalf("expected false, got %v", got)
	}
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if GetLogLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level")
	}
	t.Setenv("LOG_LEVEL", "warn")
	if GetLogLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn level")
	}
	t.Setenv("LOG_LEVEL", "error")
	if GetLogLevel() != logrus.ErrorLevel {
		t.Fatalf("expected error level")
	}
	t.Setenv("LOG_LEVEL", "")
	if GetLogLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level by default")
	}
}

func TestGetEnvTrimsWhitespace(t *testing.T) {
	t.Setenv("FOO", "   ")
	if got := GetEnv("FOO", "bar"); got != "bar" {
		t.Fatalf("expected blank value to fall back, got %q", got)
	}
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("BYTES", "")
	if got := GetEnvInt64("BYTES", 1<<20); got != 1<<20 {
		t.Fatalf("expected default, got %d", got)
	}
	t.Setenv("BYTES", "4096")
	if got := GetEnvInt64("BYTES", 1<<20); got != 4096 {
		t.Fatalf("expected 4096, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TIMEOUT", "")
	if got := GetEnvDuration("TIMEOUT", time.Second); got != time.Second {
		t.Fatalf("expected default, got %s", got)
	}
	t.Setenv("TIMEOUT", "250ms")
	if got := GetEnvDuration("TIMEOUT", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	t.Setenv("TIMEOUT", "12")
	if got := GetEnvDuration("TIMEOUT", time.Second); got != 12*time.Second {
		t.Fatalf("expected bare integer as seconds, got %s", got)
	}
	t.Setenv("TIMEOUT", "soon")
	if got := GetEnvDuration("TIMEOUT", time.Second); got != time.Second {
		t.Fatalf("expected default on parse error, got %s", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "Development")
	if !IsDevelopment() {
		t.Fatalf("expected development profile")
	}
	t.Setenv("APP_ENV", "production")
	if IsDevelopment() {
		t.Fatalf("expected non-development profile")
	}
}

func TestProjectPath(t *testing.T) {
	t.Setenv("PROJECT_PATH", "/srv/shelf/")
	if got := ProjectPath(); got != "/srv/shelf" {
		t.Fatalf("expected cleaned project path, got %q", got)
	}
	t.Setenv("PROJECT_PATH", "")
	if got := ProjectPath(); got == "" {
		t.Fatalf("expected working directory fallback")
	}
}

func TestLoadEnv_NoFile(t *testing.T) {
	// Should not panic or error; just log debug
	logger := logrus.New()
	LoadEnv(logger)
}
