package redis

import (
	"context"
	"testing"
	"time"
)

func TestNewClientFromURLRequiresURL(t *testing.T) {
	if _, err := NewClientFromURL(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestNewClientFromURLRejectsBadScheme(t *testing.T) {
	if _, err := NewClientFromURL(context.Background(), "http://localhost:6379", Options{}); err == nil {
		t.Fatal("expected parse error for non-redis scheme")
	}
}

func TestFirstPositive(t *testing.T) {
	if got := firstPositive(0, -1, 3*time.Second, time.Second); got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
	if got := firstPositive(); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}

func TestPingerWithoutClient(t *testing.T) {
	if err := (Pinger{}).Ping(context.Background()); err == nil {
		t.Fatal("expected error without client")
	}
}
