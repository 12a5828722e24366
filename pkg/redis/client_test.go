package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/config"
	"github.com/redis/go-redis/v9"
)

func TestIsNilError(t *testing.T) {
	if !IsNilError(redis.Nil) {
		t.Error("redis.Nil not recognised")
	}
	if !IsNilError(fmt.Errorf("get: %w", ErrNil)) {
		t.Error("wrapped nil not recognised")
	}
	if IsNilError(errors.New("connection refused")) {
		t.Error("other errors are not nil errors")
	}
}

func TestNewClientUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(ctx, config.RedisConfig{Addr: "127.0.0.1:1", PoolSize: 1})
	if err == nil {
		t.Fatal("expected ping failure")
	}
}
