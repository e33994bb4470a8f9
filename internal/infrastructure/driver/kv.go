package driver

import (
	"context"
	"time"
)

// KeyValueDB define a key-value storage interface
type KeyValueDB interface {
	SetEX(ctx context.Context, key string, value string, expiration time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Publish(ctx context.Context, channel string, message string) error
	// Subscribe delivers messages published on channel until the returned close func is called
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error)
	Ping(ctx context.Context) error
}
