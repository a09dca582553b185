package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/Deepreo/jobscheduler/errors"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Host     string   `mapstructure:"host"`
	Port     string   `mapstructure:"port"`
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Prefix   string   `mapstructure:"prefix"`
}

// Addresses returns Addrs when set, otherwise host:port.
func (c Config) Addresses() []string {
	if len(c.Addrs) > 0 {
		return c.Addrs
	}
	return []string{fmt.Sprintf("%s:%s", c.Host, c.Port)}
}

// Redis is a connected client plus the key prefix every key lives under.
type Redis struct {
	Client redis.UniversalClient
	Keys   Keyspace
}

// New connects to a single node, a cluster or a sentinel set depending on the
// addresses given.
func New(ctx context.Context, cfg *Config) (*Redis, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addresses(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.InfraError(errors.Wrap(err, "failed to ping redis"))
	}

	return NewWithClient(client, cfg.Prefix), nil
}

func NewWithClient(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{Client: client, Keys: Keyspace(prefix)}
}

func (c *Redis) Close() error {
	return c.Client.Close()
}

func (c *Redis) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// Keyspace builds prefixed keys. Parts are joined with ':'.
type Keyspace string

func (k Keyspace) Key(parts ...string) string {
	return string(k) + strings.Join(parts, ":")
}
