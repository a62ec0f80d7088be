package redisx

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/pkg/logger"
)

// privateDBKey maps hostnames to their assigned database in DB 0
const privateDBKey = "private_db"

// Client wraps redis.Client with connection logging and health checks
type Client struct {
	*redis.Client
	url    string
	logger *logger.Logger
}

// ClientOption configures NewClient
type ClientOption func(*clientOptions)

type clientOptions struct {
	usePrivateDB bool
	poolSize     int
	pingTimeout  time.Duration
}

// WithPrivate assigns this host its own database number so several
// developers can share one Redis instance
func WithPrivate() ClientOption {
	return func(opts *clientOptions) {
		opts.usePrivateDB = true
	}
}

// WithPoolSize overrides the pool size parsed from the URL
func WithPoolSize(n int) ClientOption {
	return func(opts *clientOptions) {
		opts.poolSize = n
	}
}

// NewClient creates a Redis client from a URL and verifies the connection
func NewClient(redisURL string, log *logger.Logger, opts ...ClientOption) (*Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	options := &clientOptions{pingTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(options)
	}

	finalURL := redisURL
	if options.usePrivateDB {
		var err error
		finalURL, err = PrivateUrl(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get private URL: %w", err)
		}
	}

	redisOptions, err := redis.ParseURL(finalURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if options.poolSize > 0 {
		redisOptions.PoolSize = options.poolSize
	}

	client := &Client{
		Client: redis.NewClient(redisOptions),
		url:    finalURL,
		logger: log.WithComponent("redisx"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), options.pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client.logger.Info("Redis client connected successfully",
		zap.String("addr", redisOptions.Addr),
		zap.Int("db", redisOptions.DB),
		zap.Int("pool_size", redisOptions.PoolSize),
		zap.Bool("private_db", options.usePrivateDB),
	)

	return client, nil
}

// URL returns the effective connection URL, including a private DB number
func (c *Client) URL() string {
	return c.url
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.Client.Close()
}

// HealthCheck pings Redis and logs the round trip
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := c.Ping(ctx).Err()
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Redis health check failed",
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		return err
	}

	c.logger.Debug("Redis health check passed", zap.Duration("duration", duration))
	return nil
}

// PrivateUrl rewrites redisURL to the database assigned to this host.
// Assignments live in DB 0 and are handed out with an atomic counter.
func PrivateUrl(redisURL string) (string, error) {
	if redisURL == "" {
		return "", fmt.Errorf("redis URL cannot be empty")
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	return privateUrlWithHostname(redisURL, hostname)
}

func privateUrlWithHostname(redisURL, hostname string) (string, error) {
	if redisURL == "" {
		return "", fmt.Errorf("redis URL cannot be empty")
	}
	if hostname == "" {
		return "", fmt.Errorf("hostname cannot be empty")
	}

	parsedURL, err := url.Parse(redisURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	db0URL := *parsedURL
	db0URL.Path = "/0"

	options, err := redis.ParseURL(db0URL.String())
	if err != nil {
		return "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(options)
	defer rdb.Close()

	ctx := context.Background()

	dbNumber, err := rdb.HGet(ctx, privateDBKey, hostname).Result()
	if err == redis.Nil {
		// DB 0 is reserved, so the counter starts handing out 1
		nextDB, err := rdb.HIncrBy(ctx, privateDBKey+":counter", "next", 1).Result()
		if err != nil {
			return "", fmt.Errorf("failed to get next DB number: %w", err)
		}

		if err := rdb.HSet(ctx, privateDBKey, hostname, nextDB).Err(); err != nil {
			return "", fmt.Errorf("failed to assign DB to hostname: %w", err)
		}

		dbNumber = strconv.FormatInt(nextDB, 10)
	} else if err != nil {
		return "", fmt.Errorf("failed to check existing DB assignment: %w", err)
	}

	newURL := *parsedURL
	newURL.Path = "/" + dbNumber

	return newURL.String(), nil
}
