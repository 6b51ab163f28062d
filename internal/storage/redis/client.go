// Package redis provides Redis caching for the shitcoin node.
// It keeps the latest chain tip, rolling hashrate samples and counters that
// sidecar services read without touching the node itself.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the node
type Client struct {
	rdb *redis.Client
}

// Counter keys written by the node and read back for run summaries
// and by sidecar services.
const (
	CounterBlocksAccepted = "counter:blocks_accepted"
	CounterTxsAccepted    = "counter:txs_accepted"
)

// ChainTip is the cached view of the current best block
type ChainTip struct {
	BlockHash  string `json:"block_hash"`
	Height     int64  `json:"height"`
	Difficulty uint8  `json:"difficulty"`
	Timestamp  uint64 `json:"timestamp"`
	TxCount    int    `json:"tx_count"`
}

// NewClientFromURL creates a client from a redis:// connection URL
func NewClientFromURL(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Chain tip

// SetChainTip stores the current best block
func (c *Client) SetChainTip(ctx context.Context, tip *ChainTip) error {
	jsonData, err := json.Marshal(tip)
	if err != nil {
		return fmt.Errorf("failed to marshal chain tip: %w", err)
	}

	if err := c.rdb.Set(ctx, "chain:tip", jsonData, 0).Err(); err != nil {
		return fmt.Errorf("failed to set chain tip: %w", err)
	}

	return nil
}

// GetChainTip retrieves the current best block
func (c *Client) GetChainTip(ctx context.Context) (*ChainTip, error) {
	jsonData, err := c.rdb.Get(ctx, "chain:tip").Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("no chain tip cached")
		}
		return nil, fmt.Errorf("failed to get chain tip: %w", err)
	}

	tip := &ChainTip{}
	if err := json.Unmarshal([]byte(jsonData), tip); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain tip: %w", err)
	}

	return tip, nil
}

// Statistics and counters

// IncrementCounter increments a counter with expiration
func (c *Client) IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}

// SetHashrate stores a local hashrate sample
func (c *Client) SetHashrate(ctx context.Context, hashrate float64, window time.Duration) error {
	key := "hashrate:local"
	timestamp := time.Now().Unix()

	// Store as sorted set with timestamp as score
	member := &redis.Z{
		Score:  float64(timestamp),
		Member: hashrate,
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, *member)
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", timestamp-int64(window.Seconds())))
	pipe.Expire(ctx, key, window*2) // Keep data a bit longer than window
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set hashrate: %w", err)
	}

	return nil
}

// GetAverageHashrate calculates average hashrate over a time window
func (c *Client) GetAverageHashrate(ctx context.Context, window time.Duration) (float64, error) {
	key := "hashrate:local"
	minScore := time.Now().Add(-window).Unix()

	// Get all hashrate values in the time window
	values, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", minScore),
		Max: "+inf",
	}).Result()

	if err != nil {
		return 0, fmt.Errorf("failed to get hashrate values: %w", err)
	}

	if len(values) == 0 {
		return 0, nil
	}

	// Calculate average
	var total float64
	for _, val := range values {
		if hashrate, err := strconv.ParseFloat(val, 64); err == nil {
			total += hashrate
		}
	}

	return total / float64(len(values)), nil
}
