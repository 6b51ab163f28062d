// Package metrics writes node telemetry to InfluxDB. Points are written
// through the async write API so a slow or unreachable InfluxDB never blocks
// mining or block relay.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for node metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}, nil
}

// Close flushes pending writes and closes the client
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// WriteHashrateMetric records the local miner hashrate
func (c *Client) WriteHashrateMetric(hashrate float64) {
	p := write.NewPoint(
		"hashrate",
		map[string]string{
			"source": "local",
		},
		map[string]interface{}{
			"hashes_per_sec": hashrate,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(p)
}

// WriteBlockMetric records an accepted block
func (c *Client) WriteBlockMetric(height int64, hash string, difficulty uint8, txCount int, minedHere bool) {
	p := write.NewPoint(
		"block",
		map[string]string{
			"mined_here": strconv.FormatBool(minedHere),
		},
		map[string]interface{}{
			"height":     height,
			"hash":       hash,
			"difficulty": int64(difficulty),
			"tx_count":   txCount,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(p)
}

// WriteMempoolMetric records the mempool depth and pending fees
func (c *Client) WriteMempoolMetric(txCount int, totalFees uint64) {
	p := write.NewPoint(
		"mempool",
		map[string]string{},
		map[string]interface{}{
			"tx_count":   txCount,
			"total_fees": int64(totalFees),
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(p)
}
