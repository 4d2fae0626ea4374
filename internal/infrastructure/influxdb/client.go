package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// Batching defaults. Refreshes happen at most every few seconds, so a
	// small batch with a periodic flush keeps points timely.
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client writes capture directory metrics to one InfluxDB bucket.
//
// Writes never block the caller: points are batched by the non-blocking
// write API and failures arrive asynchronously. Each failure is counted,
// wrapped in ErrWriteFailed and passed to the SetOnError callback.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	org      string
	bucket   string

	connected   atomic.Bool
	writeErrors atomic.Int64

	mu      sync.RWMutex
	onError func(err error)
}

// Stats is a snapshot of the client for the metrics endpoint.
type Stats struct {
	Connected   bool   `json:"connected"`
	Bucket      string `json:"bucket"`
	WriteErrors int64  `json:"write_errors"`
}

// Connect pings the server and opens the non-blocking write API for the
// configured org and bucket.
//
// Returns ErrDisabled when InfluxDB is disabled, ErrInvalidConfig when the
// URL, org or bucket is missing, and ErrConnectionFailed when the server is
// unreachable or unhealthy.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: url, org and bucket are required", ErrInvalidConfig)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flush := time.Duration(cfg.FlushInterval) * time.Second
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flush/time.Millisecond)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s: server not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		org:      cfg.Org,
		bucket:   cfg.Bucket,
	}
	c.connected.Store(true)

	go c.handleWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// handleWriteErrors counts and reports async write failures until the
// write API closes the channel.
func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.writeErrors.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(fmt.Errorf("%w: bucket %s: %w", ErrWriteFailed, c.bucket, err))
		}
	}
}

// Close flushes pending points and closes the client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if !c.connected.Swap(false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client accepts writes. It is false only
// before Connect and after Close; an unreachable server shows up as write
// errors instead.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns connection state and the number of failed batch writes.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:   c.IsConnected(),
		Bucket:      c.bucket,
		WriteErrors: c.writeErrors.Load(),
	}
}

// SetOnError sets the callback for async write failures. Errors passed to
// it wrap ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush sends buffered points now and blocks until they are written.
// It is a no-op on a closed client.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
