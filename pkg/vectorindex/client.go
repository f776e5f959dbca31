// Package vectorindex is a typed facade over a vector-search-capable
// Redis instance (RediSearch), exposing the single KNN operation the
// Scoring Kernel needs.
package vectorindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riskstream/risk-worker/pkg/config"
	"github.com/riskstream/risk-worker/pkg/logging"
	"github.com/riskstream/risk-worker/pkg/metrics"
	"github.com/riskstream/risk-worker/pkg/model"
)

// softTimeout bounds a single KNN query; on expiry the client falls back
// to an empty result rather than letting a slow index stall a batch.
const softTimeout = 2 * time.Second

// knnQuery is the RediSearch query template: a single KNN clause ranked
// by vector distance, aliased to similarity_score.
const knnQuery = "*=>[KNN %d @embedding $BLOB AS similarity_score]"

// Client wraps a pooled Redis connection and the name of the configured
// RediSearch index.
type Client struct {
	rdb     *redis.Client
	index   string
	log     *logging.Logger
	metrics *metrics.Metrics
}

// New builds a connection-pooled client. Pool size follows the spec's
// recommended 8-32 connection ceiling.
func New(cfg config.IndexConfig, log *logging.Logger, m *metrics.Metrics) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmtAddr(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		Protocol:     2, // parseSearchReply expects the RESP2 reply shape
		PoolSize:     32,
		MinIdleConns: 8,
	})
	return &Client{rdb: rdb, index: cfg.IndexName, log: log, metrics: m}
}

// Ping verifies connectivity during startup.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases pooled connections.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// KNN returns up to k neighbours ordered by ascending distance. Any
// error — connection loss, timeout, malformed response — is logged and
// swallowed; the kernel treats an empty result as "no neighbours".
func (c *Client) KNN(ctx context.Context, embedding model.Embedding, k int) []model.Neighbour {
	ctx, cancel := context.WithTimeout(ctx, softTimeout)
	defer cancel()

	start := time.Now()
	blob := encodeFloat32Blob(embedding)

	args := []interface{}{
		"FT.SEARCH", c.index, fmtKNN(k),
		"PARAMS", 2, "BLOB", blob,
		"SORTBY", "similarity_score",
		"LIMIT", 0, k,
		"DIALECT", 2,
	}

	res, err := c.rdb.Do(ctx, args...).Result()
	c.metrics.KNNLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Warn("knn query failed, returning empty neighbour list", "error", err.Error())
		c.metrics.KNNEmpty.Inc()
		return nil
	}

	neighbours := parseSearchReply(res, k, c.log)
	if len(neighbours) == 0 {
		c.metrics.KNNEmpty.Inc()
	}
	return neighbours
}

func fmtKNN(k int) string {
	return fmt.Sprintf(knnQuery, k)
}

// encodeFloat32Blob packs embedding as little-endian float32s, the
// binary layout RediSearch's vector fields expect.
func encodeFloat32Blob(embedding model.Embedding) []byte {
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	return buf
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
