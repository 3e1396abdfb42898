// Package moralis implements the external data API contract against a
// Moralis-compatible HTTP API, with an optional WebSocket streaming path.
package moralis

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoKacar/bitcore/business/chainstate/app"
	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/cache"
	"github.com/JoKacar/bitcore/internal/config"
	"github.com/JoKacar/bitcore/internal/httpclient"
	"github.com/JoKacar/bitcore/internal/logger"
	"github.com/JoKacar/bitcore/internal/ratelimit"
)

const (
	tracerName = "github.com/JoKacar/bitcore/business/chainstate/infra/moralis"
	meterName  = "github.com/JoKacar/bitcore/business/chainstate/infra/moralis"

	defaultPageSize       = 100
	defaultRequestTimeout = 15 * time.Second

	// Heights resolved from dates and hashes are immutable once final, but a
	// short TTL keeps the cache honest near the tip.
	lookupCacheTTL   = 10 * time.Minute
	cacheSweepPeriod = time.Minute
)

var _ app.DataAPI = (*Client)(nil)

type clientMetrics struct {
	lookups     metric.Int64Counter
	cacheHits   metric.Int64Counter
	streamsOpen metric.Int64Counter
}

// Client talks to the upstream data API. All block height lookups are
// cached; streams are rate limited at page granularity.
type Client struct {
	http     httpclient.Client
	limiter  *ratelimit.Limiter
	cfg      config.ExternalAPIConfig
	pageSize int
	logger   logger.LoggerInterface

	dateHeights *cache.Cache[string, uint64]
	hashHeights *cache.Cache[string, uint64]

	tracer  trace.Tracer
	metrics *clientMetrics
}

// NewClient builds a Client from the external API configuration.
func NewClient(cfg config.ExternalAPIConfig, log logger.LoggerInterface) (*Client, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	httpClient, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("moralis"),
		httpclient.WithBaseURL(cfg.BaseURL),
		httpclient.WithRequestTimeout(timeout),
		httpclient.WithHeaders(map[string]string{
			"X-API-Key": cfg.APIKey,
			"Accept":    "application/json",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 1500
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	c := &Client{
		http:        httpClient,
		limiter:     ratelimit.New(rpm),
		cfg:         cfg,
		pageSize:    pageSize,
		logger:      log,
		dateHeights: cache.New[string, uint64](cacheSweepPeriod),
		hashHeights: cache.New[string, uint64](cacheSweepPeriod),
		tracer:      otel.Tracer(tracerName),
	}

	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return c, nil
}

func (c *Client) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &clientMetrics{}

	c.metrics.lookups, err = meter.Int64Counter(
		"dataapi_lookups_total",
		metric.WithDescription("Total data API lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	c.metrics.cacheHits, err = meter.Int64Counter(
		"dataapi_cache_hits_total",
		metric.WithDescription("Lookups served from the local cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	c.metrics.streamsOpen, err = meter.Int64Counter(
		"dataapi_streams_opened_total",
		metric.WithDescription("Per-address transaction streams opened"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Close stops the lookup caches.
func (c *Client) Close() {
	c.dateHeights.Close()
	c.hashHeights.Close()
}

// chainParam renders the numeric chain id the way the upstream expects it.
func chainParam(chainID uint64) string {
	return fmt.Sprintf("0x%x", chainID)
}

// get performs one rate limited GET, decoding the body into result.
func (c *Client) get(ctx context.Context, path string, params map[string]string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.NewRequest().
		SetQueryParams(params).
		SetResult(result).
		Get(ctx, path)
	if err != nil {
		return apperror.New(apperror.CodeUpstreamData,
			apperror.WithCause(err),
			apperror.WithContext(path))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return apperror.New(apperror.CodeUpstreamRateLimit, apperror.WithContext(path))
	}
	if resp.IsError() {
		return apperror.New(apperror.CodeUpstreamData,
			apperror.WithContext(fmt.Sprintf("%s: status %d: %s", path, resp.StatusCode, resp.String())))
	}
	return nil
}

// BlockHeightByDate resolves the first block at or after t.
func (c *Client) BlockHeightByDate(ctx context.Context, chainID uint64, t time.Time) (uint64, error) {
	ctx, span := c.tracer.Start(ctx, "dataapi.block_by_date",
		trace.WithAttributes(attribute.String("date", t.UTC().Format(time.RFC3339))),
	)
	defer span.End()

	c.metrics.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("lookup", "date")))

	key := fmt.Sprintf("%d/%d", chainID, t.UTC().Unix())
	if height, ok := c.dateHeights.Get(ctx, key); ok {
		c.metrics.cacheHits.Add(ctx, 1)
		return height, nil
	}

	var out struct {
		Block uint64 `json:"block"`
	}
	err := c.get(ctx, "/dateToBlock", map[string]string{
		"chain": chainParam(chainID),
		"date":  t.UTC().Format(time.RFC3339),
	}, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return 0, apperror.New(apperror.CodeDateLookupFailed, apperror.WithCause(err))
	}

	c.dateHeights.Set(ctx, key, out.Block, lookupCacheTTL)
	span.SetAttributes(attribute.Int64("height", int64(out.Block)))
	span.SetStatus(codes.Ok, "resolved")
	return out.Block, nil
}

// BlockHeightByHash resolves a block hash to its height.
func (c *Client) BlockHeightByHash(ctx context.Context, chainID uint64, hash string) (uint64, error) {
	ctx, span := c.tracer.Start(ctx, "dataapi.block_by_hash",
		trace.WithAttributes(attribute.String("hash", hash)),
	)
	defer span.End()

	c.metrics.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("lookup", "hash")))

	key := fmt.Sprintf("%d/%s", chainID, hash)
	if height, ok := c.hashHeights.Get(ctx, key); ok {
		c.metrics.cacheHits.Add(ctx, 1)
		return height, nil
	}

	var out struct {
		Number stringUint64 `json:"number"`
	}
	err := c.get(ctx, "/block/"+hash, map[string]string{
		"chain": chainParam(chainID),
	}, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return 0, err
	}

	height := uint64(out.Number)
	c.hashHeights.Set(ctx, key, height, lookupCacheTTL)
	span.SetAttributes(attribute.Int64("height", int64(height)))
	span.SetStatus(codes.Ok, "resolved")
	return height, nil
}

// NativeBalanceAtBlock returns an address balance as of a block height.
func (c *Client) NativeBalanceAtBlock(ctx context.Context, chainID uint64, address string, height uint64) (*big.Int, error) {
	ctx, span := c.tracer.Start(ctx, "dataapi.native_balance",
		trace.WithAttributes(
			attribute.String("address", address),
			attribute.Int64("height", int64(height)),
		),
	)
	defer span.End()

	c.metrics.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("lookup", "balance")))

	var out struct {
		Balance string `json:"balance"`
	}
	err := c.get(ctx, "/"+address+"/balance", map[string]string{
		"chain":    chainParam(chainID),
		"to_block": fmt.Sprintf("%d", height),
	}, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return nil, apperror.New(apperror.CodeBalanceLookup, apperror.WithCause(err))
	}

	balance, ok := new(big.Int).SetString(out.Balance, 10)
	if !ok {
		return nil, apperror.New(apperror.CodeUpstreamData,
			apperror.WithContext(fmt.Sprintf("balance %q is not a decimal integer", out.Balance)))
	}

	span.SetStatus(codes.Ok, "resolved")
	return balance, nil
}

// OpenAddressTxStream opens a stream of native transactions for one address.
// A WebSocket endpoint is preferred when configured; otherwise the stream is
// driven by cursor paging over HTTP.
func (c *Client) OpenAddressTxStream(ctx context.Context, chainID uint64, address string, opts app.StreamOptions) (app.TxStream, error) {
	c.metrics.streamsOpen.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "native")))

	if c.cfg.StreamWSURL != "" {
		return c.openWSStream(ctx, chainID, address, "", opts)
	}
	return c.openHTTPStream(ctx, "/"+address, chainID, nil, opts), nil
}

// OpenTokenTransferStream opens a stream of ERC-20 transfers touching one
// address, optionally restricted to a single token contract.
func (c *Client) OpenTokenTransferStream(ctx context.Context, chainID uint64, address, tokenAddress string, opts app.StreamOptions) (app.TxStream, error) {
	c.metrics.streamsOpen.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "token")))

	if c.cfg.StreamWSURL != "" {
		return c.openWSStream(ctx, chainID, address, tokenAddress, opts)
	}

	var extra map[string]string
	if tokenAddress != "" {
		extra = map[string]string{"contract_addresses[0]": tokenAddress}
	}
	return c.openHTTPStream(ctx, "/"+address+"/erc20/transfers", chainID, extra, opts), nil
}

// stringUint64 decodes JSON numbers that arrive as decimal strings.
type stringUint64 uint64

func (s *stringUint64) UnmarshalJSON(data []byte) error {
	text := string(data)
	if len(text) >= 2 && text[0] == '"' {
		text = text[1 : len(text)-1]
	}
	if text == "" || text == "null" {
		*s = 0
		return nil
	}
	v, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return fmt.Errorf("%q is not a decimal integer", text)
	}
	*s = stringUint64(v.Uint64())
	return nil
}
