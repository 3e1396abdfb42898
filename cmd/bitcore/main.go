// Package main is the entry point for the bitcore chain state service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/JoKacar/bitcore/business/chainstate"
	chainstateApp "github.com/JoKacar/bitcore/business/chainstate/app"
	chainstateDI "github.com/JoKacar/bitcore/business/chainstate/di"
	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/apm"
	"github.com/JoKacar/bitcore/internal/config"
	"github.com/JoKacar/bitcore/internal/health"
	"github.com/JoKacar/bitcore/internal/logger"
	"github.com/JoKacar/bitcore/internal/metrics"
	"github.com/JoKacar/bitcore/internal/monolith"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const usage = `usage: bitcore [flags] <command> [args]

commands:
  serve                       run as a long-lived service (default)
  fee <chain> <network>       estimate feerate (-target adjusts urgency)
  blocks <chain> <network>    list blocks (-block, -date, -since, -limit, -sort)
  tx <chain> <network> <txid> fetch one transaction
  stream <chain> <network>    stream block transactions as JSON lines
  address <chain> <network> <address>   stream address history (-token filters)
  wallet <chain> <network> <walletID>   stream wallet history
  balance <chain> <network> <walletID> <RFC3339 time>  balance at a point in time
`

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Parse flags
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	blockID := flag.String("block", "", "Block hash or decimal height")
	date := flag.String("date", "", "Single day to select blocks from (YYYY-MM-DD)")
	startDate := flag.String("start-date", "", "Range start day (YYYY-MM-DD)")
	endDate := flag.String("end-date", "", "Range end day (YYYY-MM-DD)")
	since := flag.String("since", "", "Height cursor")
	limit := flag.Uint64("limit", 0, "Maximum blocks to return")
	sortOrder := flag.String("sort", "", "Sort order: asc or desc")
	target := flag.Int("target", 1, "Fee estimation target in blocks (1-4)")
	token := flag.String("token", "", "Token contract address to filter transfers")
	flag.Parse()

	if *showVersion {
		fmt.Printf("bitcore %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		cancel()
	}()

	sel, err := buildSelector(*blockID, *date, *startDate, *endDate, *since, *limit, *sortOrder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	opts := cliOptions{
		selector: sel,
		target:   *target,
		token:    *token,
	}

	if err := run(ctx, *configPath, flag.Args(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	selector domain.BlockSelector
	target   int
	token    string
}

func buildSelector(blockID, date, startDate, endDate, since string, limit uint64, sortOrder string) (domain.BlockSelector, error) {
	sel := domain.BlockSelector{
		BlockID: blockID,
		Limit:   limit,
		Sort:    domain.SortOrder(sortOrder),
	}

	parseDay := func(s string) (time.Time, error) {
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse("2006-01-02", s)
	}

	var err error
	if sel.Date, err = parseDay(date); err != nil {
		return sel, fmt.Errorf("invalid -date: %w", err)
	}
	if sel.StartDate, err = parseDay(startDate); err != nil {
		return sel, fmt.Errorf("invalid -start-date: %w", err)
	}
	if sel.EndDate, err = parseDay(endDate); err != nil {
		return sel, fmt.Errorf("invalid -end-date: %w", err)
	}
	if since != "" {
		cursor, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			return sel, fmt.Errorf("invalid -since: %w", err)
		}
		sel.Since = &cursor
	}

	return sel, nil
}

func run(ctx context.Context, configPath string, args []string, opts cliOptions) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	command := "serve"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	serveMode := command == "serve"

	// Setup logger
	logLevel := logger.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		logLevel = logger.LevelDebug
	case "warn":
		logLevel = logger.LevelWarn
	case "error":
		logLevel = logger.LevelError
	}
	log := logger.New(os.Stderr, logLevel, cfg.App.Name, nil)

	if serveMode {
		log.Info(ctx, "starting bitcore chain state service",
			"version", version,
			"environment", cfg.App.Environment,
		)
	}

	// Initialize observability if enabled
	var traceProvider apm.TraceProvider
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.ServiceName != "" {
			os.Setenv("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
		}
		if cfg.Telemetry.OTLPEndpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
		}

		traceProvider = apm.NewTraceProvider(log, apm.WithProvider(apm.ZipkinProvider, log))
		log.Info(ctx, "tracing initialized", "provider", "zipkin", "endpoint", cfg.Telemetry.OTLPEndpoint)

		metrics.NewMetricProvider(
			metrics.WithServiceName(cfg.Telemetry.ServiceName),
			metrics.WithProviderConfig(metrics.ProviderCfg{
				Provider: metrics.PrometheusProvider,
			}),
		)

		port := cfg.Telemetry.PrometheusPort
		if port == 0 {
			port = 9090
		}
		go metrics.ServePrometheusMetrics(metrics.WithPort(strconv.Itoa(port)))
		log.Info(ctx, "prometheus metrics server started", "port", port)
	}
	defer func() {
		if traceProvider != nil {
			traceProvider.Stop()
		}
	}()

	// Health side server only makes sense for the long-lived mode
	var healthServer *health.Server
	if serveMode {
		healthPort := cfg.App.HealthPort
		if healthPort == 0 {
			healthPort = 8081
		}
		healthServer = health.NewServer(healthPort, version)
		if err := healthServer.Start(); err != nil {
			log.Warn(ctx, "failed to start health server", "error", err)
		} else {
			log.Info(ctx, "health server started", "port", healthPort)
		}
		defer healthServer.Stop(ctx)
	}

	// Create monolith (application container)
	mono, err := monolith.New(cfg, log, healthServer)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	modules := []monolith.Module{
		&chainstate.Module{},
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}
	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	svc := chainstateDI.GetChainStateService(mono.Services())
	defer svc.Pool().Shutdown()

	if serveMode {
		<-ctx.Done()
		log.Info(context.Background(), "shutting down")
		return nil
	}

	return dispatch(ctx, svc, command, args, opts)
}

func dispatch(ctx context.Context, svc *chainstateApp.Service, command string, args []string, opts cliOptions) error {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: missing arguments\n\n%s", command, usage)
		}
		return nil
	}

	switch command {
	case "fee":
		if err := need(2); err != nil {
			return err
		}
		estimate, err := svc.GetFee(ctx, args[0], args[1], opts.target)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"feerate_wei":  estimate.Feerate.String(),
			"feerate_gwei": estimate.FeerateGwei().String(),
			"blocks":       estimate.Blocks,
		})

	case "blocks":
		if err := need(2); err != nil {
			return err
		}
		blocks, err := svc.GetBlocks(ctx, args[0], args[1], opts.selector)
		if err != nil {
			return err
		}
		return printJSON(blocks)

	case "tx":
		if err := need(3); err != nil {
			return err
		}
		tx, err := svc.GetTransaction(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if tx == nil {
			return fmt.Errorf("transaction %s not found", args[2])
		}
		return printJSON(tx)

	case "stream":
		if err := need(2); err != nil {
			return err
		}
		return svc.StreamTransactions(ctx, args[0], args[1], opts.selector, os.Stdout)

	case "address":
		if err := need(3); err != nil {
			return err
		}
		return svc.StreamAddressTransactions(ctx, args[0], args[1], args[2], opts.token, os.Stdout)

	case "wallet":
		if err := need(3); err != nil {
			return err
		}
		return svc.StreamWalletTransactions(ctx, args[0], args[1], args[2], os.Stdout)

	case "balance":
		if err := need(4); err != nil {
			return err
		}
		at, err := time.Parse(time.RFC3339, args[3])
		if err != nil {
			return fmt.Errorf("invalid time %q: %w", args[3], err)
		}
		balance, err := svc.GetWalletBalanceAtTime(ctx, args[0], args[1], args[2], at)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"confirmed":   balance.Confirmed.String(),
			"unconfirmed": balance.Unconfirmed.String(),
			"balance":     balance.Balance.String(),
			"ether":       balance.Ether().String(),
		})

	default:
		return fmt.Errorf("unknown command %q\n\n%s", command, usage)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
