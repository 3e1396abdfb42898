// Package chainstate implements the chain state bounded context: peer
// access, block and transaction queries, fee estimation, and per-address
// transaction streaming.
package chainstate

import (
	"context"
	"fmt"
	"time"

	"github.com/JoKacar/bitcore/business/chainstate/app"
	chainstateDI "github.com/JoKacar/bitcore/business/chainstate/di"
	"github.com/JoKacar/bitcore/business/chainstate/infra/ethereum"
	"github.com/JoKacar/bitcore/business/chainstate/infra/moralis"
	"github.com/JoKacar/bitcore/business/chainstate/infra/registry"
	"github.com/JoKacar/bitcore/internal/config"
	"github.com/JoKacar/bitcore/internal/di"
	"github.com/JoKacar/bitcore/internal/logger"
	"github.com/JoKacar/bitcore/internal/monolith"
)

// Module implements the chainstate bounded context.
type Module struct{}

// RegisterServices registers all chainstate services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register peer dialer (private - internal dependency)
	di.RegisterToken(c, chainstateDI.PeerDialer, func(sr di.ServiceRegistry) app.Dialer {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		return ethereum.NewDialer(cfg, log)
	})

	// Register peer pool (private - internal dependency)
	di.RegisterToken(c, chainstateDI.PeerPool, func(sr di.ServiceRegistry) *app.Pool {
		log := sr.Get("logger").(logger.LoggerInterface)
		dialer := chainstateDI.GetPeerDialer(sr)
		pool, err := app.NewPool(dialer, log)
		if err != nil {
			panic("failed to create peer pool: " + err.Error())
		}
		return pool
	})

	// Register external data API client (private - internal dependency)
	di.RegisterToken(c, chainstateDI.DataAPI, func(sr di.ServiceRegistry) app.DataAPI {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		client, err := moralis.NewClient(cfg.External, log)
		if err != nil {
			panic("failed to create data API client: " + err.Error())
		}
		return client
	})

	// Register wallet directory (private - internal dependency)
	di.RegisterToken(c, chainstateDI.WalletDirectory, func(sr di.ServiceRegistry) app.WalletDirectory {
		cfg := sr.Get("config").(*config.Config)
		return registry.NewWalletDirectory(cfg.Wallets)
	})

	// Register chain lookup (private - internal dependency)
	di.RegisterToken(c, chainstateDI.ChainLookup, func(sr di.ServiceRegistry) app.ChainLookup {
		cfg := sr.Get("config").(*config.Config)
		return registry.NewChainLookup(cfg)
	})

	// Register chain state service (public - exposed to other modules)
	di.RegisterToken(c, chainstateDI.ChainStateService, func(sr di.ServiceRegistry) *app.Service {
		log := sr.Get("logger").(logger.LoggerInterface)
		svc, err := app.NewService(
			chainstateDI.GetPeerPool(sr),
			chainstateDI.GetDataAPI(sr),
			chainstateDI.GetWalletDirectory(sr),
			chainstateDI.GetChainLookup(sr),
			log,
		)
		if err != nil {
			panic("failed to create chain state service: " + err.Error())
		}
		return svc
	})

	return nil
}

// Startup initializes the chainstate module and registers per-network
// readiness checks.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	svc := chainstateDI.GetChainStateService(mono.Services())

	if hs := mono.Health(); hs != nil {
		pool := svc.Pool()
		for chainName, networks := range mono.Config().Chains {
			for networkName := range networks {
				chain, network := chainName, networkName
				name := fmt.Sprintf("peer:%s/%s", chain, network)
				hs.RegisterCheck(name, func(ctx context.Context) (bool, string) {
					ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
					defer cancel()
					tip, err := svc.TipHeight(ctx, chain, network)
					if err != nil {
						return false, err.Error()
					}
					return true, fmt.Sprintf("tip %d, %d pooled connections", tip, pool.Size())
				})
			}
		}
	}

	log.Info(ctx, "chainstate module started")
	return nil
}
