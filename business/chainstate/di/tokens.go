// Package di contains dependency injection tokens for the chainstate context.
package di

import (
	"github.com/JoKacar/bitcore/business/chainstate/app"
	"github.com/JoKacar/bitcore/internal/di"
)

// Public service tokens - exposed to other modules
var (
	ChainStateService = di.NewToken[*app.Service]("chainstate.Service")
)

// Private dependency tokens - internal to chainstate module
var (
	PeerPool        = di.NewToken[*app.Pool]("chainstate:peerPool")
	PeerDialer      = di.NewToken[app.Dialer]("chainstate:peerDialer")
	DataAPI         = di.NewToken[app.DataAPI]("chainstate:dataAPI")
	WalletDirectory = di.NewToken[app.WalletDirectory]("chainstate:walletDirectory")
	ChainLookup     = di.NewToken[app.ChainLookup]("chainstate:chainLookup")
)

// Helper functions for type-safe access
func GetChainStateService(c di.ServiceRegistry) *app.Service {
	return di.GetToken(c, ChainStateService)
}

func GetPeerPool(c di.ServiceRegistry) *app.Pool {
	return di.GetToken(c, PeerPool)
}

func GetPeerDialer(c di.ServiceRegistry) app.Dialer {
	return di.GetToken(c, PeerDialer)
}

func GetDataAPI(c di.ServiceRegistry) app.DataAPI {
	return di.GetToken(c, DataAPI)
}

func GetWalletDirectory(c di.ServiceRegistry) app.WalletDirectory {
	return di.GetToken(c, WalletDirectory)
}

func GetChainLookup(c di.ServiceRegistry) app.ChainLookup {
	return di.GetToken(c, ChainLookup)
}
