// Package registry provides config-seeded implementations of the wallet
// directory and chain lookup contracts.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JoKacar/bitcore/business/chainstate/app"
	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/config"
)

var (
	_ app.WalletDirectory = (*WalletDirectory)(nil)
	_ app.ChainLookup     = (*ChainLookup)(nil)
)

// WalletDirectory maps wallet ids to their address sets, seeded from
// configuration. Wallets can be added at runtime but are not persisted.
type WalletDirectory struct {
	mu      sync.RWMutex
	wallets map[string][]string
}

func walletKey(chain, network, walletID string) string {
	return strings.ToLower(chain) + "/" + strings.ToLower(network) + "/" + walletID
}

// NewWalletDirectory seeds a directory from the configured wallets.
func NewWalletDirectory(seeds []config.WalletConfig) *WalletDirectory {
	d := &WalletDirectory{wallets: make(map[string][]string, len(seeds))}
	for _, w := range seeds {
		d.Register(w.Chain, w.Network, w.ID, w.Addresses)
	}
	return d
}

// Register adds or replaces a wallet's address set.
func (d *WalletDirectory) Register(chain, network, walletID string, addresses []string) {
	addrs := make([]string, len(addresses))
	copy(addrs, addresses)

	d.mu.Lock()
	d.wallets[walletKey(chain, network, walletID)] = addrs
	d.mu.Unlock()
}

// Addresses returns the addresses owned by a wallet.
func (d *WalletDirectory) Addresses(ctx context.Context, chain, network, walletID string) ([]string, error) {
	d.mu.RLock()
	addrs, ok := d.wallets[walletKey(chain, network, walletID)]
	d.mu.RUnlock()

	if !ok {
		return nil, apperror.New(apperror.CodeWalletNotFound,
			apperror.WithContext(fmt.Sprintf("%s on %s/%s", walletID, chain, network)))
	}

	out := make([]string, len(addrs))
	copy(out, addrs)
	return out, nil
}

// ChainLookup resolves (chain, network) pairs to numeric chain ids from
// configuration.
type ChainLookup struct {
	cfg *config.Config
}

// NewChainLookup creates a lookup over the loaded configuration.
func NewChainLookup(cfg *config.Config) *ChainLookup {
	return &ChainLookup{cfg: cfg}
}

// ChainID returns the numeric chain id for (chain, network).
func (l *ChainLookup) ChainID(chain, network string) (uint64, error) {
	nc, err := l.cfg.Network(chain, network)
	if err != nil {
		return 0, err
	}
	return nc.ChainID, nil
}
