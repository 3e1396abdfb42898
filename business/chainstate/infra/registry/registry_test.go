package registry

import (
	"context"
	"testing"

	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/config"
)

func TestWalletDirectory_SeededLookup(t *testing.T) {
	d := NewWalletDirectory([]config.WalletConfig{
		{ID: "treasury", Chain: "ETH", Network: "mainnet", Addresses: []string{"0xa1", "0xa2"}},
		{ID: "treasury", Chain: "MATIC", Network: "mainnet", Addresses: []string{"0xb1"}},
	})

	addrs, err := d.Addresses(context.Background(), "ETH", "mainnet", "treasury")
	if err != nil {
		t.Fatalf("Addresses: %v", err)
	}
	if len(addrs) != 2 || addrs[0] != "0xa1" || addrs[1] != "0xa2" {
		t.Fatalf("addresses = %v", addrs)
	}

	// The same wallet id on another chain is a distinct entry.
	addrs, err = d.Addresses(context.Background(), "MATIC", "mainnet", "treasury")
	if err != nil {
		t.Fatalf("Addresses: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != "0xb1" {
		t.Fatalf("addresses = %v", addrs)
	}
}

func TestWalletDirectory_ChainAndNetworkAreCaseInsensitive(t *testing.T) {
	d := NewWalletDirectory([]config.WalletConfig{
		{ID: "w1", Chain: "eth", Network: "Mainnet", Addresses: []string{"0xa1"}},
	})

	addrs, err := d.Addresses(context.Background(), "ETH", "mainnet", "w1")
	if err != nil {
		t.Fatalf("Addresses: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("addresses = %v", addrs)
	}
}

func TestWalletDirectory_UnknownWallet(t *testing.T) {
	d := NewWalletDirectory(nil)

	_, err := d.Addresses(context.Background(), "ETH", "mainnet", "ghost")
	if apperror.GetCode(err) != apperror.CodeWalletNotFound {
		t.Fatalf("code = %v, want %v", apperror.GetCode(err), apperror.CodeWalletNotFound)
	}
}

func TestWalletDirectory_RegisterReplaces(t *testing.T) {
	d := NewWalletDirectory([]config.WalletConfig{
		{ID: "w1", Chain: "ETH", Network: "mainnet", Addresses: []string{"0xold"}},
	})
	d.Register("ETH", "mainnet", "w1", []string{"0xnew1", "0xnew2"})

	addrs, err := d.Addresses(context.Background(), "ETH", "mainnet", "w1")
	if err != nil {
		t.Fatalf("Addresses: %v", err)
	}
	if len(addrs) != 2 || addrs[0] != "0xnew1" {
		t.Fatalf("addresses = %v", addrs)
	}
}

func TestWalletDirectory_ReturnsCopies(t *testing.T) {
	seed := []string{"0xa1"}
	d := NewWalletDirectory(nil)
	d.Register("ETH", "mainnet", "w1", seed)
	seed[0] = "0xmutated"

	addrs, _ := d.Addresses(context.Background(), "ETH", "mainnet", "w1")
	addrs[0] = "0xalso-mutated"

	again, _ := d.Addresses(context.Background(), "ETH", "mainnet", "w1")
	if again[0] != "0xa1" {
		t.Fatalf("stored address = %q, want 0xa1", again[0])
	}
}

func TestChainLookup(t *testing.T) {
	cfg := &config.Config{Chains: map[string]map[string]config.NetworkConfig{
		"eth": {
			"mainnet": {ChainID: 1},
			"sepolia": {ChainID: 11155111},
		},
	}}
	l := NewChainLookup(cfg)

	id, err := l.ChainID("ETH", "mainnet")
	if err != nil {
		t.Fatalf("ChainID: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}

	id, err = l.ChainID("eth", "sepolia")
	if err != nil {
		t.Fatalf("ChainID: %v", err)
	}
	if id != 11155111 {
		t.Fatalf("id = %d, want 11155111", id)
	}

	if _, err := l.ChainID("doge", "mainnet"); err == nil {
		t.Fatal("unknown chain should error")
	}
}
