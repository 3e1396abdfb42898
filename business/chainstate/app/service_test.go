package app

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/apperror"
)

func newTestService(t *testing.T, client *fakeClient, data *fakeData, wallets *fakeWallets) *Service {
	t.Helper()
	var clients []*fakeClient
	if client != nil {
		clients = append(clients, client)
	}
	pool, _, err := newTestPool(clients...)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if data == nil {
		data = &fakeData{}
	}
	if wallets == nil {
		wallets = &fakeWallets{}
	}
	svc, err := NewService(pool, data, wallets, &fakeChains{id: 1}, testLogger{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestService_RequiresChainAndNetwork(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)
	ctx := context.Background()

	if _, err := svc.GetFee(ctx, "", "mainnet", 2); apperror.GetCode(err) != apperror.CodeRequiredField {
		t.Fatalf("GetFee code = %v, want %v", apperror.GetCode(err), apperror.CodeRequiredField)
	}
	var buf bytes.Buffer
	if err := svc.StreamAddressTransactions(ctx, "ETH", "", "0x00000000000000000000000000000000000000aa", "", &buf); apperror.GetCode(err) != apperror.CodeRequiredField {
		t.Fatalf("StreamAddressTransactions code = %v, want %v", apperror.GetCode(err), apperror.CodeRequiredField)
	}
	if _, err := svc.GetWalletBalanceAtTime(ctx, "", "", "w1", time.Now()); apperror.GetCode(err) != apperror.CodeRequiredField {
		t.Fatalf("GetWalletBalanceAtTime code = %v, want %v", apperror.GetCode(err), apperror.CodeRequiredField)
	}
}

func TestStreamAddressTransactions_RejectsMalformedAddresses(t *testing.T) {
	svc := newTestService(t, nil, nil, nil)
	var buf bytes.Buffer

	err := svc.StreamAddressTransactions(context.Background(), "ETH", "mainnet", "not-an-address", "", &buf)
	if apperror.GetCode(err) != apperror.CodeInvalidFormat {
		t.Fatalf("code = %v, want %v", apperror.GetCode(err), apperror.CodeInvalidFormat)
	}

	err = svc.StreamAddressTransactions(context.Background(), "ETH", "mainnet",
		"0x00000000000000000000000000000000000000aa", "0xnope", &buf)
	if apperror.GetCode(err) != apperror.CodeInvalidFormat {
		t.Fatalf("token code = %v, want %v", apperror.GetCode(err), apperror.CodeInvalidFormat)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected stream wrote %d bytes", buf.Len())
	}
}

func TestStreamTransactions_WritesOneLinePerTransaction(t *testing.T) {
	client := &fakeClient{tip: 105, blocks: map[uint64]*RawBlock{}}
	for h := uint64(100); h <= 102; h++ {
		b := rawBlockAt(h)
		b.Transactions = []RawTransaction{
			{Hash: common.BigToHash(big.NewInt(int64(h*10))), BlockHeight: int64(h), Gas: 21000, Nonce: 1},
			{Hash: common.BigToHash(big.NewInt(int64(h*10 + 1))), BlockHeight: int64(h), Gas: 21000, Nonce: 2},
		}
		client.blocks[h] = b
	}
	svc := newTestService(t, client, nil, nil)

	start := uint64(100)
	var buf bytes.Buffer
	err := svc.StreamTransactions(context.Background(), "ETH", "mainnet",
		domain.BlockSelector{Since: &start, Limit: 2, Sort: domain.SortAscending}, &buf)
	if err != nil {
		t.Fatalf("StreamTransactions: %v", err)
	}

	txs := decodeLines(t, &buf)
	if len(txs) != 6 {
		t.Fatalf("got %d lines, want 6", len(txs))
	}
	if txs[0].BlockHeight != 100 || txs[5].BlockHeight != 102 {
		t.Fatalf("heights = %d..%d, want 100..102", txs[0].BlockHeight, txs[5].BlockHeight)
	}
}

func TestStreamWalletTransactions_EmptyWalletEndsCleanly(t *testing.T) {
	svc := newTestService(t, nil, nil, &fakeWallets{wallets: map[string][]string{"w-empty": {}}})

	var buf bytes.Buffer
	if err := svc.StreamWalletTransactions(context.Background(), "ETH", "mainnet", "w-empty", &buf); err != nil {
		t.Fatalf("StreamWalletTransactions: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("empty wallet wrote %d bytes", buf.Len())
	}
}

func TestStreamWalletTransactions_UnknownWallet(t *testing.T) {
	svc := newTestService(t, nil, nil, &fakeWallets{})

	var buf bytes.Buffer
	err := svc.StreamWalletTransactions(context.Background(), "ETH", "mainnet", "nope", &buf)
	if apperror.GetCode(err) != apperror.CodeWalletNotFound {
		t.Fatalf("code = %v, want %v", apperror.GetCode(err), apperror.CodeWalletNotFound)
	}
}

func TestGetWalletBalanceAtTime_SumsAddresses(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	data := &fakeData{
		heightByDate: map[int64]uint64{at.Unix(): 1234},
		balances: map[string]*big.Int{
			"0xa1": big.NewInt(100),
			"0xa2": big.NewInt(250),
		},
	}
	wallets := &fakeWallets{wallets: map[string][]string{"w1": {"0xa1", "0xa2"}}}
	svc := newTestService(t, nil, data, wallets)

	bal, err := svc.GetWalletBalanceAtTime(context.Background(), "ETH", "mainnet", "w1", at)
	if err != nil {
		t.Fatalf("GetWalletBalanceAtTime: %v", err)
	}
	if bal.Confirmed.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("confirmed = %s, want 350", bal.Confirmed)
	}
	if bal.Unconfirmed.Sign() != 0 {
		t.Fatalf("unconfirmed = %s, want 0", bal.Unconfirmed)
	}
	if bal.Balance.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("total = %s, want 350", bal.Balance)
	}
}

func TestGetWalletBalanceAtTime_DateLookupFailure(t *testing.T) {
	data := &fakeData{dateErr: context.DeadlineExceeded}
	wallets := &fakeWallets{wallets: map[string][]string{"w1": {"0xa1"}}}
	svc := newTestService(t, nil, data, wallets)

	_, err := svc.GetWalletBalanceAtTime(context.Background(), "ETH", "mainnet", "w1", time.Now())
	if apperror.GetCode(err) != apperror.CodeDateLookupFailed {
		t.Fatalf("code = %v, want %v", apperror.GetCode(err), apperror.CodeDateLookupFailed)
	}
}
