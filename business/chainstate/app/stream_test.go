package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/apperror"
)

// selfContainedRecord renders an external record whose fee is computable
// without the enrichment stage.
func selfContainedRecord(seq int, height uint64) json.RawMessage {
	hash := fmt.Sprintf("0x%064x", seq)
	return json.RawMessage(fmt.Sprintf(`{
		"hash": %q,
		"nonce": "%d",
		"from_address": "0x00000000000000000000000000000000000000aa",
		"to_address": "0x00000000000000000000000000000000000000bb",
		"value": "1000",
		"gas": "21000",
		"gas_price": "10",
		"receipt_gas_used": "21000",
		"block_timestamp": "2024-03-01T00:00:00Z",
		"block_number": "%d",
		"block_hash": "0x00000000000000000000000000000000000000000000000000000000000000cc"
	}`, hash, seq, height))
}

func newTestPipeline(t *testing.T, data *fakeData) *streamPipeline {
	t.Helper()
	pool, _, err := newTestPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p, err := newStreamPipeline(data, &fakeChains{id: 1}, newTxEnricher(pool, testLogger{}), testLogger{})
	if err != nil {
		t.Fatalf("newStreamPipeline: %v", err)
	}
	return p
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []domain.Transaction {
	t.Helper()
	var out []domain.Transaction
	dec := json.NewDecoder(strings.NewReader(buf.String()))
	for dec.More() {
		var tx domain.Transaction
		if err := dec.Decode(&tx); err != nil {
			t.Fatalf("decode output line: %v", err)
		}
		out = append(out, tx)
	}
	return out
}

func TestRun_MergesAllSources(t *testing.T) {
	data := &fakeData{streams: map[string]*fakeStream{
		"0xaddr1": newFakeStream(nil,
			selfContainedRecord(1, 100),
			selfContainedRecord(2, 101),
			selfContainedRecord(3, 102),
		),
		"0xaddr2": newFakeStream(nil,
			selfContainedRecord(4, 103),
			selfContainedRecord(5, 104),
		),
	}}
	p := newTestPipeline(t, data)

	var buf bytes.Buffer
	err := p.run(context.Background(), "ETH", "mainnet",
		[]string{"0xaddr1", "0xaddr2"}, "", false, 110, &buf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	txs := decodeLines(t, &buf)
	if len(txs) != 5 {
		t.Fatalf("got %d records, want 5", len(txs))
	}

	// Every record is projected against the single tip captured at start.
	for _, tx := range txs {
		want := uint64(110 - tx.BlockHeight + 1)
		if tx.Confirmations != want {
			t.Errorf("height %d: confirmations = %d, want %d", tx.BlockHeight, tx.Confirmations, want)
		}
		// 21000 gas at price 10, straight off the record.
		if tx.Fee == nil || tx.Fee.Int64() != 210000 {
			t.Errorf("height %d: fee = %v, want 210000", tx.BlockHeight, tx.Fee)
		}
	}
}

func TestRun_TokenTransferVariant(t *testing.T) {
	data := &fakeData{
		streams: map[string]*fakeStream{},
		tokenStreams: map[string]*fakeStream{
			"0xaddr1": newFakeStream(nil, selfContainedRecord(1, 100)),
		},
	}
	p := newTestPipeline(t, data)

	var buf bytes.Buffer
	err := p.run(context.Background(), "ETH", "mainnet",
		[]string{"0xaddr1"}, "0xtoken", false, 110, &buf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := decodeLines(t, &buf); len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
}

func TestRun_MidFlightErrorKeepsFlushedRecords(t *testing.T) {
	data := &fakeData{streams: map[string]*fakeStream{
		"0xaddr1": newFakeStream(errors.New("connection dropped"),
			selfContainedRecord(1, 100),
			selfContainedRecord(2, 101),
		),
	}}
	p := newTestPipeline(t, data)

	var buf bytes.Buffer
	err := p.run(context.Background(), "ETH", "mainnet",
		[]string{"0xaddr1"}, "", false, 110, &buf)
	if err == nil {
		t.Fatal("expected the interrupted stream to surface an error")
	}
	if apperror.GetCode(err) != apperror.CodeStreamInterrupted {
		t.Fatalf("code = %s, want %s", apperror.GetCode(err), apperror.CodeStreamInterrupted)
	}

	// Records handed off before the failure were flushed and stand.
	if got := decodeLines(t, &buf); len(got) != 2 {
		t.Fatalf("got %d flushed records, want 2", len(got))
	}
}

func TestRun_MalformedRecordFailsTheStream(t *testing.T) {
	data := &fakeData{streams: map[string]*fakeStream{
		"0xaddr1": newFakeStream(nil,
			json.RawMessage(`{"hash": "0x01", "value": "not-a-number"}`),
		),
	}}
	p := newTestPipeline(t, data)

	var buf bytes.Buffer
	err := p.run(context.Background(), "ETH", "mainnet",
		[]string{"0xaddr1"}, "", false, 110, &buf)
	if apperror.GetCode(err) != apperror.CodeUpstreamData {
		t.Fatalf("code = %s, want %s", apperror.GetCode(err), apperror.CodeUpstreamData)
	}
}

func TestRun_OpenFailureNamesTheAddress(t *testing.T) {
	data := &fakeData{streams: map[string]*fakeStream{}}
	p := newTestPipeline(t, data)

	var buf bytes.Buffer
	err := p.run(context.Background(), "ETH", "mainnet",
		[]string{"0xmissing"}, "", false, 110, &buf)
	if apperror.GetCode(err) != apperror.CodeStreamOpenFailed {
		t.Fatalf("code = %s, want %s", apperror.GetCode(err), apperror.CodeStreamOpenFailed)
	}
}

// failAfterWriter accepts n writes then fails, standing in for a broken sink.
type failAfterWriter struct {
	n      int
	writes int
}

func (w *failAfterWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.n {
		return 0, errors.New("sink closed")
	}
	return len(p), nil
}

func TestRun_SinkFailureUnblocksSources(t *testing.T) {
	records := make([]json.RawMessage, 20)
	for i := range records {
		records[i] = selfContainedRecord(i+1, uint64(100+i))
	}
	data := &fakeData{streams: map[string]*fakeStream{
		"0xaddr1": newFakeStream(nil, records...),
	}}
	p := newTestPipeline(t, data)

	err := p.run(context.Background(), "ETH", "mainnet",
		[]string{"0xaddr1"}, "", false, 200, &failAfterWriter{n: 3})
	if err == nil {
		t.Fatal("expected the broken sink to surface an error")
	}
	// The sources only see the cancellation the writer triggered; the
	// reported error must name the write failure itself.
	if got := apperror.GetCode(err); got != apperror.CodeSinkWriteFailed {
		t.Fatalf("expected code %s, got %s (%v)", apperror.CodeSinkWriteFailed, got, err)
	}
}
