package moralis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JoKacar/bitcore/business/chainstate/app"
	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/wsconn"
)

// wsStream delivers records over a WebSocket session. After a subscribe
// message the server pushes one transaction record per text frame and ends
// the session with a normal closure when the history is exhausted.
type wsStream struct {
	conn *wsconn.Client

	records chan json.RawMessage
	err     error
	errMu   sync.Mutex
	closeMu sync.Once
}

type wsSubscribe struct {
	Action       string  `json:"action"`
	Chain        string  `json:"chain"`
	Address      string  `json:"address"`
	TokenAddress string  `json:"token_address,omitempty"`
	Order        string  `json:"order"`
	FromBlock    *uint64 `json:"from_block,omitempty"`
	ToBlock      *uint64 `json:"to_block,omitempty"`
}

func (c *Client) openWSStream(ctx context.Context, chainID uint64, address, tokenAddress string, opts app.StreamOptions) (*wsStream, error) {
	sub := wsSubscribe{
		Action:       "subscribe",
		Chain:        chainParam(chainID),
		Address:      address,
		TokenAddress: tokenAddress,
		Order:        "DESC",
		FromBlock:    opts.FromBlock,
		ToBlock:      opts.ToBlock,
	}
	if opts.Ascending {
		sub.Order = "ASC"
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("marshal subscribe: %w", err)
	}

	wsCfg := wsconn.DefaultConfig(c.cfg.StreamWSURL)
	wsCfg.Headers = map[string]string{"X-API-Key": c.cfg.APIKey}
	conn := wsconn.New(wsCfg)
	// A resumed session starts without a subscription, so replay it.
	conn.OnReconnect(func(ctx context.Context) error {
		return conn.Send(ctx, payload)
	})

	if err := conn.Connect(ctx); err != nil {
		return nil, apperror.New(apperror.CodeStreamOpenFailed,
			apperror.WithCause(err),
			apperror.WithContext(c.cfg.StreamWSURL))
	}
	if err := conn.Send(ctx, payload); err != nil {
		conn.Close()
		return nil, apperror.New(apperror.CodeStreamOpenFailed, apperror.WithCause(err))
	}

	s := &wsStream{
		conn:    conn,
		records: make(chan json.RawMessage),
	}
	go s.pump()
	return s, nil
}

// pump forwards frames until the connection's message channel closes. The
// forwarding send blocks, which in turn blocks the connection's read loop
// when the consumer is slow.
func (s *wsStream) pump() {
	defer close(s.records)

	for msg := range s.conn.Messages() {
		s.records <- json.RawMessage(msg)
	}

	if err := s.conn.Err(); err != nil {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
	}
}

func (s *wsStream) Records() <-chan json.RawMessage { return s.records }

func (s *wsStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsStream) Close() error {
	var err error
	s.closeMu.Do(func() {
		err = s.conn.Close()
		// Drain so pump can finish and close the records channel.
		go func() {
			for range s.records {
			}
		}()
	})
	return err
}
