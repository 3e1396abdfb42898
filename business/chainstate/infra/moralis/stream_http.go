package moralis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/JoKacar/bitcore/business/chainstate/app"
)

// httpStream drives a cursor-paged endpoint and surfaces each result row as
// one record. The records channel send blocks, so a slow consumer pauses
// paging instead of buffering pages in memory.
type httpStream struct {
	client *Client
	path   string
	params map[string]string

	records chan json.RawMessage
	err     error
	errMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	closeMu sync.Once
}

type pageResponse struct {
	Cursor string            `json:"cursor"`
	Result []json.RawMessage `json:"result"`
}

// openHTTPStream starts paging in the background.
func (c *Client) openHTTPStream(ctx context.Context, path string, chainID uint64, extra map[string]string, opts app.StreamOptions) *httpStream {
	params := map[string]string{
		"chain": chainParam(chainID),
		"limit": strconv.Itoa(c.pageSize),
		"order": "DESC",
	}
	if opts.Ascending {
		params["order"] = "ASC"
	}
	if opts.FromBlock != nil {
		params["from_block"] = strconv.FormatUint(*opts.FromBlock, 10)
	}
	if opts.ToBlock != nil {
		params["to_block"] = strconv.FormatUint(*opts.ToBlock, 10)
	}
	for k, v := range extra {
		params[k] = v
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &httpStream{
		client:  c,
		path:    path,
		params:  params,
		records: make(chan json.RawMessage),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *httpStream) run(ctx context.Context) {
	defer close(s.records)

	cursor := ""
	for {
		params := make(map[string]string, len(s.params)+1)
		for k, v := range s.params {
			params[k] = v
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var page pageResponse
		if err := s.client.get(ctx, s.path, params, &page); err != nil {
			s.fail(fmt.Errorf("page after cursor %q: %w", cursor, err))
			return
		}

		for _, record := range page.Result {
			select {
			case s.records <- record:
			case <-ctx.Done():
				s.fail(ctx.Err())
				return
			case <-s.done:
				return
			}
		}

		if page.Cursor == "" {
			return
		}
		cursor = page.Cursor
	}
}

func (s *httpStream) Records() <-chan json.RawMessage { return s.records }

func (s *httpStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *httpStream) Close() error {
	s.closeMu.Do(func() {
		close(s.done)
		s.cancel()
	})
	return nil
}

func (s *httpStream) fail(err error) {
	select {
	case <-s.done:
		// Closed streams swallow their tail error.
		return
	default:
	}
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}
