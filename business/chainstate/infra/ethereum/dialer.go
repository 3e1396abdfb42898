package ethereum

import (
	"context"
	"fmt"

	"github.com/JoKacar/bitcore/business/chainstate/app"
	"github.com/JoKacar/bitcore/business/chainstate/domain"
	"github.com/JoKacar/bitcore/internal/apperror"
	"github.com/JoKacar/bitcore/internal/config"
	"github.com/JoKacar/bitcore/internal/logger"
)

var _ app.Dialer = (*Dialer)(nil)

// Dialer creates peer clients from configured endpoints.
type Dialer struct {
	cfg    *config.Config
	logger logger.LoggerInterface
}

// NewDialer creates a Dialer over the loaded configuration.
func NewDialer(cfg *config.Config, log logger.LoggerInterface) *Dialer {
	return &Dialer{cfg: cfg, logger: log}
}

// Dial connects to the first configured endpoint for (chain, network) whose
// capability satisfies the request.
func (d *Dialer) Dial(ctx context.Context, chain, network string, capability domain.Capability) (app.NodeClient, error) {
	provider, err := d.cfg.Endpoint(chain, network, capability)
	if err != nil {
		return nil, apperror.New(apperror.CodePeerConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s/%s needs %s", chain, network, capability)))
	}

	client, err := NewClient(ctx, ClientConfig{
		URL:     provider.URL,
		Chain:   chain,
		Network: network,
	}, d.logger)
	if err != nil {
		return nil, err
	}

	d.logger.Debug(ctx, "dialed peer endpoint",
		"chain", chain, "network", network,
		"capability", provider.Capability, "url", provider.URL)
	return client, nil
}
