package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"goldlend/services/planner"
)

// RelayConfig points the executor at a sponsorship relay that executes
// batches through the account's smart wallet.
type RelayConfig struct {
	Endpoint string
	APIKey   string
	ChainID  uint64
	Timeout  time.Duration
}

// RelayExecutor posts batches to the relay and waits for the resulting
// transaction through a Confirmer.
type RelayExecutor struct {
	endpoint  string
	apiKey    string
	chainID   uint64
	client    *http.Client
	confirmer Confirmer
}

// NewRelayExecutor validates the configuration. A nil client gets an
// instrumented default.
func NewRelayExecutor(cfg RelayConfig, confirmer Confirmer, client *http.Client) (*RelayExecutor, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: relay endpoint required", ErrNotConfigured)
	}
	if confirmer == nil {
		return nil, fmt.Errorf("%w: confirmer required", ErrNotConfigured)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &RelayExecutor{
		endpoint:  endpoint,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		chainID:   cfg.ChainID,
		client:    client,
		confirmer: confirmer,
	}, nil
}

type relayRequest struct {
	ChainID   uint64         `json:"chainId"`
	Account   common.Address `json:"account"`
	Calls     []planner.Call `json:"calls"`
	Sponsored bool           `json:"sponsored"`
}

type relayResponse struct {
	Hash  *common.Hash `json:"hash"`
	Error string       `json:"error"`
}

// SendBatch submits calls and waits for confirmation.
func (r *RelayExecutor) SendBatch(ctx context.Context, account common.Address, calls []planner.Call) (Receipt, error) {
	if len(calls) == 0 {
		return Receipt{}, ErrNothingToSubmit
	}
	hash, err := r.submit(ctx, account, calls)
	if err != nil {
		return Receipt{}, err
	}
	return r.confirmer.Confirm(ctx, hash)
}

func (r *RelayExecutor) submit(ctx context.Context, account common.Address, calls []planner.Call) (common.Hash, error) {
	body, err := json.Marshal(relayRequest{ChainID: r.chainID, Account: account, Calls: calls, Sponsored: r.apiKey != ""})
	if err != nil {
		return common.Hash{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("relay network error: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return common.Hash{}, fmt.Errorf("relay network error: %w", err)
	}
	var out relayResponse
	decodeErr := json.Unmarshal(payload, &out)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(out.Error)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(payload))
		}
		return common.Hash{}, fmt.Errorf("relay status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return common.Hash{}, fmt.Errorf("decode relay response: %w", decodeErr)
	}
	if out.Error != "" {
		return common.Hash{}, fmt.Errorf("relay: %s", out.Error)
	}
	if out.Hash == nil || *out.Hash == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("relay returned no transaction hash")
	}
	return *out.Hash, nil
}
