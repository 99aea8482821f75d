package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ReceiptClient is the subset of the Ethereum RPC used for confirmation.
type ReceiptClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// DialEVMClient initialises an RPC client for the endpoint.
func DialEVMClient(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Confirmer waits for a submitted transaction to settle.
type Confirmer interface {
	Confirm(ctx context.Context, txHash common.Hash) (Receipt, error)
}

// EVMConfirmer polls an Ethereum node for the receipt.
type EVMConfirmer struct {
	client        ReceiptClient
	confirmations uint64
	poll          time.Duration
}

// NewEVMConfirmer constructs a confirmer requiring the given number of
// confirmations. Zero accepts the inclusion block.
func NewEVMConfirmer(client ReceiptClient, confirmations uint64, poll time.Duration) *EVMConfirmer {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &EVMConfirmer{client: client, confirmations: confirmations, poll: poll}
}

// Confirm blocks until the transaction is mined with a successful status and
// enough confirmations, the transaction reverts, or ctx ends.
func (c *EVMConfirmer) Confirm(ctx context.Context, txHash common.Hash) (Receipt, error) {
	if c == nil || c.client == nil {
		return Receipt{}, fmt.Errorf("evm confirmer not initialised")
	}
	if (txHash == common.Hash{}) {
		return Receipt{}, fmt.Errorf("tx hash required")
	}
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, done, err := c.check(ctx, txHash)
		if done {
			return receipt, err
		}
		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("wait for %s: network timeout: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *EVMConfirmer) check(ctx context.Context, txHash common.Hash) (Receipt, bool, error) {
	receipt, err := c.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Receipt{}, false, nil
		}
		return Receipt{}, true, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return Receipt{}, false, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return Receipt{}, true, fmt.Errorf("execution reverted: transaction %s failed", txHash.Hex())
	}
	if c.confirmations > 0 {
		header, err := c.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return Receipt{}, true, fmt.Errorf("fetch head: %w", err)
		}
		if header == nil || header.Number == nil {
			return Receipt{}, true, fmt.Errorf("block metadata unavailable")
		}
		confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
		confirmed.Add(confirmed, big.NewInt(1))
		if confirmed.Cmp(new(big.Int).SetUint64(c.confirmations)) < 0 {
			return Receipt{}, false, nil
		}
	}
	return Receipt{Hash: txHash, BlockNumber: receipt.BlockNumber.Uint64()}, true, nil
}
