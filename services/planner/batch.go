package planner

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Intent names a user action the planner can turn into calls.
type Intent string

const (
	IntentSupplyBorrow Intent = "supply_borrow"
	IntentRepay        Intent = "repay"
	IntentRepayFull    Intent = "repay_full"
	IntentWithdraw     Intent = "withdraw"
	IntentSwap         Intent = "swap"
	IntentTransfer     Intent = "transfer"
)

// ParseIntent maps the wire name of an intent. Hyphens are accepted in
// place of underscores.
func ParseIntent(raw string) (Intent, error) {
	normalized := Intent(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	switch normalized {
	case IntentSupplyBorrow, IntentRepay, IntentRepayFull, IntentWithdraw, IntentSwap, IntentTransfer:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownIntent, raw)
	}
}

// Call is one contract invocation inside a batch.
type Call struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *big.Int       `json:"value"`
}

// MarshalJSON renders Value as a decimal string.
func (c Call) MarshalJSON() ([]byte, error) {
	value := "0"
	if c.Value != nil {
		value = c.Value.String()
	}
	return json.Marshal(struct {
		To    common.Address `json:"to"`
		Data  hexutil.Bytes  `json:"data"`
		Value string         `json:"value"`
	}{c.To, c.Data, value})
}

// UnmarshalJSON accepts Value as a decimal string or a JSON number.
func (c *Call) UnmarshalJSON(data []byte) error {
	var raw struct {
		To    common.Address  `json:"to"`
		Data  hexutil.Bytes   `json:"data"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value := new(big.Int)
	if text := strings.Trim(string(raw.Value), `"`); text != "" && text != "null" {
		if _, ok := value.SetString(text, 0); !ok {
			return fmt.Errorf("planner: invalid call value %s", raw.Value)
		}
	}
	c.To, c.Data, c.Value = raw.To, raw.Data, value
	return nil
}

// Batch is an ordered list of calls for atomic submission. Approvals always
// precede the call that consumes them.
type Batch struct {
	Intent  Intent         `json:"intent"`
	Account common.Address `json:"account"`
	Calls   []Call         `json:"calls"`
}

// Empty reports whether there is nothing to submit.
func (b Batch) Empty() bool { return len(b.Calls) == 0 }

func (b *Batch) add(to common.Address, data []byte) {
	b.Calls = append(b.Calls, Call{To: to, Data: data, Value: new(big.Int)})
}
