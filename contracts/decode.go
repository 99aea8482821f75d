package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DecodedCall is calldata matched against the known ABIs.
type DecodedCall struct {
	Contract string
	Method   string
	Args     map[string]interface{}
}

var knownABIs = []struct {
	name     string
	contract abi.ABI
}{
	{"erc20", ERC20ABI},
	{"lending", LendingABI},
	{"permit2", Permit2ABI},
	{"router", RouterABI},
}

// DecodeCall identifies the method a calldata blob invokes and unpacks its
// named arguments.
func DecodeCall(data []byte) (DecodedCall, error) {
	if len(data) < 4 {
		return DecodedCall{}, fmt.Errorf("%w: calldata too short", ErrUnknownMethod)
	}
	for _, known := range knownABIs {
		method, err := known.contract.MethodById(data[:4])
		if err != nil {
			continue
		}
		args := make(map[string]interface{}, len(method.Inputs))
		if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
			return DecodedCall{}, fmt.Errorf("unpack %s.%s: %w", known.name, method.Name, err)
		}
		return DecodedCall{Contract: known.name, Method: method.Name, Args: args}, nil
	}
	return DecodedCall{}, fmt.Errorf("%w: %x", ErrUnknownMethod, data[:4])
}
