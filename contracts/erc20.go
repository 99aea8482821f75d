package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EncodeApprove builds ERC20 approve(spender, amount) calldata.
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	if err := checkBound("amount", amount, 256); err != nil {
		return nil, err
	}
	return pack(ERC20ABI, "approve", spender, orZero(amount))
}

// EncodeTransfer builds ERC20 transfer(to, amount) calldata.
func EncodeTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	if err := checkBound("amount", amount, 256); err != nil {
		return nil, err
	}
	return pack(ERC20ABI, "transfer", to, orZero(amount))
}

// EncodeAllowance builds ERC20 allowance(owner, spender) calldata.
func EncodeAllowance(owner, spender common.Address) ([]byte, error) {
	return pack(ERC20ABI, "allowance", owner, spender)
}

// EncodeBalanceOf builds ERC20 balanceOf(account) calldata.
func EncodeBalanceOf(account common.Address) ([]byte, error) {
	return pack(ERC20ABI, "balanceOf", account)
}

// DecodeUint256 unpacks a single uint256 return value of the named ERC20 or
// oracle view.
func DecodeUint256(method string, data []byte) (*big.Int, error) {
	contract := ERC20ABI
	if method == "price" {
		contract = OracleABI
	}
	out, err := unpack(contract, method, data)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}
