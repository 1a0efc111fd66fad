package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/matrixise/holder-snapshot/internal/holders"
)

// ContractCaller is the read-only subset of an RPC client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ContractRate reads a fixed-point conversion rate from a view method at the
// snapshot block. Supported methods are either `name()` or
// `name(uint256)`; the latter is called with 10^decimals, as ERC-4626
// convertToAssets expects one whole share.
type ContractRate struct {
	caller   ContractCaller
	contract common.Address
	abi      abi.ABI
	method   string
	args     []any
	decimals uint8
}

// NewContractRate builds a rate source for contract.method.
func NewContractRate(caller ContractCaller, contract, method string, decimals uint8) (*ContractRate, error) {
	if !common.IsHexAddress(contract) {
		return nil, errors.Errorf("invalid rate contract address %q", contract)
	}
	name, withAmount, err := parseRateMethod(method)
	if err != nil {
		return nil, err
	}

	inputs := "[]"
	var args []any
	if withAmount {
		inputs = `[{"name":"amount","type":"uint256"}]`
		args = []any{new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)}
	}
	abiJSON := fmt.Sprintf(`[{"inputs":%s,"name":%q,"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`, inputs, name)
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, errors.Wrapf(err, "rate method %q", method)
	}

	return &ContractRate{
		caller:   caller,
		contract: common.HexToAddress(contract),
		abi:      parsed,
		method:   name,
		args:     args,
		decimals: decimals,
	}, nil
}

func parseRateMethod(method string) (name string, withAmount bool, err error) {
	method = strings.ReplaceAll(method, " ", "")
	open := strings.Index(method, "(")
	if open < 0 {
		return method, false, validateMethodName(method)
	}
	if !strings.HasSuffix(method, ")") {
		return "", false, errors.Errorf("malformed rate method %q", method)
	}
	name = method[:open]
	switch params := method[open+1 : len(method)-1]; params {
	case "":
		return name, false, validateMethodName(name)
	case "uint256":
		return name, true, validateMethodName(name)
	default:
		return "", false, errors.Errorf("unsupported rate method parameters %q", params)
	}
}

func validateMethodName(name string) error {
	if name == "" {
		return errors.New("empty rate method")
	}
	return nil
}

// Rate calls the oracle at block.
func (r *ContractRate) Rate(ctx context.Context, block uint64) (holders.Rate, error) {
	data, err := r.abi.Pack(r.method, r.args...)
	if err != nil {
		return holders.Rate{}, errors.Wrapf(err, "pack %s", r.method)
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, new(big.Int).SetUint64(block))
	if err != nil {
		return holders.Rate{}, errors.Wrapf(err, "call %s on %s at block %d", r.method, r.contract.Hex(), block)
	}

	values, err := r.abi.Unpack(r.method, out)
	if err != nil {
		return holders.Rate{}, errors.Wrapf(err, "unpack %s", r.method)
	}
	if len(values) != 1 {
		return holders.Rate{}, errors.Errorf("%s returned %d values", r.method, len(values))
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return holders.Rate{}, errors.Errorf("%s returned %T", r.method, values[0])
	}
	return holders.Rate{Value: value, Decimals: r.decimals}, nil
}
