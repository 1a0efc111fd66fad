package blockchain

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"}
]`

var parsedERC20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// TokenDecimals reads decimals() of token. It is a metadata lookup and
// falls back to the configured value instead of failing.
func TokenDecimals(ctx context.Context, caller ContractCaller, token string, fallback uint8) uint8 {
	var decimals uint8
	if err := callView(ctx, caller, token, "decimals", &decimals); err != nil {
		slog.Warn("Token decimals lookup failed, using fallback",
			"token", token,
			"fallback_decimals", fallback,
			"error", err)
		return fallback
	}
	return decimals
}

// TokenSymbol reads symbol() of token, or returns fallback.
func TokenSymbol(ctx context.Context, caller ContractCaller, token, fallback string) string {
	var symbol string
	if err := callView(ctx, caller, token, "symbol", &symbol); err != nil {
		slog.Warn("Token symbol lookup failed, using fallback", "token", token, "fallback", fallback, "error", err)
		return fallback
	}
	return symbol
}

func callView(ctx context.Context, caller ContractCaller, token, method string, out any) error {
	data, err := parsedERC20.Pack(method)
	if err != nil {
		return err
	}
	addr := common.HexToAddress(token)
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return err
	}
	return parsedERC20.UnpackIntoInterface(out, method, raw)
}

// HumanBalance converts raw balance to human-readable decimal string
func HumanBalance(rawBalance *big.Int, decimals uint8) string {
	if rawBalance == nil || rawBalance.Sign() == 0 {
		return "0"
	}
	return decimal.NewFromBigInt(rawBalance, -int32(decimals)).String()
}
