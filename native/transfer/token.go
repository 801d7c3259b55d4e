package transfer

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenClient captures the functionality the ledger requires from the token
// contract gateway.
type TokenClient interface {
	Transfer(ctx context.Context, token common.Address, from, to string, amount *big.Int) (string, error)
	Burn(ctx context.Context, token common.Address, from string, amount *big.Int) (string, error)
}

// FuncClient adapts callback functions to the TokenClient interface.
type FuncClient struct {
	TransferFunc func(ctx context.Context, token common.Address, from, to string, amount *big.Int) (string, error)
	BurnFunc     func(ctx context.Context, token common.Address, from string, amount *big.Int) (string, error)
}

// Transfer delegates to the configured callback.
func (c FuncClient) Transfer(ctx context.Context, token common.Address, from, to string, amount *big.Int) (string, error) {
	if c.TransferFunc == nil {
		return "", fmt.Errorf("token client not configured")
	}
	return c.TransferFunc(ctx, token, from, to, amount)
}

// Burn delegates to the configured callback.
func (c FuncClient) Burn(ctx context.Context, token common.Address, from string, amount *big.Int) (string, error) {
	if c.BurnFunc == nil {
		return "", fmt.Errorf("token client not configured")
	}
	return c.BurnFunc(ctx, token, from, amount)
}

// TokenLedger moves fungible tokens through a TokenClient.
type TokenLedger struct {
	client TokenClient
}

// NewTokenLedger wraps the supplied client.
func NewTokenLedger(client TokenClient) *TokenLedger {
	return &TokenLedger{client: client}
}

// ParseTokenAddress validates a token contract address.
func ParseTokenAddress(asset string) (common.Address, error) {
	trimmed := strings.TrimSpace(asset)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %q is not a token contract address", ErrInvalidAsset, asset)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero token address", ErrInvalidAsset)
	}
	return addr, nil
}

// Deposit pulls tokens from the participant into the escrow.
func (l *TokenLedger) Deposit(ctx context.Context, from string, to Escrow, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(from) == "" {
		return ErrInvalidAccount
	}
	token, err := ParseTokenAddress(to.Asset)
	if err != nil {
		return err
	}
	if _, err := l.client.Transfer(ctx, token, from, to.Account(), new(big.Int).SetUint64(amount)); err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	return nil
}

// Withdraw releases tokens from the escrow, burning them when addressed to
// BurnAccount.
func (l *TokenLedger) Withdraw(ctx context.Context, from Escrow, to string, amount uint64) error {
	if err := checkWithdraw(from, to, amount); err != nil {
		return err
	}
	token, err := ParseTokenAddress(from.Asset)
	if err != nil {
		return err
	}
	value := new(big.Int).SetUint64(amount)
	if to == BurnAccount {
		_, err = l.client.Burn(ctx, token, from.Account(), value)
	} else {
		_, err = l.client.Transfer(ctx, token, from.Account(), to, value)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	return nil
}
