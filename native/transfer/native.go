package transfer

import (
	"context"
	"math"
	"strings"
)

// BalanceStore persists native balances per asset and account.
type BalanceStore interface {
	Balance(asset, account string) (uint64, error)
	SetBalance(asset, account string, amount uint64) error
}

// NativeLedger moves native value between accounts held in a BalanceStore.
// It must be bound to the same transactional state as the engines using it.
type NativeLedger struct {
	store BalanceStore
}

// NewNativeLedger wraps the supplied balance store.
func NewNativeLedger(store BalanceStore) *NativeLedger {
	return &NativeLedger{store: store}
}

// Deposit debits the participant and credits the escrow.
func (l *NativeLedger) Deposit(_ context.Context, from string, to Escrow, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(from) == "" {
		return ErrInvalidAccount
	}
	return l.move(to.Asset, from, to.Account(), amount)
}

// Withdraw debits the escrow and credits the recipient. Withdrawing to
// BurnAccount removes the amount from circulation.
func (l *NativeLedger) Withdraw(_ context.Context, from Escrow, to string, amount uint64) error {
	if err := checkWithdraw(from, to, amount); err != nil {
		return err
	}
	if to == BurnAccount {
		return l.debit(from.Asset, from.Account(), amount)
	}
	return l.move(from.Asset, from.Account(), to, amount)
}

// Credit mints amount into account. Used for genesis allocations.
func (l *NativeLedger) Credit(asset, account string, amount uint64) error {
	if strings.TrimSpace(account) == "" {
		return ErrInvalidAccount
	}
	current, err := l.store.Balance(asset, account)
	if err != nil {
		return err
	}
	if amount > math.MaxUint64-current {
		return ErrInsufficientBalance
	}
	return l.store.SetBalance(asset, account, current+amount)
}

// Balance returns the stored balance for account.
func (l *NativeLedger) Balance(asset, account string) (uint64, error) {
	return l.store.Balance(asset, account)
}

func (l *NativeLedger) move(asset, from, to string, amount uint64) error {
	fromBal, err := l.store.Balance(asset, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return ErrInsufficientBalance
	}
	toBal, err := l.store.Balance(asset, to)
	if err != nil {
		return err
	}
	if amount > math.MaxUint64-toBal {
		return ErrInsufficientBalance
	}
	if err := l.store.SetBalance(asset, from, fromBal-amount); err != nil {
		return err
	}
	return l.store.SetBalance(asset, to, toBal+amount)
}

func (l *NativeLedger) debit(asset, account string, amount uint64) error {
	bal, err := l.store.Balance(asset, account)
	if err != nil {
		return err
	}
	if bal < amount {
		return ErrInsufficientBalance
	}
	return l.store.SetBalance(asset, account, bal-amount)
}
