package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AssetKind tags which custody path moves a pool's asset.
type AssetKind string

const (
	// KindNative moves the chain's native asset through the in-process balance book.
	KindNative AssetKind = "native"
	// KindToken moves a fungible token through an external token client.
	KindToken AssetKind = "token"
)

// VaultKind identifies the purpose of an escrow account.
type VaultKind string

const (
	VaultStake      VaultKind = "stake"
	VaultReward     VaultKind = "reward"
	VaultRevenue    VaultKind = "revenue"
	VaultPrize      VaultKind = "prize"
	VaultTournament VaultKind = "tournament"
	VaultIntake     VaultKind = "intake"
)

// BurnAccount is the sink account; withdrawing to it destroys the funds.
const BurnAccount = "burn"

var (
	ErrInvalidAmount       = errors.New("transfer: amount must be positive")
	ErrInvalidAccount      = errors.New("transfer: account required")
	ErrInvalidAsset        = errors.New("transfer: invalid asset")
	ErrUnsupportedKind     = errors.New("transfer: unsupported asset kind")
	ErrInsufficientBalance = errors.New("transfer: insufficient balance")
	ErrFailed              = errors.New("transfer: external transfer failed")
)

// ParseAssetKind normalises a textual asset kind.
func ParseAssetKind(raw string) (AssetKind, error) {
	switch AssetKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindNative, "":
		return KindNative, nil
	case KindToken:
		return KindToken, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, raw)
	}
}

// Escrow names a custody account owned by the ledger. Only the engines
// release escrowed funds, after they have authorised the caller, so a
// withdrawal carries no separate authority.
type Escrow struct {
	Asset string
	Kind  AssetKind
	Vault VaultKind
	Owner string
}

// Account returns the ledger account identifier backing the escrow.
func (e Escrow) Account() string {
	return "escrow:" + string(e.Vault) + ":" + e.Owner
}

// Transfer moves value between participants and ledger escrows. Each call
// either moves the full amount or nothing.
type Transfer interface {
	Deposit(ctx context.Context, from string, to Escrow, amount uint64) error
	Withdraw(ctx context.Context, from Escrow, to string, amount uint64) error
}

// Resolver selects the transfer implementation for an asset kind.
type Resolver interface {
	For(kind AssetKind) (Transfer, error)
}

// Router dispatches to the native or token implementation.
type Router struct {
	native Transfer
	token  Transfer
}

// NewRouter constructs a router. Either implementation may be nil when the
// deployment does not support that asset kind.
func NewRouter(native, token Transfer) *Router {
	return &Router{native: native, token: token}
}

// For implements Resolver.
func (r *Router) For(kind AssetKind) (Transfer, error) {
	if r == nil {
		return nil, ErrUnsupportedKind
	}
	switch kind {
	case KindNative:
		if r.native != nil {
			return r.native, nil
		}
	case KindToken:
		if r.token != nil {
			return r.token, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
}

func checkWithdraw(from Escrow, to string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(to) == "" {
		return ErrInvalidAccount
	}
	if from.Vault == "" || strings.TrimSpace(from.Owner) == "" {
		return ErrInvalidAccount
	}
	return nil
}
