package staking

import (
	"errors"

	"stakeledger/native/accumulator"
	"stakeledger/native/transfer"
)

var (
	ErrNilState                  = errors.New("staking: state not configured")
	ErrTransferUnavailable       = errors.New("staking: transfer resolver not configured")
	ErrInvalidPool               = errors.New("staking: pool admin and asset required")
	ErrInvalidOwner              = errors.New("staking: owner required")
	ErrInvalidAmount             = errors.New("staking: amount must be positive")
	ErrInvalidLockDuration       = errors.New("staking: invalid lock duration")
	ErrPoolNotFound              = errors.New("staking: pool not initialized")
	ErrRewardLedgerNotFound      = errors.New("staking: reward ledger not initialized")
	ErrAlreadyInitialized        = errors.New("staking: pool already initialized")
	ErrUnauthorized              = errors.New("staking: unauthorized")
	ErrInsufficientStakedBalance = errors.New("staking: insufficient staked balance")
	ErrNothingToClaim            = errors.New("staking: nothing to claim")
	ErrInsufficientPoolFunds     = errors.New("staking: insufficient reward pool funds")
	ErrUnstakeLocked             = errors.New("staking: stake is still locked")

	// ErrMathOverflow aliases the accumulator overflow so callers can match
	// either package.
	ErrMathOverflow = accumulator.ErrOverflow
)

// ErrorKind groups errors by who must act on them.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindValidation   ErrorKind = "validation"
	KindPrecondition ErrorKind = "precondition"
	KindArithmetic   ErrorKind = "arithmetic"
	KindTransfer     ErrorKind = "transfer"
	KindInternal     ErrorKind = "internal"
)

var (
	validationErrors = []error{
		ErrInvalidPool, ErrInvalidOwner, ErrInvalidAmount, ErrInvalidLockDuration,
		transfer.ErrInvalidAmount, transfer.ErrInvalidAccount, transfer.ErrInvalidAsset, transfer.ErrUnsupportedKind,
	}
	preconditionErrors = []error{
		ErrPoolNotFound, ErrRewardLedgerNotFound, ErrAlreadyInitialized, ErrUnauthorized,
		ErrInsufficientStakedBalance, ErrNothingToClaim, ErrInsufficientPoolFunds, ErrUnstakeLocked,
	}
	transferErrors = []error{
		transfer.ErrFailed, transfer.ErrInsufficientBalance,
	}
)

// Classify maps err onto its ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, accumulator.ErrOverflow) {
		return KindArithmetic
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return KindValidation
		}
	}
	for _, target := range preconditionErrors {
		if errors.Is(err, target) {
			return KindPrecondition
		}
	}
	for _, target := range transferErrors {
		if errors.Is(err, target) {
			return KindTransfer
		}
	}
	return KindInternal
}
