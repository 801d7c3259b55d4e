package revenue

import (
	"errors"

	"stakeledger/native/staking"
)

var (
	ErrNilState               = errors.New("revenue: state not configured")
	ErrStakingUnavailable     = errors.New("revenue: staking engine not configured")
	ErrInvalidPercentages     = errors.New("revenue: percentages must sum to 100")
	ErrNoFunds                = errors.New("revenue: no funds to distribute")
	ErrUnauthorized           = errors.New("revenue: unauthorized")
	ErrRevenueLedgerNotFound  = errors.New("revenue: revenue ledger not initialized")
	ErrTournamentIDRequired   = errors.New("revenue: tournament id required")
	ErrTournamentIDTooLong    = errors.New("revenue: tournament id exceeds 32 bytes")
	ErrTournamentExists       = errors.New("revenue: tournament already exists")
	ErrTournamentNotFound     = errors.New("revenue: tournament not found")
	ErrInvalidEntryFee        = errors.New("revenue: entry fee must be positive")
	ErrInvalidMaxParticipants = errors.New("revenue: max participants must be between 1 and 1000")
	ErrInvalidEndTime         = errors.New("revenue: end time must be in the future and within 90 days")
	ErrTournamentInactive     = errors.New("revenue: tournament not active")
	ErrTournamentEnded        = errors.New("revenue: tournament already ended")
	ErrTournamentNotEnded     = errors.New("revenue: tournament has not ended")
	ErrTournamentFull         = errors.New("revenue: tournament is full")
	ErrAlreadyRegistered      = errors.New("revenue: player already registered")
	ErrPrizePoolNotFound      = errors.New("revenue: prize pool not initialized")
	ErrAlreadyDistributed     = errors.New("revenue: prizes already distributed")
	ErrNoPrizeFunds           = errors.New("revenue: prize pool is empty")
	ErrInvalidWinners         = errors.New("revenue: three distinct winners required")
)

var (
	validationErrors = []error{
		ErrInvalidPercentages, ErrTournamentIDRequired, ErrTournamentIDTooLong, ErrInvalidEntryFee,
		ErrInvalidMaxParticipants, ErrInvalidEndTime, ErrInvalidWinners,
	}
	preconditionErrors = []error{
		ErrNoFunds, ErrUnauthorized, ErrRevenueLedgerNotFound, ErrTournamentExists, ErrTournamentNotFound,
		ErrTournamentInactive, ErrTournamentEnded, ErrTournamentNotEnded, ErrTournamentFull,
		ErrAlreadyRegistered, ErrPrizePoolNotFound, ErrAlreadyDistributed, ErrNoPrizeFunds,
	}
)

// Classify maps err onto the shared staking.ErrorKind taxonomy.
func Classify(err error) staking.ErrorKind {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return staking.KindValidation
		}
	}
	for _, target := range preconditionErrors {
		if errors.Is(err, target) {
			return staking.KindPrecondition
		}
	}
	return staking.Classify(err)
}

// IsUnauthorized reports whether err is an authorization failure from
// either engine.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, staking.ErrUnauthorized)
}
