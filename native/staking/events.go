package staking

import (
	"strconv"

	"github.com/holiman/uint256"

	"stakeledger/core/events"
)

const (
	EventTypePoolInitialized   = "staking.pool.initialized"
	EventTypeLedgerInitialized = "staking.reward_ledger.initialized"
	EventTypeLedgerFunded      = "staking.reward_ledger.funded"
	EventTypeStaked            = "staking.staked"
	EventTypeUnstaked          = "staking.unstaked"
	EventTypeAccrued           = "staking.accrued"
	EventTypeClaimed           = "staking.claimed"
	EventTypeRewardsInjected   = "staking.rewards.injected"
)

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func poolEvent(typ string, id PoolID, attrs map[string]string) events.Record {
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrs["admin"] = id.Admin
	attrs["asset"] = id.Asset
	return events.Record{Type: typ, Attributes: attrs}
}

// StakedEvent describes a successful stake.
func StakedEvent(pos *Position, amount uint64, addedWeight *uint256.Int) events.Record {
	return poolEvent(EventTypeStaked, pos.Pool, map[string]string{
		"owner":        pos.Owner,
		"amount":       u64(amount),
		"addedWeight":  dec(addedWeight),
		"weight":       dec(pos.Weight),
		"lockDuration": strconv.FormatUint(uint64(pos.LockDuration), 10),
	})
}

// UnstakedEvent describes a full withdrawal.
func UnstakedEvent(pos *Position, amount uint64) events.Record {
	return poolEvent(EventTypeUnstaked, pos.Pool, map[string]string{
		"owner":   pos.Owner,
		"amount":  u64(amount),
		"pending": u64(pos.PendingRewards),
	})
}

// AccruedEvent describes a reward checkpoint.
func AccruedEvent(pos *Position, settled uint64) events.Record {
	return poolEvent(EventTypeAccrued, pos.Pool, map[string]string{
		"owner":   pos.Owner,
		"settled": u64(settled),
		"pending": u64(pos.PendingRewards),
	})
}

// ClaimedEvent describes a reward payout.
func ClaimedEvent(pos *Position, amount uint64) events.Record {
	return poolEvent(EventTypeClaimed, pos.Pool, map[string]string{
		"owner":  pos.Owner,
		"amount": u64(amount),
	})
}

// RewardsInjectedEvent describes an accumulator update.
func RewardsInjectedEvent(id PoolID, inj Injection) events.Record {
	return poolEvent(EventTypeRewardsInjected, id, map[string]string{
		"amount":      u64(inj.Amount),
		"delta":       dec(inj.Delta),
		"accumulator": dec(inj.Accumulator),
		"remainder":   u64(inj.Remainder),
		"stranded":    strconv.FormatBool(inj.Stranded),
		"epoch":       u64(inj.Epoch),
	})
}
