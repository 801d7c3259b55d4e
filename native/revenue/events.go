package revenue

import (
	"strconv"
	"strings"

	"stakeledger/core/events"
	"stakeledger/native/staking"
)

const (
	EventTypeLedgerInitialized    = "revenue.ledger.initialized"
	EventTypeDistributed          = "revenue.distributed"
	EventTypeTournamentCreated    = "revenue.tournament.created"
	EventTypeRegistered           = "revenue.tournament.registered"
	EventTypePrizePoolInitialized = "revenue.prize_pool.initialized"
	EventTypePrizesDistributed    = "revenue.prizes.distributed"
)

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func poolRecord(typ string, id staking.PoolID, attrs map[string]string) events.Record {
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrs["admin"] = id.Admin
	attrs["asset"] = id.Asset
	return events.Record{Type: typ, Attributes: attrs}
}

// LedgerInitializedEvent describes a new revenue-share ledger.
func LedgerInitializedEvent(id staking.PoolID) events.Record {
	return poolRecord(EventTypeLedgerInitialized, id, nil)
}

// DistributedEvent describes a completed revenue distribution.
func DistributedEvent(d *Distribution) events.Record {
	return poolRecord(EventTypeDistributed, d.Pool, map[string]string{
		"source":   d.Source,
		"total":    u64(d.Split.Total),
		"prize":    u64(d.Split.Prize),
		"revenue":  u64(d.Split.Revenue),
		"staking":  u64(d.Split.Staking),
		"burn":     u64(d.Split.Burn),
		"dust":     u64(d.Dust),
		"stranded": strconv.FormatBool(d.Injection.Stranded),
		"epoch":    u64(d.Injection.Epoch),
	})
}

// TournamentCreatedEvent describes a newly opened tournament.
func TournamentCreatedEvent(t *Tournament) events.Record {
	return poolRecord(EventTypeTournamentCreated, t.Pool, map[string]string{
		"tournament":      t.ID,
		"entryFee":        u64(t.EntryFee),
		"maxParticipants": u64(uint64(t.MaxParticipants)),
		"endTime":         strconv.FormatInt(t.EndTime, 10),
	})
}

// RegisteredEvent describes a paid tournament registration.
func RegisteredEvent(t *Tournament, player string) events.Record {
	return poolRecord(EventTypeRegistered, t.Pool, map[string]string{
		"tournament":   t.ID,
		"player":       player,
		"participants": u64(uint64(t.Participants)),
		"totalFunds":   u64(t.TotalFunds),
	})
}

// PrizePoolInitializedEvent describes a new prize pool.
func PrizePoolInitializedEvent(t *Tournament) events.Record {
	return poolRecord(EventTypePrizePoolInitialized, t.Pool, map[string]string{"tournament": t.ID})
}

// PrizesDistributedEvent describes a prize payout.
func PrizesDistributedEvent(t *Tournament, p *PrizePool) events.Record {
	payouts := make([]string, len(p.Payouts))
	for i, v := range p.Payouts {
		payouts[i] = u64(v)
	}
	return poolRecord(EventTypePrizesDistributed, t.Pool, map[string]string{
		"tournament": t.ID,
		"winners":    strings.Join(p.Winners, ","),
		"payouts":    strings.Join(payouts, ","),
	})
}
