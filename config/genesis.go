package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"stakeledger/native/revenue"
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
)

// Genesis seeds pools and native balances at startup.
type Genesis struct {
	Balances []GenesisBalance `toml:"Balances"`
	Pools    []GenesisPool    `toml:"Pools"`
}

// GenesisBalance allocates native funds to an account.
type GenesisBalance struct {
	Asset   string `toml:"Asset"`
	Account string `toml:"Account"`
	Amount  uint64 `toml:"Amount"`
}

// GenesisPool describes a pool to initialise. RewardFunding is deposited
// from the admin into the reward escrow.
type GenesisPool struct {
	Admin         string `toml:"Admin"`
	Asset         string `toml:"Asset"`
	Kind          string `toml:"Kind"`
	RewardFunding uint64 `toml:"RewardFunding"`
}

// ID returns the pool identifier.
func (p GenesisPool) ID() staking.PoolID {
	return staking.PoolID{Admin: strings.TrimSpace(p.Admin), Asset: strings.TrimSpace(p.Asset)}
}

// LoadGenesis decodes and validates a TOML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	g := &Genesis{}
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis %s: unknown field %s", path, undecoded[0])
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return g, nil
}

// Validate checks the genesis for malformed or duplicate entries.
func (g *Genesis) Validate() error {
	pools := make(map[string]struct{}, len(g.Pools))
	for i, p := range g.Pools {
		id := p.ID()
		if err := id.Validate(); err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
		if _, err := transfer.ParseAssetKind(p.Kind); err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
		if _, dup := pools[id.Key()]; dup {
			return fmt.Errorf("pool %d: duplicate pool %s", i, id.Key())
		}
		pools[id.Key()] = struct{}{}
	}
	balances := make(map[string]struct{}, len(g.Balances))
	for i, b := range g.Balances {
		if strings.TrimSpace(b.Asset) == "" || strings.TrimSpace(b.Account) == "" {
			return fmt.Errorf("balance %d: asset and account required", i)
		}
		key := b.Asset + "|" + b.Account
		if _, dup := balances[key]; dup {
			return fmt.Errorf("balance %d: duplicate allocation for %s", i, key)
		}
		balances[key] = struct{}{}
	}
	return nil
}

// GenesisMarkers records which genesis entries have been applied.
type GenesisMarkers interface {
	GenesisApplied(entry string) (bool, error)
	MarkGenesisApplied(entry string) error
}

// GenesisLedger bundles the engines genesis is applied through.
type GenesisLedger struct {
	Staking *staking.Engine
	Revenue *revenue.Engine
	Native  *transfer.NativeLedger
	Markers GenesisMarkers
}

func balanceEntry(b GenesisBalance) string {
	return "balance/" + strings.TrimSpace(b.Asset) + "|" + strings.TrimSpace(b.Account)
}

func poolEntry(id staking.PoolID) string { return "pool/" + id.Key() }

// Apply seeds the ledger. Each allocation and each pool's reward funding is
// applied at most once; the marker is written in the same transaction.
// Pools that already exist keep their state and only gain missing ledgers.
func (g *Genesis) Apply(ctx context.Context, l GenesisLedger) error {
	if l.Markers == nil {
		return errors.New("genesis: marker store required")
	}
	for _, b := range g.Balances {
		entry := balanceEntry(b)
		applied, err := l.Markers.GenesisApplied(entry)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if b.Amount > 0 {
			if err := l.Native.Credit(b.Asset, b.Account, b.Amount); err != nil {
				return fmt.Errorf("genesis balance %s: %w", b.Account, err)
			}
		}
		if err := l.Markers.MarkGenesisApplied(entry); err != nil {
			return err
		}
	}
	for _, p := range g.Pools {
		if err := g.applyPool(ctx, l, p); err != nil {
			return fmt.Errorf("genesis pool %s: %w", p.ID().Key(), err)
		}
	}
	return nil
}

func (g *Genesis) applyPool(ctx context.Context, l GenesisLedger, p GenesisPool) error {
	id := p.ID()
	kind, err := transfer.ParseAssetKind(p.Kind)
	if err != nil {
		return err
	}
	existing, err := l.Staking.Pool(id)
	switch {
	case errors.Is(err, staking.ErrPoolNotFound):
		if _, err := l.Staking.InitializePool(id.Admin, id, kind); err != nil {
			return err
		}
	case err != nil:
		return err
	case existing.Kind != kind:
		return fmt.Errorf("stored kind %s does not match %s", existing.Kind, kind)
	}
	if _, err := l.Staking.InitializeRewardLedger(id.Admin, id); err != nil {
		return err
	}
	if _, err := l.Revenue.InitializeRevenueLedger(id.Admin, id); err != nil {
		return err
	}
	entry := poolEntry(id)
	applied, err := l.Markers.GenesisApplied(entry)
	if err != nil || applied {
		return err
	}
	if p.RewardFunding > 0 {
		if _, err := l.Staking.FundRewardLedger(ctx, id.Admin, id, p.RewardFunding); err != nil {
			return fmt.Errorf("funding: %w", err)
		}
	}
	return l.Markers.MarkGenesisApplied(entry)
}
