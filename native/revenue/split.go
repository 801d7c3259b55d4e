package revenue

import (
	"github.com/holiman/uint256"
)

// Percentages assigns a revenue amount to the four distribution buckets.
type Percentages struct {
	Prize   uint8 `json:"prize" yaml:"prize" toml:"prize"`
	Revenue uint8 `json:"revenue" yaml:"revenue" toml:"revenue"`
	Staking uint8 `json:"staking" yaml:"staking" toml:"staking"`
	Burn    uint8 `json:"burn" yaml:"burn" toml:"burn"`
}

// DefaultPercentages mirrors the platform split: 40% prizes, 50% revenue
// share, 5% stakers and 5% burned.
var DefaultPercentages = Percentages{Prize: 40, Revenue: 50, Staking: 5, Burn: 5}

// Validate requires the buckets to sum to exactly 100.
func (p Percentages) Validate() error {
	sum := uint16(p.Prize) + uint16(p.Revenue) + uint16(p.Staking) + uint16(p.Burn)
	if sum != 100 {
		return ErrInvalidPercentages
	}
	return nil
}

// IsZero reports whether no bucket was specified.
func (p Percentages) IsZero() bool { return p == Percentages{} }

// Split is the result of dividing a revenue amount across the buckets.
type Split struct {
	Total   uint64 `json:"total"`
	Prize   uint64 `json:"prize"`
	Revenue uint64 `json:"revenue"`
	Staking uint64 `json:"staking"`
	Burn    uint64 `json:"burn"`
}

// Distributed returns the sum of the four buckets.
func (s Split) Distributed() uint64 {
	return s.Prize + s.Revenue + s.Staking + s.Burn
}

// Dust returns the floor-rounding residue left undistributed. It never
// exceeds 3.
func (s Split) Dust() uint64 {
	return s.Total - s.Distributed()
}

// SplitFunds computes floor(total*pct/100) for every bucket.
func SplitFunds(total uint64, pct Percentages) (Split, error) {
	if err := pct.Validate(); err != nil {
		return Split{}, err
	}
	return Split{
		Total:   total,
		Prize:   bucket(total, pct.Prize),
		Revenue: bucket(total, pct.Revenue),
		Staking: bucket(total, pct.Staking),
		Burn:    bucket(total, pct.Burn),
	}, nil
}

func bucket(total uint64, pct uint8) uint64 {
	v := new(uint256.Int).Mul(uint256.NewInt(total), uint256.NewInt(uint64(pct)))
	return v.Div(v, uint256.NewInt(100)).Uint64()
}
