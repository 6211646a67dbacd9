// Package commission resolves transfer fees from a threshold-tiered schedule.
package commission

// Money represents a monetary value in whole currency units.
type Money = int64

// Tier is one bracket of a fee schedule. The tier applies to amounts at or
// above its threshold, up to the next higher threshold.
type Tier struct {
	Threshold Money `json:"threshold"`
	Fee       Money `json:"fee"`
}

// Resolve returns the fee for amount under the given schedule: the fee of the
// qualifying tier with the highest threshold not exceeding amount. Amounts
// below every threshold, and empty schedules, resolve to zero. When two tiers
// share a threshold the first one encountered wins.
func Resolve(amount Money, tiers []Tier) Money {
	var (
		best    Money
		bestFee Money
		found   bool
	)
	for _, tier := range tiers {
		if tier.Threshold > amount {
			continue
		}
		if !found || tier.Threshold > best {
			best = tier.Threshold
			bestFee = tier.Fee
			found = true
		}
	}
	if !found {
		return 0
	}
	return bestFee
}
