package domain

import "fmt"

// Tier represents a progressive cache level. Tiers are strictly ordered:
// each tier contains everything the previous one does plus one more layer
// of scraped data.
type Tier int

const (
	TierNone Tier = iota
	TierClassification
	TierProducts
	TierSpecifications
)

var tierNames = map[Tier]string{
	TierNone:           "none",
	TierClassification: "classification",
	TierProducts:       "products",
	TierSpecifications: "specifications",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// Next returns the tier directly above t. The ladder stops at
// TierSpecifications.
func (t Tier) Next() Tier {
	if t >= TierSpecifications {
		return TierSpecifications
	}
	return t + 1
}

// ParseTier converts a tier name (as used in config and CLI flags) to a Tier.
func ParseTier(s string) (Tier, error) {
	for t, name := range tierNames {
		if name == s {
			return t, nil
		}
	}
	return TierNone, fmt.Errorf("unknown tier %q", s)
}
