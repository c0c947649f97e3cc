package source

//go:generate go tool go-enum --names

// Tier is where chapter payload comes from, in order of preference.
// ENUM(cached, inflight, premerged, merged, raw)
type Tier int

// Next returns tier to fall back to, ok is false for the last resort tier.
func (t Tier) Next() (next Tier, ok bool) {
	if t >= TierRaw || !t.IsValid() {
		return TierRaw, false
	}
	return t + 1, true
}
