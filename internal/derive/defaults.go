package derive

// DefaultPolicies is the family-policy map `cmd/truthledger` registers at
// startup (spec.md §4.7's example: engine-performance attributes prefer a
// vacuum-rated reading over a sea-level one). Attributes absent from this
// map fall back to DefaultPolicy inside New.
func DefaultPolicies() map[string]FamilyPolicy {
	return map[string]FamilyPolicy{
		"engines.isp_s":    PreferVacuumOverSeaLevel,
		"engines.thrust_n": PreferVacuumOverSeaLevel,
	}
}
