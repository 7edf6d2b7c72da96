package extract

import (
	"regexp"

	"github.com/truthledger/ledger/internal/model"
)

// DefaultPatterns is the pattern set `cmd/truthledger` registers at
// startup. spec.md §4.5 treats the pattern list as user-editable
// configuration with no persistence format of its own; this module keeps
// that configuration as code rather than inventing an admin table no part
// of the spec calls for, matching the snapshot-per-run rule (spec.md §5:
// a pattern edit only takes effect for jobs started after a process
// restart picks it up).
func DefaultPatterns() []ExtractorPattern {
	return []ExtractorPattern{
		{
			Name:          "isp-vacuum-seconds",
			AttributeName: "engines.isp_s",
			ValueType:     model.ValueNumber,
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)specific impulse of (?P<value>[\d.]+)\s*(?P<unit>seconds|s)\b`),
			},
			TargetUnit:  "s",
			UnitAliases: map[string]float64{"seconds": 1, "s": 1},
			Priority:    10,
			Confidence:  0.9,
			Active:      true,
		},
		{
			Name:          "thrust-newtons",
			AttributeName: "engines.thrust_n",
			ValueType:     model.ValueNumber,
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)thrust of (?P<value>[\d,.]+)\s*(?P<unit>kn|kilonewtons|n|newtons|lbf|pounds-force)\b`),
			},
			TargetUnit: "N",
			UnitAliases: map[string]float64{
				"n": 1, "newtons": 1,
				"kn": 1000, "kilonewtons": 1000,
				"lbf": 4.4482216, "pounds-force": 4.4482216,
			},
			Priority:   10,
			Confidence: 0.85,
			Active:     true,
		},
		{
			Name:               "engine-reusable",
			AttributeName:      "engines.reusable",
			RequiredEntityType: "engine",
			ValueType:          model.ValueBoolean,
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(is|fully)\s+reusable\b`),
			},
			BoolValue:  true,
			Priority:   5,
			Confidence: 0.7,
			Active:     true,
		},
		{
			Name:               "engine-cycle-staged-combustion",
			AttributeName:      "engines.cycle",
			RequiredEntityType: "engine",
			ValueType:          model.ValueEnum,
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)staged combustion cycle`),
			},
			EnumValue:  "staged_combustion",
			Priority:   8,
			Confidence: 0.8,
			Active:     true,
		},
		{
			Name:               "engine-cycle-gas-generator",
			AttributeName:      "engines.cycle",
			RequiredEntityType: "engine",
			ValueType:          model.ValueEnum,
			Regexes: []*regexp.Regexp{
				regexp.MustCompile(`(?i)gas generator cycle`),
			},
			EnumValue:  "gas_generator",
			Priority:   8,
			Confidence: 0.8,
			Active:     true,
		},
	}
}
