package hash

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSummaryProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234) // For reproducible results
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("fingerprint is always Length lowercase hex characters", prop.ForAll(
		func(name string, rate float64, width int) bool {
			h, err := Summary(map[string]interface{}{
				"name": name, "rate": rate, "width": width,
			})
			if err != nil || len(h) != Length {
				return false
			}
			for _, c := range h {
				if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
		gen.Float64(),
		gen.Int(),
	))

	properties.Property("identical summaries always fingerprint identically", prop.ForAll(
		func(name string, rate float64) bool {
			summary := map[string]interface{}{"name": name, "rate": rate}
			first, err1 := Summary(summary)
			second, err2 := Summary(summary)
			return err1 == nil && err2 == nil && first == second
		},
		gen.AnyString(),
		gen.Float64(),
	))

	properties.Property("changing the name changes the fingerprint", prop.ForAll(
		func(name string, suffix string) bool {
			if suffix == "" {
				return true // Skip: same summary
			}
			first, err1 := Summary(map[string]interface{}{"name": name})
			second, err2 := Summary(map[string]interface{}{"name": name + suffix})
			return err1 == nil && err2 == nil && first != second
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
