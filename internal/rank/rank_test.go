package rank

import (
	"testing"

	"github.com/baikal/weights/internal/model"
	"github.com/baikal/weights/internal/registry"
)

func result(id string, value float64, flags registry.Flags) registry.Result {
	return registry.Result{
		Identity: model.MetricIdentity{HostID: "h", ContextID: "c", InstanceID: "i", MetricID: id},
		Value:    value,
		Flags:    flags,
	}
}

func TestEvenSpreadIsPermutation(t *testing.T) {
	results := []registry.Result{
		result("a", 0.1, 0),
		result("b", 0.9, 0),
		result("c", 0.5, 0),
	}
	spread := EvenSpread(results, 1.0)
	if len(spread) != 3 {
		t.Fatalf("EvenSpread() returned %d results, want 3", len(spread))
	}
}

func TestEvenSpreadValuesInUnitInterval(t *testing.T) {
	results := []registry.Result{
		result("a", 0.1, 0),
		result("b", 0.9, 0),
		result("c", 0.5, 0),
		result("d", 0.5, 0), // duplicate value, exercises dedup
	}
	spread := EvenSpread(results, 1.0)
	for _, r := range spread {
		if r.Value < 0.0 || r.Value > 1.0 {
			t.Errorf("EvenSpread result %v out of [0,1]", r.Value)
		}
	}
}

func TestEvenSpreadHighestRawValueRanksHighest(t *testing.T) {
	results := []registry.Result{
		result("a", 0.1, 0),
		result("b", 0.9, 0),
		result("c", 0.5, 0),
	}
	spread := EvenSpread(results, 1.0)
	var lowest, highest registry.Result
	for _, r := range spread {
		switch r.Identity.MetricID {
		case "a":
			lowest = r
		case "b":
			highest = r
		}
	}
	if highest.Value <= lowest.Value {
		t.Errorf("highest raw value (0.9) ranked %v, lower than lowest raw value (0.1) ranked %v", highest.Value, lowest.Value)
	}
}

func TestEvenSpreadRescalesPercentageOfTime(t *testing.T) {
	results := []registry.Result{
		result("ratio", 2.0, registry.FlagBaseHighRatio),
		result("pct", 1.0, registry.FlagPercentageOfTime),
	}
	// maxBaseHighRatio=2.0 means the pct result's 1.0 becomes 2.0,
	// tying it with the ratio result's raw value of 2.0.
	spread := EvenSpread(results, 2.0)
	if spread[0].Value != spread[1].Value {
		t.Errorf("expected tied ranks after PercentageOfTime rescale, got %+v", spread)
	}
}

func TestEvenSpreadEmptyInput(t *testing.T) {
	if got := EvenSpread(nil, 1.0); len(got) != 0 {
		t.Errorf("EvenSpread(nil) = %v, want empty", got)
	}
}

func TestEvenSpreadDefaultsZeroRatioToOne(t *testing.T) {
	results := []registry.Result{result("a", 1.0, 0)}
	// maxBaseHighRatio=0 should not panic or divide by zero; it defaults to 1.0.
	spread := EvenSpread(results, 0.0)
	if len(spread) != 1 {
		t.Fatalf("EvenSpread() returned %d results, want 1", len(spread))
	}
}
