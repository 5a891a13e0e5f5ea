// Package volume implements the Volume/countif scorer (C3): it compares a
// metric's average value between the baseline and highlight windows, then
// asks the backend what fraction of the highlight window spent above (or
// below) the baseline average, folding the two into a single score.
package volume

import (
	"context"
	"fmt"
	"math"

	"github.com/baikal/weights/internal/model"
	"github.com/baikal/weights/internal/queryiface"
	"github.com/baikal/weights/internal/registry"
)

// Outcome is the scorer's result: a value plus the flag describing which
// formula produced it, or Skip=true when no usable signal exists for this
// metric (the registry call should be omitted entirely, not registered as
// zero).
type Outcome struct {
	Skip        bool
	Value       float64
	Flags       registry.Flags
	Highlighted model.StoragePoint
	Baseline    model.StoragePoint
	DurationUs  int64
}

// Score runs the three-query Volume/countif algorithm for one metric:
// baseline average, highlight average, and (when the two differ) a
// highlight countif query asking what fraction of highlight samples are
// on the "more extreme" side of the baseline average.
func Score(ctx context.Context, backend queryiface.Backend, host queryiface.HostDescriptor, contextID, instance, metric string, baselineWindow, highlightWindow model.Window, opts queryiface.Options, timeGroup queryiface.TimeGrouping, timeGroupOptions string, stats *registry.Stats) (Outcome, error) {
	opts |= queryiface.OptionMatchIDs | queryiface.OptionAbsolute | queryiface.OptionNaturalPoints

	baselineAvg, err := backend.QueryValue(ctx, queryiface.QueryValueRequest{
		Host: host, Context: contextID, Instance: instance, Metric: metric,
		Window: baselineWindow, Options: opts, TimeGroup: timeGroup, TimeGroupOptions: timeGroupOptions,
	})
	if err != nil {
		return Outcome{}, err
	}
	stats.AddQuery(baselineAvg.ResultPoints, baselineAvg.DBPoints, baselineAvg.DBPointsPerTier)

	baselineValue := baselineAvg.Value
	if math.IsNaN(baselineValue) || math.IsInf(baselineValue, 0) {
		// no data in the baseline window: assume zero and keep going, the
		// highlight window may still carry a usable signal.
		baselineValue = 0.0
	}

	highlightAvg, err := backend.QueryValue(ctx, queryiface.QueryValueRequest{
		Host: host, Context: contextID, Instance: instance, Metric: metric,
		Window: highlightWindow, Options: opts, TimeGroup: timeGroup, TimeGroupOptions: timeGroupOptions,
	})
	if err != nil {
		return Outcome{}, err
	}
	stats.AddQuery(highlightAvg.ResultPoints, highlightAvg.DBPoints, highlightAvg.DBPointsPerTier)

	if math.IsNaN(highlightAvg.Value) || math.IsInf(highlightAvg.Value, 0) {
		return Outcome{Skip: true}, nil
	}

	if highlightAvg.Value == baselineValue {
		return Outcome{Skip: true}, nil
	}

	if opts.Has(queryiface.OptionAnomalyBit) && highlightAvg.Value < baselineValue {
		// looking for an anomaly-rate increase only, a decrease is not interesting.
		return Outcome{Skip: true}, nil
	}

	comparator := ">"
	if highlightAvg.Value < baselineValue {
		comparator = "<"
	}
	countifOptions := fmt.Sprintf("%s%v", comparator, baselineValue)

	highlightCountif, err := backend.QueryValue(ctx, queryiface.QueryValueRequest{
		Host: host, Context: contextID, Instance: instance, Metric: metric,
		Window: highlightWindow, Options: opts, TimeGroup: queryiface.GroupCountif, TimeGroupOptions: countifOptions,
	})
	if err != nil {
		return Outcome{}, err
	}
	stats.AddQuery(highlightCountif.ResultPoints, highlightCountif.DBPoints, highlightCountif.DBPointsPerTier)

	if math.IsNaN(highlightCountif.Value) || math.IsInf(highlightCountif.Value, 0) {
		return Outcome{Skip: true}, nil
	}

	// countif reports a percentage in [0,100]; the scorer works in [0,1].
	countifFraction := highlightCountif.Value / 100.0

	var flags registry.Flags
	var pcent float64
	if baselineValue > 0.0 || baselineValue < 0.0 {
		flags = registry.FlagBaseHighRatio
		pcent = (highlightAvg.Value - baselineValue) / baselineValue * countifFraction
	} else {
		flags = registry.FlagPercentageOfTime
		pcent = countifFraction
	}

	return Outcome{
		Value:       pcent,
		Flags:       flags,
		Highlighted: highlightAvg.StoragePoint,
		Baseline:    baselineAvg.StoragePoint,
		DurationUs:  baselineAvg.DurationUs + highlightAvg.DurationUs + highlightCountif.DurationUs,
	}, nil
}
