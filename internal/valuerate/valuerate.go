// Package valuerate implements the Value/anomaly-rate scorer (C4): the
// simplest of the three scorers, it runs a single query over the
// highlight window and registers the resulting value (or anomaly rate,
// when the request asks for the anomaly-bit dimension) directly, with no
// baseline comparison.
package valuerate

import (
	"context"
	"math"

	"github.com/baikal/weights/internal/model"
	"github.com/baikal/weights/internal/queryiface"
	"github.com/baikal/weights/internal/registry"
)

// Outcome mirrors volume.Outcome but carries no Flags: a plain value
// result has neither the BaseHighRatio nor the PercentageOfTime meaning.
type Outcome struct {
	Skip         bool
	Value        float64
	StoragePoint model.StoragePoint
	DurationUs   int64
}

// Score runs the single-query Value/anomaly-rate algorithm for one metric
// over window.
func Score(ctx context.Context, backend queryiface.Backend, host queryiface.HostDescriptor, contextID, instance, metric string, window model.Window, opts queryiface.Options, timeGroup queryiface.TimeGrouping, timeGroupOptions string, stats *registry.Stats) (Outcome, error) {
	opts |= queryiface.OptionMatchIDs | queryiface.OptionNaturalPoints

	qv, err := backend.QueryValue(ctx, queryiface.QueryValueRequest{
		Host: host, Context: contextID, Instance: instance, Metric: metric,
		Window: window, Options: opts, TimeGroup: timeGroup, TimeGroupOptions: timeGroupOptions,
	})
	if err != nil {
		return Outcome{}, err
	}
	stats.AddQuery(qv.ResultPoints, qv.DBPoints, qv.DBPointsPerTier)

	if math.IsNaN(qv.Value) || math.IsInf(qv.Value, 0) {
		return Outcome{Skip: true}, nil
	}
	return Outcome{Value: qv.Value, StoragePoint: qv.StoragePoint, DurationUs: qv.DurationUs}, nil
}
