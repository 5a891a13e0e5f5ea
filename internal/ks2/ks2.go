// Package ks2 implements the pair-differences two-sample Kolmogorov-Smirnov
// scorer (C2): instead of comparing the baseline and highlight series
// directly, it compares the distributions of their consecutive-point
// differences, which makes the score sensitive to a metric's behavior
// *changing* rather than to its absolute level.
package ks2

import (
	"math"
	"sort"

	"github.com/baikal/weights/internal/kstable"
)

// doubleToIntMultiplier scales floating-point differences to integers
// before sorting, so the joint traversal below can use exact integer
// comparisons instead of repeating floating-point comparisons in the
// binary search hot loop.
const doubleToIntMultiplier = 100000

// pairDiffs returns the size-1 slice of consecutive differences
// (arr[i]-arr[i+1])*doubleToIntMultiplier, walking the series backward the
// same way the original scorer does so rounding behaves identically.
func pairDiffs(series []float64) []int64 {
	if len(series) < 2 {
		return nil
	}
	diffs := make([]int64, 0, len(series)-1)
	for i := len(series) - 1; i > 0; i-- {
		second := series[i]
		first := series[i-1]
		diffs = append(diffs, int64((first-second)*doubleToIntMultiplier))
	}
	return diffs
}

// binarySearchBiggerThan returns the smallest index in arr[left:size] whose
// value is strictly greater than k; arr must already be sorted ascending.
func binarySearchBiggerThan(arr []int64, left, size int, k int64) int {
	right := size
	for left < right {
		middle := int(uint(left+right) >> 1)
		if arr[middle] > k {
			right = middle
		} else {
			left = middle + 1
		}
	}
	return left
}

// ks2Samp runs the joint binary-search traversal over the two sorted
// difference arrays, finding the maximum absolute deviation between their
// empirical CDFs (scaled so the baseline/highlight index spaces are
// comparable via baseShifts), then converts that deviation into a
// KS2 p-value via the kstable oracle.
func ks2Samp(baselineDiffs, highlightDiffs []int64, baseShifts uint32) float64 {
	sort.Slice(baselineDiffs, func(i, j int) bool { return baselineDiffs[i] < baselineDiffs[j] })
	sort.Slice(highlightDiffs, func(i, j int) bool { return highlightDiffs[i] < highlightDiffs[j] })

	baseSize := len(baselineDiffs)
	highSize := len(highlightDiffs)

	k := baselineDiffs[0]
	baseIdx := binarySearchBiggerThan(baselineDiffs, 1, baseSize, k)
	highIdx := binarySearchBiggerThan(highlightDiffs, 0, highSize, k)
	delta := baseIdx - (highIdx << baseShifts)
	min, max := delta, delta
	baseMinIdx, baseMaxIdx := baseIdx, baseIdx
	highMinIdx, highMaxIdx := highIdx, highIdx

	for i := 1; i < baseSize; i++ {
		k = baselineDiffs[i]
		baseIdx = binarySearchBiggerThan(baselineDiffs, i+1, baseSize, k)
		highIdx = binarySearchBiggerThan(highlightDiffs, 0, highSize, k)

		delta = baseIdx - (highIdx << baseShifts)
		if delta < min {
			min = delta
			baseMinIdx, highMinIdx = baseIdx, highIdx
		} else if delta > max {
			max = delta
			baseMaxIdx, highMaxIdx = baseIdx, highIdx
		}
	}

	for i := 0; i < highSize; i++ {
		k = highlightDiffs[i]
		baseIdx = binarySearchBiggerThan(baselineDiffs, 0, baseSize, k)
		highIdx = binarySearchBiggerThan(highlightDiffs, i+1, highSize, k)

		delta = baseIdx - (highIdx << baseShifts)
		if delta < min {
			min = delta
			baseMinIdx, highMinIdx = baseIdx, highIdx
		} else if delta > max {
			max = delta
			baseMaxIdx, highMaxIdx = baseIdx, highIdx
		}
	}

	dBaseSize := float64(baseSize)
	dHighSize := float64(highSize)
	dmin := (float64(baseMinIdx)/dBaseSize - float64(highMinIdx)/dHighSize)
	dmax := float64(baseMaxIdx)/dBaseSize - float64(highMaxIdx)/dHighSize

	dmin = -dmin
	switch {
	case dmin <= 0.0:
		dmin = 0.0
	case dmin >= 1.0:
		dmin = 1.0
	}

	d := dmax
	if dmin >= dmax {
		d = dmin
	}

	en := math.Round(dBaseSize * dHighSize / (dBaseSize + dHighSize))
	if math.IsNaN(en) || math.IsInf(en, 0) || en == 0.0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return math.NaN()
	}

	return kstable.KSfbar(int(en), d)
}

// Score computes the KS2 p-value-style score between a baseline and a
// highlight series, where baseShifts is the power-of-two multiplier
// aligning the baseline window's point count to the highlight window's
// (see model.AlignBaseline). Lower scores mean the two series' point-to-
// point behavior diverges more; NaN is returned when either series is too
// short to form a single difference pair.
func Score(baseline, highlight []float64, baseShifts uint32) float64 {
	baselineDiffs := pairDiffs(baseline)
	highlightDiffs := pairDiffs(highlight)

	if len(baselineDiffs) == 0 || len(highlightDiffs) == 0 {
		return math.NaN()
	}

	return ks2Samp(baselineDiffs, highlightDiffs, baseShifts)
}
