// Package rank implements the even-spread ranking transform (C7) and the
// four response renderers (Charts, Contexts, Multinode, MCP).
package rank

import (
	"sort"

	"github.com/baikal/weights/internal/registry"
)

// EvenSpread rewrites each result's value so the set of distinct values is
// mapped onto evenly spaced slots in (0,1], with 1.0 meaning "most
// correlated" and 1/len(unique values) meaning "least correlated". Results flagged
// PercentageOfTime are first rescaled by maxBaseHighRatio so that a
// 100%-of-time result sits at the same raw magnitude as a ratio-based
// result of the largest observed ratio — this is what makes the two
// scoring formulas comparable on the same evenly spread scale.
//
// The input slice is modified in place and also returned, matching the
// two-pass collect/rank-table/rewrite shape suggested for this transform:
// this is pass one (rescale + collect), sort.Float64s below builds the
// rank table, and the final loop is the rewrite.
func EvenSpread(results []registry.Result, maxBaseHighRatio float64) []registry.Result {
	if len(results) == 0 {
		return results
	}
	if maxBaseHighRatio == 0.0 {
		maxBaseHighRatio = 1.0
	}

	for i := range results {
		if results[i].Flags&registry.FlagPercentageOfTime != 0 {
			results[i].Value *= maxBaseHighRatio
		}
	}

	slots := make([]float64, len(results))
	for i, r := range results {
		slots[i] = r.Value
	}
	sort.Float64s(slots)

	unique := make([]float64, 0, len(slots))
	for i, v := range slots {
		if i == 0 || v != slots[i-1] {
			unique = append(unique, v)
		}
	}

	slotWeight := 1.0 / float64(len(unique))

	for i := range results {
		slot := binarySearchBiggerThanFloat(unique, results[i].Value)
		v := float64(slot) * slotWeight
		if v > 1.0 {
			v = 1.0
		}
		results[i].Value = v
	}

	return results
}

// binarySearchBiggerThanFloat returns the smallest index in a sorted slice
// whose value is strictly greater than k, the floating-point counterpart
// of ks2.binarySearchBiggerThan used for rank-slot lookup.
func binarySearchBiggerThanFloat(arr []float64, k float64) int {
	left, right := 0, len(arr)
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
