package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

type columnStats struct {
	n                           int
	min, max, avg, median, sdev float64
}

func computeStats(values []float64) columnStats {
	n := len(values)
	if n == 0 {
		return columnStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(n)

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2.0
	}

	// Population standard deviation
	var variance float64
	for _, v := range values {
		d := v - avg
		variance += d * d
	}
	variance /= float64(n)

	return columnStats{
		n:      n,
		min:    sorted[0],
		max:    sorted[n-1],
		avg:    avg,
		median: median,
		sdev:   math.Sqrt(variance),
	}
}

// printSummary writes per-column statistics, in column order, and pairwise
// absolute Pearson correlations when there is more than one column. scores
// is indexed like names.
func printSummary(w io.Writer, names []string, scores [][]float64) {
	if len(names) == 0 {
		fmt.Fprintln(w, "No scores to report")
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Metric summary")
	fmt.Fprintln(w, "==============")

	for i, name := range names {
		values := column(scores, i)
		if len(values) == 0 {
			continue
		}
		s := computeStats(values)

		fmt.Fprintln(w)
		fmt.Fprintln(w, name)
		fmt.Fprintln(w, strings.Repeat("-", len(name)))
		fmt.Fprintf(w, "  frames  : %d\n", s.n)
		fmt.Fprintf(w, "  min     : %.6f\n", s.min)
		fmt.Fprintf(w, "  max     : %.6f\n", s.max)
		fmt.Fprintf(w, "  average : %.6f\n", s.avg)
		fmt.Fprintf(w, "  median  : %.6f\n", s.median)
		fmt.Fprintf(w, "  stddev  : %.6f\n", s.sdev)
	}

	if len(names) > 1 {
		printCorrelations(w, names, scores)
	}
}

func column(scores [][]float64, i int) []float64 {
	if i < len(scores) {
		return scores[i]
	}
	return nil
}

func printCorrelations(w io.Writer, names []string, scores [][]float64) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Metric correlations")
	fmt.Fprintln(w, "===================")

	maxLen := 0
	for _, name := range names {
		maxLen = max(maxLen, len(name))
	}
	formatStr := fmt.Sprintf("  %%-%ds ↔ %%-%ds : %% .6f\n", maxLen, maxLen)

	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			x, y := column(scores, i), column(scores, j)
			if len(x) == 0 || len(x) != len(y) {
				continue
			}
			fmt.Fprintf(w, formatStr, names[i], names[j],
				math.Abs(pearsonCorrelation(x, y)))
		}
	}
}

// pearsonCorrelation returns 0 for empty, mismatched or constant inputs.
func pearsonCorrelation(x, y []float64) float64 {
	n := len(x)
	if n == 0 || n != len(y) {
		return 0
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var num, denomX, denomY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		num += dx * dy
		denomX += dx * dx
		denomY += dy * dy
	}

	denom := math.Sqrt(denomX * denomY)
	if denom == 0 {
		return 0
	}
	return num / denom
}
