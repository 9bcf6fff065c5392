package main

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func Test_printSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, []string{"psnr", "ssim"}, [][]float64{
		{1, 2, 3, 4},
		{2, 4, 6, 8},
	})

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "summary", buf.Bytes())
}

func Test_printSummary_Empty(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, nil, nil)
	assert.Equal(t, "No scores to report\n", buf.String())
}

func Test_printSummary_DuplicateNames(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, []string{"psnr", "psnr"}, [][]float64{
		{1, 2, 3},
		{10, 20, 30, 40},
	})
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\npsnr\n----\n"))
	assert.Contains(t, out, "  frames  : 3\n")
	assert.Contains(t, out, "  frames  : 4\n")
	assert.Contains(t, out, "  max     : 40.000000\n")
}

func Test_computeStats(t *testing.T) {
	s := computeStats([]float64{5, 1, 3})
	assert.Equal(t, 3, s.n)
	assert.Equal(t, 1.0, s.min)
	assert.Equal(t, 5.0, s.max)
	assert.Equal(t, 3.0, s.avg)
	assert.Equal(t, 3.0, s.median)
	assert.InDelta(t, math.Sqrt(8.0/3.0), s.sdev, 1e-12)

	assert.Equal(t, columnStats{}, computeStats(nil))
}

func Test_pearsonCorrelation(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1, pearsonCorrelation(x, []float64{2, 4, 6, 8}), 1e-12)
	assert.InDelta(t, -1, pearsonCorrelation(x, []float64{4, 3, 2, 1}), 1e-12)
	assert.Zero(t, pearsonCorrelation(x, []float64{7, 7, 7, 7}))
	assert.Zero(t, pearsonCorrelation(x, x[:2]))
	assert.Zero(t, pearsonCorrelation(nil, nil))
}
