package export

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	vqmt "github.com/GreatValueCreamSoda/govqmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	nan := float32(math.NaN())
	m := &vqmt.ValueMatrix{Rows: 3, Cols: 2, Data: []float32{
		30.5, 0.91,
		31.25, 0.92,
		32, nan,
	}}
	return &Result{
		JobID:     "6f1c7f55-2fd4-4a57-9f5f-5b3c0e6bbd2e",
		Status:    vqmt.ExitStatusAllOK,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Columns: ColumnNames([]vqmt.Document{
			vqmt.NewDocument([]byte(`{"name":"psnr_y"}`)),
			vqmt.NewDocument([]byte(`{"metric":"ssim","color":"Y"}`)),
		}),
		Frames:       []int32{10, 11, 12},
		Values:       rowsOf(m),
		Accumulators: []byte(`{"psnr_y":{"mean":31.25}}`),
	}
}

func Test_ColumnNames(t *testing.T) {
	names := ColumnNames([]vqmt.Document{
		vqmt.NewDocument([]byte(`{"name":"psnr"}`)),
		vqmt.NewDocument([]byte(`{"metric":"vmaf","color":"Y"}`)),
		vqmt.NewDocument([]byte(`{"metric":"msad"}`)),
		vqmt.NewDocument([]byte(`[]`)),
	})
	assert.Equal(t, []string{"psnr", "vmaf_Y", "msad", "column-3"}, names)
}

func Test_Result_Columns(t *testing.T) {
	r := sampleResult()
	require.Len(t, r.Values, 3)
	assert.Nil(t, r.Values[2][1])
	assert.Equal(t, []float64{30.5, 31.25, 32}, r.Column(0))
	assert.Len(t, r.Column(1), 2)
	assert.Empty(t, r.Column(5))

	scores := r.Scores()
	require.Len(t, scores, 2)
	assert.Equal(t, r.Column(0), scores[0])
	assert.Equal(t, r.Column(1), scores[1])

	r.Columns[1] = r.Columns[0]
	assert.Len(t, r.Scores(), 2)
}

func Test_WriteJSON_KeepsUndefinedCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	want := sampleResult()
	require.NoError(t, WriteJSON(path, want))

	got, err := ReadJSON(path)
	require.NoError(t, err)
	assert.Equal(t, want.Columns, got.Columns)
	assert.Equal(t, want.Frames, got.Frames)
	assert.Nil(t, got.Values[2][1])
	assert.InDelta(t, 0.91, *got.Values[0][1], 1e-6)
	assert.JSONEq(t, string(want.Accumulators), string(got.Accumulators))
}

func Test_ReadJSON_Missing(t *testing.T) {
	_, err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func Test_Store_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	want := sampleResult()
	id, err := s.Save(ctx, want)
	require.NoError(t, err)

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want.JobID, got.JobID)
	assert.Equal(t, want.Status, got.Status)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.Columns, got.Columns)
	assert.Equal(t, want.Frames, got.Frames)
	assert.Equal(t, want.Column(0), got.Column(0))
	assert.Nil(t, got.Values[2][1])
	assert.JSONEq(t, string(want.Accumulators), string(got.Accumulators))

	_, err = s.Load(ctx, id+100)
	require.Error(t, err)
}

func Test_Store_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err)
		_, err = s.Save(ctx, sampleResult())
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	ids, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func Test_Store_EmptyResult(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Save(ctx, &Result{JobID: "j", Status: vqmt.ExitStatusFailed,
		CreatedAt: time.Now()})
	require.NoError(t, err)
	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, vqmt.ExitStatusFailed, got.Status)
	assert.Empty(t, got.Values)
	assert.Nil(t, got.Accumulators)
}
