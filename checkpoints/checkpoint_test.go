package checkpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadLatest(t *testing.T) {
	dir := t.TempDir()

	for epoch := 1; epoch <= 3; epoch++ {
		rec := &Record{
			Weights: []WeightTensor{{
				Name:  "enc.weight",
				Shape: []int{1},
				Data:  []float32{float32(epoch)},
			}},
		}
		require.NoError(t, Write(rec, "model", dir, epoch))
	}

	rec, epoch, err := ReadLatest("model", dir)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, epoch)
	assert.Equal(t, "model", rec.Role)
	require.Len(t, rec.Weights, 1)
	assert.Equal(t, float32(3), rec.Weights[0].Data[0])
	assert.Equal(t, "denoise", rec.Metadata.Framework)
}

func TestRolesAreIndependent(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Write(&Record{Weights: []WeightTensor{{Name: "w", Shape: []int{1}, Data: []float32{1}}}}, "model", dir, 7))
	require.NoError(t, Write(&Record{Optimizer: &OptimizerState{Type: "AdamW"}}, "opt", dir, 7))

	model, epoch, err := ReadLatest("model", dir)
	require.NoError(t, err)
	assert.Equal(t, 7, epoch)
	assert.Nil(t, model.Optimizer)

	opt, epoch, err := ReadLatest("opt", dir)
	require.NoError(t, err)
	assert.Equal(t, 7, epoch)
	require.NotNil(t, opt.Optimizer)
	assert.Equal(t, "AdamW", opt.Optimizer.Type)
}

func TestReadLatestEmpty(t *testing.T) {
	rec, epoch, err := ReadLatest("model", t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, -1, epoch)

	assert.Equal(t, -1, LatestEpoch("model", "/nonexistent/dir"))
}
