package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/stream-bench/frames"
)

func TestLookup(t *testing.T) {
	m, err := Lookup("ResNet50")
	require.NoError(t, err)
	assert.Equal(t, ModelNameResNet50, m.Name)
	assert.Equal(t, FamilyResNet, m.Family)
	assert.Equal(t, frames.Shape{Channels: 3, Height: 224, Width: 224}, m.Shape)
	assert.Equal(t, frames.ImageNetMean, m.Normalization.Mean)
	assert.Equal(t, 1000, m.Classes)

	opts := m.FrameOptions()
	assert.Equal(t, m.Shape, opts.Shape)
	assert.Zero(t, opts.Duration)

	_, err = Lookup("yolov4")
	assert.Error(t, err)
}

func TestCatalogEntriesAreIndependent(t *testing.T) {
	a, err := Lookup("mobilenet_v3_large")
	require.NoError(t, err)
	a.Normalization.Mean[0] = 42

	b, err := Lookup("mobilenet_v3_large")
	require.NoError(t, err)
	assert.InDelta(t, 0.485, b.Normalization.Mean[0], 1e-6)
	assert.InDelta(t, 0.485, frames.ImageNetMean[0], 1e-6)
}

func TestRegister(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "resnet50")
	assert.Contains(t, names, "efficientnet_b0")
	assert.IsIncreasing(t, names)

	gray := Model{
		Name:    "test_gray_net",
		Shape:   frames.Shape{Channels: 1, Height: 28, Width: 28},
		Classes: 10,
	}
	require.NoError(t, Register(gray))
	got, err := Lookup("test_gray_net")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Classes)

	assert.Error(t, Register(gray))
	assert.Error(t, Register(Model{}))
	assert.Error(t, Register(Model{Name: "bad", Shape: frames.Shape{Channels: 2, Height: 1, Width: 1}}))
	assert.Error(t, Register(Model{
		Name:          "bad_norm",
		Shape:         frames.Shape{Channels: 3, Height: 1, Width: 1},
		Normalization: frames.Normalization{Std: []float32{1}},
	}))
}
