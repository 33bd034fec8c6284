package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
RPCPort: 6000
workersNum: 3
poseModel:
  model: models/movenet.onnx
  multiPose: true
classifier:
  model: models/cheat.onnx
decision:
  separateNotCheating: true
`

func TestParse(t *testing.T) {
	t.Run("defaults are kept", func(t *testing.T) {
		cfg, err := Parse([]byte(sample))
		require.NoError(t, err)
		assert.Equal(t, 6000, cfg.RPCPort)
		assert.Equal(t, 8080, cfg.HTTPPort)
		assert.Equal(t, 3, cfg.WorkersNum)
		assert.Equal(t, "models/movenet.onnx", cfg.Pose.Model)
		assert.True(t, cfg.Pose.MultiPose)
		assert.Equal(t, 192, cfg.Pose.InputWidth)
		assert.InDelta(t, 0.1, cfg.Pose.KeypointScoreThreshold, 1e-6)
		assert.Equal(t, []string{"cheating", "not_cheating", "uncertain"}, cfg.Classifier.Labels)
		assert.Equal(t, float32(10000), cfg.Decision.DominanceFactor)
		assert.True(t, cfg.Decision.SeparateNotCheating)
		assert.Equal(t, 2, cfg.Annotation.Thickness)
		assert.Equal(t, [3]uint8{255, 0, 0}, cfg.Annotation.Color)
		assert.Equal(t, Blob{InputScale: 1, SwapRB: true}, cfg.Pose.Blob)
		assert.False(t, cfg.Person.Enabled())
	})

	t.Run("input layout overrides", func(t *testing.T) {
		doc := "classifier:\n  model: models/cheat.onnx\nposeModel:\n  model: models/movenet.onnx\n"
		cfg, err := Parse([]byte(doc + "  inputScale: 0.0039215\n  inputMean: 0\n  swapRB: false\n"))
		require.NoError(t, err)
		assert.InDelta(t, 1.0/255, cfg.Pose.InputScale, 1e-6)
		assert.False(t, cfg.Pose.SwapRB)

		_, err = Parse([]byte(doc + "  inputScale: 0\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "poseModel.inputScale")
	})

	t.Run("person model", func(t *testing.T) {
		cfg, err := Parse([]byte(strings.Replace(sample, "  multiPose: true\n", "", 1) + "personModel:\n  model: models/ssd.onnx\n"))
		require.NoError(t, err)
		assert.True(t, cfg.Person.Enabled())
		assert.Equal(t, 320, cfg.Person.InputWidth)
		assert.Equal(t, 1, cfg.Person.ClassID)
		assert.InDelta(t, 0.5, cfg.Person.MinScore, 1e-6)
		assert.InDelta(t, 127.5, cfg.Person.InputMean, 1e-6)

		_, err = Parse([]byte(sample + "personModel:\n  model: models/ssd.onnx\n  minScore: 2\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "personModel.minScore")
		assert.Contains(t, err.Error(), "multiPose")
	})

	t.Run("missing models", func(t *testing.T) {
		_, err := Parse([]byte("RPCPort: 1"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "poseModel.model")
		assert.Contains(t, err.Error(), "classifier.model")
	})

	t.Run("bad values", func(t *testing.T) {
		_, err := Parse([]byte(sample + "annotation:\n  thickness: 0\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "thickness")

		_, err = Parse([]byte(sample + "stream:\n  enabled: true\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stream")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Parse([]byte("poseModel: ["))
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "models/cheat.onnx", cfg.Classifier.Model)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WorkersNum)
	assert.Equal(t, 192, cfg.Pose.InputWidth)
	assert.False(t, cfg.Pose.MultiPose)
	assert.True(t, cfg.Person.Enabled())
	assert.Equal(t, 320, cfg.Person.InputWidth)
	assert.True(t, cfg.Pose.SwapRB)
	assert.InDelta(t, 1, cfg.Pose.InputScale, 1e-6)
	assert.Equal(t, float32(10000), cfg.Decision.DominanceFactor)
	assert.Equal(t, [3]uint8{255, 0, 0}, cfg.Annotation.Color)
	assert.False(t, cfg.Stream.Enabled)
}
