package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/chaos"
	"libralend/internal/config"
)

func TestRunWritesReport(t *testing.T) {
	report := filepath.Join(t.TempDir(), "gameday.json")

	err := run(config.Default(), options{window: 10 * time.Millisecond, outputPath: report})
	require.NoError(t, err)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var results []chaos.ExperimentResult
	require.NoError(t, jsoniter.ConfigFastest.Unmarshal(data, &results))
	require.Len(t, results, 3)
	assert.Equal(t, "concurrent-checkout-race-condition", results[0].ExperimentName)
	for _, r := range results {
		assert.True(t, r.HypothesisHeld, r.ExperimentName)
	}
}

func TestRunReportsUnwritableOutput(t *testing.T) {
	report := filepath.Join(t.TempDir(), "missing", "gameday.json")

	err := run(config.Default(), options{window: time.Millisecond, outputPath: report})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write report")
}
