package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/config"
)

func TestRunReturnsStartupErrors(t *testing.T) {
	cfg := config.Default()
	cfg.OpsAddr = "256.0.0.1:bad"

	err := run(cfg, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start:")
}
