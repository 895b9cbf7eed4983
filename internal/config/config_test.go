// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PID = 123 // defaults alone have neither --pid nor --name set
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RequiresAttachTarget(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pid")
}

func TestValidate_PIDAndNameMutuallyExclusive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PID = 1
	cfg.Name = "foo"
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidate_CheckAndBasePowerMutuallyExclusive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Check = true
	cfg.BasePower = true
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestLoad_OverlaysYAML(t *testing.T) {
	yamlDoc := `
pid: 555
output: custom.csv
log:
  level: debug
  format: json
`
	cfg, err := Load(strings.NewReader(yamlDoc))
	require.NoError(t, err)
	assert.Equal(t, 555, cfg.PID)
	assert.Equal(t, "custom.csv", cfg.Output)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PID = 1
	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())
}
