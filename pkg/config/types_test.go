/*
Copyright 2025 The Scalehub Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigJson = `{
  "type": "simple",
  "runs": 2,
  "interval_scaling_s": 30,
  "job": {
    "artifact": "pipeline.jar",
    "monitored_operator": "Window_Aggregate",
    "start_parallelism": 2
  },
  "steps": [
    {
      "node": {"type": "gros"},
      "workers": [
        {"type": "medium", "count": 3, "method": "linear", "scope": "worker-pool"}
      ]
    }
  ],
  "generators": [
    {"name": "gen-1", "topic": "input", "num_sensors": 1000, "interval_ms": 100, "replicas": 1, "value": 10}
  ]
}`

func TestDecode(t *testing.T) {
	cfg, err := Decode([]byte(validConfigJson))
	require.NoError(t, err)
	assert.Equal(t, "simple", cfg.Type)
	assert.Equal(t, 2, cfg.Runs)
	assert.Equal(t, 30, cfg.ScalingIntervalSeconds)
	assert.Equal(t, "pipeline.jar", cfg.Job.Artifact)
	require.Len(t, cfg.Plan, 1)
	require.Len(t, cfg.Plan[0].Workers, 1)
	assert.Equal(t, MethodLinear, cfg.Plan[0].Workers[0].Method)
	assert.Equal(t, ScopeWorkerPool, cfg.Plan[0].Workers[0].Scope)
	require.Len(t, cfg.Generators, 1)
	assert.Equal(t, 1000, cfg.Generators[0].NumSensors)
}

func TestDecodeDefaults(t *testing.T) {
	cfg, err := Decode([]byte(`{
	  "type": "simple",
	  "job": {"artifact": "pipeline.jar", "monitored_operator": "op"},
	  "steps": [{"node": {"type": "gros"}, "workers": [{"type": "medium", "count": 1, "method": "linear"}]}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Runs)
	assert.Equal(t, 60, cfg.ScalingIntervalSeconds)
}

func TestDecodeList(t *testing.T) {
	cfgs, err := DecodeList([]byte(`[{"type": "test"}, {"type": "standalone"}]`))
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "test", cfgs[0].Type)
	assert.Equal(t, "standalone", cfgs[1].Type)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		json   string
		reason string
	}{
		{"missing type", `{}`, "type not specified"},
		{"missing artifact", `{"type":"simple","steps":[{"node":{"type":"g"},"workers":[{"type":"m","count":1,"method":"linear"}]}]}`, "artifact not specified"},
		{"missing operator", `{"type":"simple","job":{"artifact":"a.jar"},"steps":[{"node":{"type":"g"},"workers":[{"type":"m","count":1,"method":"linear"}]}]}`, "operator not specified"},
		{"empty plan", `{"type":"simple","job":{"artifact":"a.jar","monitored_operator":"op"}}`, "plan is empty"},
		{"empty step", `{"type":"simple","job":{"artifact":"a.jar","monitored_operator":"op"},"steps":[{"node":{"type":"g"}}]}`, "no workers"},
		{"zero count", `{"type":"simple","job":{"artifact":"a.jar","monitored_operator":"op"},"steps":[{"node":{"type":"g"},"workers":[{"type":"m","count":0,"method":"linear"}]}]}`, "non-positive worker count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.json))
			require.Error(t, err)
			cfgErr := &ConfigurationError{}
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Reason, tt.reason)
		})
	}
}

func TestValidateSkipsJobForTestTypes(t *testing.T) {
	for _, typ := range []string{"test", "standalone"} {
		cfg, err := Decode([]byte(`{"type": "` + typ + `"}`))
		require.NoError(t, err, typ)
		assert.Equal(t, typ, cfg.Type)
	}
}
