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

package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/scalehub/scalehub/pkg/config"
)

// RunRecord is the timestamp pair of one completed run, appended by the
// experiment body and read back at Finishing.
type RunRecord struct {
	StartTS int64
	EndTS   int64
}

// archiveRuns writes one folder per run record under
// <basePath>/<YYYY-MM-DD>[/multirun-<id>], each holding an exp_log.txt with
// the config and the run timestamps. It returns the folder the records were
// written to.
func archiveRuns(basePath string, cfg *config.ExperimentConfig, records []RunRecord) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no run records to archive")
	}
	dir := filepath.Join(basePath, time.Unix(records[0].StartTS, 0).Format("2006-01-02"))
	if len(records) > 1 {
		dir = filepath.Join(dir, "multirun-"+uuid.NewString()[:8])
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive folder %q, %w", dir, err)
	}
	cfgJson, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal experiment config, %w", err)
	}
	for i, record := range records {
		runDir := filepath.Join(dir, fmt.Sprintf("run-%d", i+1))
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create run folder %q, %w", runDir, err)
		}
		content := fmt.Sprintf("Experiment run %d\n\n[CONFIG]\n%s\n\n[TIMESTAMPS]\nExperiment start at : %d\nExperiment end at : %d\n",
			i+1, cfgJson, record.StartTS, record.EndTS)
		if err := os.WriteFile(filepath.Join(runDir, "exp_log.txt"), []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("failed to write run log, %w", err)
		}
	}
	return dir, nil
}

// archiveMonitorLogs drops the controller's own logs next to the run
// records.
func archiveMonitorLogs(dir, logs string) error {
	if err := os.WriteFile(filepath.Join(dir, "monitor_logs.txt"), []byte(logs), 0o644); err != nil {
		return fmt.Errorf("failed to write monitor logs, %w", err)
	}
	return nil
}
