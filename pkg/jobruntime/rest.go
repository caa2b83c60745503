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

package jobruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type restHttpClient interface {
	Get(url string) (*http.Response, error)
}

type planResponse struct {
	Plan struct {
		Nodes []struct {
			Description string `json:"description"`
			Parallelism int    `json:"parallelism"`
		} `json:"nodes"`
	} `json:"plan"`
}

type jobStatusResponse struct {
	State string `json:"state"`
}

type jobsResponse struct {
	Jobs []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"jobs"`
}

type overviewResponse struct {
	SlotsTotal   int `json:"slots-total"`
	TaskManagers int `json:"taskmanagers"`
}

func (m *Manager) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
		}
		resp, err := m.httpClient.Get(m.opts.RestURL + path)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d from %q", resp.StatusCode, path)
			continue
		}
		if err := json.Unmarshal(body, out); err != nil {
			lastErr = fmt.Errorf("failed to unmarshal response of %q, %w", path, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("job runtime query %q failed, %w", path, lastErr)
}

// jobState returns the current state of the job, e.g. RUNNING or FAILED.
func (m *Manager) jobState(ctx context.Context, jobID string) (string, error) {
	r := &jobStatusResponse{}
	if err := m.getJSON(ctx, "/jobs/"+jobID, r); err != nil {
		return "", err
	}
	return r.State, nil
}
