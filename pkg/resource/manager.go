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

// Package resource mutates and queries the worker pools and the node label
// state of the cluster. All operations act directly on the cluster, there
// is no local cache; every decision re-reads current state.
package resource

import (
	"context"
	"errors"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/scalehub/scalehub/pkg/shared/logging"
	sharedutil "github.com/scalehub/scalehub/pkg/shared/util"
)

const (
	// Worker pools are statefulsets carrying these labels plus a size label.
	workerPoolAppLabel       = "app=flink"
	workerPoolComponentLabel = "component=taskmanager"
	workerPoolSizeLabelKey   = "size"
)

// ErrNoNodesAvailable indicates node allocation has exhausted the nodes of
// the requested type.
var ErrNoNodesAvailable = errors.New("no nodes available")

// Manager is the lifecycle manager for worker pools and node labels.
type Manager struct {
	kubeClient kubernetes.Interface
	restConfig *rest.Config
	namespace  string
}

// NewManager returns a resource lifecycle manager operating on the given
// namespace. restConfig may be nil when pod command execution is not needed
// (e.g. in tests).
func NewManager(kubeClient kubernetes.Interface, restConfig *rest.Config, namespace string) *Manager {
	return &Manager{
		kubeClient: kubeClient,
		restConfig: restConfig,
		namespace:  namespace,
	}
}

func workerPoolSelector(workerType string) string {
	return fmt.Sprintf("%s,%s,%s=%s", workerPoolAppLabel, workerPoolComponentLabel, workerPoolSizeLabelKey, workerType)
}

// workerPoolName resolves the statefulset backing a worker type.
func (m *Manager) workerPoolName(ctx context.Context, workerType string) (string, error) {
	stss, err := m.kubeClient.AppsV1().StatefulSets(m.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: workerPoolSelector(workerType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list worker pools, %w", err)
	}
	if len(stss.Items) == 0 {
		return "", fmt.Errorf("no worker pool found for type %q", workerType)
	}
	return stss.Items[0].Name, nil
}

// ScaleWorkerPool sets the desired replica count of the worker pool backing
// workerType, retrying transient API errors. It does not block for
// readiness.
func (m *Manager) ScaleWorkerPool(ctx context.Context, workerType string, replicas int) error {
	log := logging.FromContext(ctx)
	name, err := m.workerPoolName(ctx, workerType)
	if err != nil {
		return err
	}
	patchJson := fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas)
	err = wait.ExponentialBackoffWithContext(ctx, sharedutil.DefaultRetryBackoff, func(ctx context.Context) (bool, error) {
		if _, err := m.kubeClient.AppsV1().StatefulSets(m.namespace).Patch(ctx, name, types.MergePatchType, []byte(patchJson), metav1.PatchOptions{}); err != nil {
			log.Warnw("Retrying worker pool scale", "pool", name, "err", err)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to scale worker pool %q to %d, %w", name, replicas, err)
	}
	log.Infow("Scaled worker pool", "pool", name, "replicas", replicas)
	return nil
}

// WorkerPoolReplicas returns the desired replica count of the worker pool
// backing workerType.
func (m *Manager) WorkerPoolReplicas(ctx context.Context, workerType string) (int, error) {
	name, err := m.workerPoolName(ctx, workerType)
	if err != nil {
		return 0, err
	}
	sts, err := m.kubeClient.AppsV1().StatefulSets(m.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to read worker pool %q, %w", name, err)
	}
	if sts.Spec.Replicas == nil {
		return 0, nil
	}
	return int(*sts.Spec.Replicas), nil
}

// ReadyWorkerPoolReplicas returns the observed ready replica count of the
// worker pool backing workerType.
func (m *Manager) ReadyWorkerPoolReplicas(ctx context.Context, workerType string) (int, error) {
	name, err := m.workerPoolName(ctx, workerType)
	if err != nil {
		return 0, err
	}
	sts, err := m.kubeClient.AppsV1().StatefulSets(m.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to read worker pool %q, %w", name, err)
	}
	return int(sts.Status.ReadyReplicas), nil
}

// ResetWorkerPools scales every worker pool to zero and waits, bounded by
// timeout, until all their pods are gone.
func (m *Manager) ResetWorkerPools(ctx context.Context, timeout time.Duration) error {
	log := logging.FromContext(ctx)
	selector := workerPoolAppLabel + "," + workerPoolComponentLabel
	stss, err := m.kubeClient.AppsV1().StatefulSets(m.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return fmt.Errorf("failed to list worker pools, %w", err)
	}
	patchJson := `{"spec":{"replicas":0}}`
	for _, sts := range stss.Items {
		if _, err := m.kubeClient.AppsV1().StatefulSets(m.namespace).Patch(ctx, sts.Name, types.MergePatchType, []byte(patchJson), metav1.PatchOptions{}); err != nil {
			return fmt.Errorf("failed to reset worker pool %q, %w", sts.Name, err)
		}
	}
	log.Infow("Reset worker pools to zero replicas", "pools", len(stss.Items))
	deadline := time.Now().Add(timeout)
	for {
		stss, err := m.kubeClient.AppsV1().StatefulSets(m.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return fmt.Errorf("failed to list worker pools, %w", err)
		}
		remaining := 0
		for _, sts := range stss.Items {
			remaining += int(sts.Status.Replicas)
		}
		if remaining == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("worker pools not drained after %v, %d replicas remaining", timeout, remaining)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}
