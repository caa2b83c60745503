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

package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"
)

const testNamespace = "flink"

func workerPool(name, size string, replicas, ready int32) *appsv1.StatefulSet {
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
			Labels: map[string]string{
				"app":       "flink",
				"component": "taskmanager",
				"size":      size,
			},
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas: ptr.To(replicas),
		},
		Status: appsv1.StatefulSetStatus{
			Replicas:      replicas,
			ReadyReplicas: ready,
		},
	}
}

func TestScaleWorkerPool(t *testing.T) {
	client := fake.NewSimpleClientset(workerPool("flink-taskmanager-medium", "medium", 1, 1))
	m := NewManager(client, nil, testNamespace)
	ctx := context.Background()

	require.NoError(t, m.ScaleWorkerPool(ctx, "medium", 3))
	replicas, err := m.WorkerPoolReplicas(ctx, "medium")
	require.NoError(t, err)
	assert.Equal(t, 3, replicas)
}

func TestScaleWorkerPoolUnknownType(t *testing.T) {
	client := fake.NewSimpleClientset()
	m := NewManager(client, nil, testNamespace)
	err := m.ScaleWorkerPool(context.Background(), "xxl", 1)
	assert.ErrorContains(t, err, "no worker pool found")
}

func TestReadyWorkerPoolReplicas(t *testing.T) {
	client := fake.NewSimpleClientset(workerPool("flink-taskmanager-medium", "medium", 3, 2))
	m := NewManager(client, nil, testNamespace)
	ready, err := m.ReadyWorkerPoolReplicas(context.Background(), "medium")
	require.NoError(t, err)
	assert.Equal(t, 2, ready)
}

func TestResetWorkerPools(t *testing.T) {
	// Status replicas are already zero, so the drain wait returns at once.
	small := workerPool("flink-taskmanager-small", "small", 2, 2)
	small.Status.Replicas = 0
	medium := workerPool("flink-taskmanager-medium", "medium", 1, 1)
	medium.Status.Replicas = 0
	client := fake.NewSimpleClientset(small, medium)
	m := NewManager(client, nil, testNamespace)
	ctx := context.Background()

	require.NoError(t, m.ResetWorkerPools(ctx, time.Second))
	for _, size := range []string{"small", "medium"} {
		replicas, err := m.WorkerPoolReplicas(ctx, size)
		require.NoError(t, err)
		assert.Equal(t, 0, replicas)
	}
}

func TestExecOnPodWithoutRestConfig(t *testing.T) {
	m := NewManager(fake.NewSimpleClientset(), nil, testNamespace)
	_, err := m.ExecOnPod(context.Background(), "app=flink", "true")
	assert.ErrorContains(t, err, "not configured")
}
