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
	"bytes"
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/scalehub/scalehub/pkg/shared/logging"
)

// runningPodByLabel returns the name of one running pod matching the
// selector.
func (m *Manager) runningPodByLabel(ctx context.Context, labelSelector string) (string, error) {
	pods, err := m.kubeClient.CoreV1().Pods(m.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return "", fmt.Errorf("failed to list pods with selector %q, %w", labelSelector, err)
	}
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning {
			return pod.Name, nil
		}
	}
	return "", fmt.Errorf("no running pod found with selector %q", labelSelector)
}

// ExecOnPod runs a shell command inside the first running pod matching the
// selector and returns the captured stdout and stderr. This is the command
// execution capability the job runtime collaborator requires.
func (m *Manager) ExecOnPod(ctx context.Context, labelSelector, command string) (string, error) {
	if m.restConfig == nil {
		return "", fmt.Errorf("pod command execution is not configured")
	}
	podName, err := m.runningPodByLabel(ctx, labelSelector)
	if err != nil {
		return "", err
	}
	req := m.kubeClient.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(m.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: []string{"sh", "-c", command},
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)
	executor, err := remotecommand.NewSPDYExecutor(m.restConfig, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("failed to create pod executor, %w", err)
	}
	var stdout, stderr bytes.Buffer
	if err := executor.StreamWithContext(ctx, remotecommand.StreamOptions{Stdout: &stdout, Stderr: &stderr}); err != nil {
		return "", fmt.Errorf("failed to exec on pod %q, %w", podName, err)
	}
	return stdout.String() + stderr.String(), nil
}

// DeletePodsByLabel deletes all pods matching the selector, letting their
// owners recreate them.
func (m *Manager) DeletePodsByLabel(ctx context.Context, labelSelector string) error {
	log := logging.FromContext(ctx)
	pods, err := m.kubeClient.CoreV1().Pods(m.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return fmt.Errorf("failed to list pods with selector %q, %w", labelSelector, err)
	}
	for _, pod := range pods.Items {
		if err := m.kubeClient.CoreV1().Pods(m.namespace).Delete(ctx, pod.Name, metav1.DeleteOptions{}); err != nil {
			return fmt.Errorf("failed to delete pod %q, %w", pod.Name, err)
		}
	}
	log.Infow("Deleted pods", "selector", labelSelector, "pods", len(pods.Items))
	return nil
}

// PodLogsSince returns the concatenated logs of all pods matching the
// selector, going back sinceSeconds.
func (m *Manager) PodLogsSince(ctx context.Context, labelSelector string, sinceSeconds int64) (string, error) {
	pods, err := m.kubeClient.CoreV1().Pods(m.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return "", fmt.Errorf("failed to list pods with selector %q, %w", labelSelector, err)
	}
	var sb strings.Builder
	for _, pod := range pods.Items {
		raw, err := m.kubeClient.CoreV1().Pods(m.namespace).
			GetLogs(pod.Name, &corev1.PodLogOptions{SinceSeconds: &sinceSeconds}).
			Do(ctx).Raw()
		if err != nil {
			return "", fmt.Errorf("failed to read logs of pod %q, %w", pod.Name, err)
		}
		sb.Write(raw)
	}
	return sb.String(), nil
}
