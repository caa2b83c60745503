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
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/scalehub/scalehub/pkg/shared/logging"
)

// Node labels sequencing worker placement one node at a time. A node that
// is FULL is never re-selected; SCHEDULABLE nodes are always a subset of
// the non-FULL nodes of the requested type.
const (
	NodeWorkerLabel      = "node-role.kubernetes.io/worker"
	NodeWorkerRole       = "consumer"
	NodeTypeLabelKey     = "node-role.kubernetes.io/tnode"
	NodeVariantLabelKey  = "node-role.kubernetes.io/variant"
	NodeScalingLabelKey  = "node-role.kubernetes.io/scaling"
	NodeStateLabelKey    = "node-role.kubernetes.io/state"
	NodeSchedulable      = "SCHEDULABLE"
	NodeUnschedulable    = "UNSCHEDULABLE"
	NodeEmpty            = "EMPTY"
	NodeFull             = "FULL"
)

func (m *Manager) listNodes(ctx context.Context, labelSelector string) ([]corev1.Node, error) {
	nodes, err := m.kubeClient.CoreV1().Nodes().List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes with selector %q, %w", labelSelector, err)
	}
	return nodes.Items, nil
}

// NextNode returns a node of the given type (and variant, if non-empty)
// that is neither SCHEDULABLE nor FULL. It returns ErrNoNodesAvailable when
// every matching node is already in use.
func (m *Manager) NextNode(ctx context.Context, nodeType, variant string) (string, error) {
	selector := fmt.Sprintf("%s=%s,%s=%s", NodeWorkerLabel, NodeWorkerRole, NodeTypeLabelKey, nodeType)
	if variant != "" {
		selector = fmt.Sprintf("%s,%s=%s", selector, NodeVariantLabelKey, variant)
	}
	nodes, err := m.listNodes(ctx, selector)
	if err != nil {
		return "", err
	}
	for _, node := range nodes {
		if node.Labels[NodeScalingLabelKey] != NodeSchedulable && node.Labels[NodeStateLabelKey] != NodeFull {
			return node.Name, nil
		}
	}
	return "", fmt.Errorf("node type %q variant %q: %w", nodeType, variant, ErrNoNodesAvailable)
}

func (m *Manager) markNode(ctx context.Context, nodeName, labelKey, value string) error {
	patchJson := fmt.Sprintf(`{"metadata":{"labels":{%q:%q}}}`, labelKey, value)
	if _, err := m.kubeClient.CoreV1().Nodes().Patch(ctx, nodeName, types.MergePatchType, []byte(patchJson), metav1.PatchOptions{}); err != nil {
		return fmt.Errorf("failed to label node %q with %s=%s, %w", nodeName, labelKey, value, err)
	}
	return nil
}

func (m *Manager) MarkNodeSchedulable(ctx context.Context, nodeName string) error {
	return m.markNode(ctx, nodeName, NodeScalingLabelKey, NodeSchedulable)
}

func (m *Manager) MarkNodeUnschedulable(ctx context.Context, nodeName string) error {
	return m.markNode(ctx, nodeName, NodeScalingLabelKey, NodeUnschedulable)
}

func (m *Manager) MarkNodeEmpty(ctx context.Context, nodeName string) error {
	return m.markNode(ctx, nodeName, NodeStateLabelKey, NodeEmpty)
}

func (m *Manager) MarkNodeFull(ctx context.Context, nodeName string) error {
	return m.markNode(ctx, nodeName, NodeStateLabelKey, NodeFull)
}

// SchedulableNodes returns the names of all nodes currently marked
// SCHEDULABLE.
func (m *Manager) SchedulableNodes(ctx context.Context) ([]string, error) {
	nodes, err := m.listNodes(ctx, fmt.Sprintf("%s=%s", NodeScalingLabelKey, NodeSchedulable))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		names = append(names, node.Name)
	}
	return names, nil
}

// ResetScalingLabels marks every SCHEDULABLE node UNSCHEDULABLE. Applying
// it twice yields the same label state as applying it once.
func (m *Manager) ResetScalingLabels(ctx context.Context) error {
	log := logging.FromContext(ctx)
	names, err := m.SchedulableNodes(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := m.MarkNodeUnschedulable(ctx, name); err != nil {
			return err
		}
	}
	log.Infow("Reset scaling labels", "nodes", len(names))
	return nil
}

// ResetStateLabels marks every FULL node EMPTY. Idempotent like
// ResetScalingLabels.
func (m *Manager) ResetStateLabels(ctx context.Context) error {
	log := logging.FromContext(ctx)
	nodes, err := m.listNodes(ctx, fmt.Sprintf("%s=%s", NodeStateLabelKey, NodeFull))
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if err := m.MarkNodeEmpty(ctx, node.Name); err != nil {
			return err
		}
	}
	log.Infow("Reset state labels", "nodes", len(nodes))
	return nil
}
