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
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/scalehub/scalehub/pkg/config"
	"github.com/scalehub/scalehub/pkg/shared/logging"
)

const (
	generatorImage     = "registry.gitlab.inria.fr/stream-processing-autoscaling/scalehub/workload-generator:latest"
	generatorTypeLabel = "load-generator"
	generatorPort      = 8080
)

func generatorLabels(spec config.GeneratorSpec) map[string]string {
	return map[string]string{
		"app":  spec.Name,
		"type": generatorTypeLabel,
	}
}

func buildGeneratorDeployment(spec config.GeneratorSpec) *appsv1.Deployment {
	labels := generatorLabels(spec)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.Name,
			Labels: labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(spec.Replicas)),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "generator",
							Image: generatorImage,
							Env: []corev1.EnvVar{
								{Name: "KAFKA_TOPIC", Value: spec.Topic},
								{Name: "NUM_SENSORS", Value: strconv.Itoa(spec.NumSensors)},
								{Name: "INTERVAL_MS", Value: strconv.Itoa(spec.IntervalMs)},
								{Name: "VALUE", Value: strconv.Itoa(spec.Value)},
							},
							Ports: []corev1.ContainerPort{{ContainerPort: generatorPort}},
						},
					},
				},
			},
		},
	}
}

func buildGeneratorService(spec config.GeneratorSpec) *corev1.Service {
	labels := generatorLabels(spec)
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.Name,
			Labels: labels,
		},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Port: generatorPort, TargetPort: intstr.FromInt32(generatorPort)},
			},
		},
	}
}

// CreateGenerators deploys one deployment and service per generator spec.
// Already existing generators are left untouched so redelivered START
// commands stay idempotent.
func (m *Manager) CreateGenerators(ctx context.Context, specs []config.GeneratorSpec) error {
	log := logging.FromContext(ctx)
	for _, spec := range specs {
		if _, err := m.kubeClient.AppsV1().Deployments(m.namespace).Create(ctx, buildGeneratorDeployment(spec), metav1.CreateOptions{}); err != nil {
			if !apierrors.IsAlreadyExists(err) {
				return fmt.Errorf("failed to create generator deployment %q, %w", spec.Name, err)
			}
		}
		if _, err := m.kubeClient.CoreV1().Services(m.namespace).Create(ctx, buildGeneratorService(spec), metav1.CreateOptions{}); err != nil {
			if !apierrors.IsAlreadyExists(err) {
				return fmt.Errorf("failed to create generator service %q, %w", spec.Name, err)
			}
		}
		log.Infow("Created load generator", "name", spec.Name, "topic", spec.Topic)
	}
	return nil
}

// DeleteGenerators removes the deployments and services of the given
// generator specs. Missing objects are ignored.
func (m *Manager) DeleteGenerators(ctx context.Context, specs []config.GeneratorSpec) error {
	log := logging.FromContext(ctx)
	for _, spec := range specs {
		if err := m.kubeClient.AppsV1().Deployments(m.namespace).Delete(ctx, spec.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete generator deployment %q, %w", spec.Name, err)
		}
		if err := m.kubeClient.CoreV1().Services(m.namespace).Delete(ctx, spec.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete generator service %q, %w", spec.Name, err)
		}
		log.Infow("Deleted load generator", "name", spec.Name)
	}
	return nil
}
