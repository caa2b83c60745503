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

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/scalehub/scalehub/pkg/config"
	"github.com/scalehub/scalehub/pkg/control"
	"github.com/scalehub/scalehub/pkg/controller"
	"github.com/scalehub/scalehub/pkg/experiment"
	"github.com/scalehub/scalehub/pkg/jobruntime"
	"github.com/scalehub/scalehub/pkg/metrics"
	"github.com/scalehub/scalehub/pkg/resource"
	"github.com/scalehub/scalehub/pkg/scaling"
	"github.com/scalehub/scalehub/pkg/shared/logging"
)

func NewMonitorCommand() *cobra.Command {
	var (
		settingsFile string
	)
	command := &cobra.Command{
		Use:   "monitor",
		Short: "Run the experiment lifecycle monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger().Named("monitor")
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithLogger(ctx, logger)

			settings, err := config.LoadSettings(settingsFile)
			if err != nil {
				return err
			}

			restConfig, err := k8sRestConfig()
			if err != nil {
				return fmt.Errorf("failed to load kubernetes config, %v", err)
			}
			kubeClient, err := kubernetes.NewForConfig(restConfig)
			if err != nil {
				return fmt.Errorf("failed to create kubernetes client, %v", err)
			}
			resources := resource.NewManager(kubeClient, restConfig, settings.Cluster.Namespace)

			deps := experiment.Deps{
				Resources: resources,
				NewJobRuntime: func(job config.JobDescriptor) scaling.JobOps {
					return jobruntime.NewManager(resources, settings.JobRuntime, job)
				},
				Settings: settings,
			}
			ctrl := controller.NewController(func(cfg *config.ExperimentConfig) (experiment.Experiment, error) {
				return experiment.New(cfg, deps)
			})

			ms := metrics.NewMetricsServer(settings.MetricsPort)
			shutdown, err := ms.Start(ctx)
			if err != nil {
				return fmt.Errorf("failed to start metrics server, %v", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			bridge := control.NewBridge(settings.Broker, ctrl)
			if err := bridge.Start(ctx); err != nil {
				return err
			}
			defer bridge.Stop()

			ctrl.Run(ctx)
			return nil
		},
	}
	command.Flags().StringVar(&settingsFile, "settings", "/etc/scalehub/monitor.yaml", "Path to the settings file")
	return command
}

// k8sRestConfig prefers the in-cluster service account and falls back to
// the kubeconfig named by KUBECONFIG for local runs.
func k8sRestConfig() (*rest.Config, error) {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		return cfg, nil
	}
	if kubeconfig, ok := os.LookupEnv("KUBECONFIG"); ok {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return nil, err
}
