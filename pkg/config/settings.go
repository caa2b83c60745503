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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the deployment-level configuration of the monitor process,
// populated from the config file and SCALEHUB_* environment overrides. It
// is distinct from ExperimentConfig, which arrives per experiment over the
// control channel.
type Settings struct {
	Broker     BrokerSettings    `mapstructure:"broker"`
	Cluster    ClusterSettings   `mapstructure:"cluster"`
	JobRuntime JobRuntimeOptions `mapstructure:"jobruntime"`
	// ArchiveBasePath is where run records and logs are written at Finishing.
	ArchiveBasePath string `mapstructure:"archiveBasePath"`
	MetricsPort     int    `mapstructure:"metricsPort"`
}

type BrokerSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ClusterSettings struct {
	// Namespace is where the job runtime and its worker pools live.
	Namespace string `mapstructure:"namespace"`
	// PoolReadyTimeout bounds the replica-readiness poll after a worker
	// pool scale-up.
	PoolReadyTimeout time.Duration `mapstructure:"poolReadyTimeout"`
}

type JobRuntimeOptions struct {
	// RestURL is the base URL of the job manager's REST endpoint.
	RestURL string `mapstructure:"restURL"`
	// JobManagerSelector locates the job manager pod for command execution.
	JobManagerSelector string `mapstructure:"jobManagerSelector"`
	// RunningMaxAttempts and RunningInterval bound the job-RUNNING poll.
	RunningMaxAttempts int           `mapstructure:"runningMaxAttempts"`
	RunningInterval    time.Duration `mapstructure:"runningInterval"`
}

// LoadSettings reads the settings file at path, falling back to defaults
// for everything not present. A missing file is not an error.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("scalehub")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("broker.host", "mosquitto.default.svc.cluster.local")
	v.SetDefault("broker.port", 1883)
	v.SetDefault("cluster.namespace", "flink")
	v.SetDefault("cluster.poolReadyTimeout", 10*time.Minute)
	v.SetDefault("jobruntime.restURL", "http://flink-jobmanager.flink.svc.cluster.local:8081")
	v.SetDefault("jobruntime.jobManagerSelector", "app=flink,component=jobmanager")
	v.SetDefault("jobruntime.runningMaxAttempts", 15)
	v.SetDefault("jobruntime.runningInterval", 5*time.Second)
	v.SetDefault("archiveBasePath", "/experiment-volume")
	v.SetDefault("metricsPort", 9090)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("failed to read settings file %q, %w", path, err)
		}
	}
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings, %w", err)
	}
	return s, nil
}
