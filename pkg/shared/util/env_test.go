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

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupEnvStringOr(t *testing.T) {
	assert.Equal(t, "default", LookupEnvStringOr("fake_env", "default"))
	t.Setenv("fake_env", "value")
	assert.Equal(t, "value", LookupEnvStringOr("fake_env", "default"))
	t.Setenv("fake_env", "")
	assert.Equal(t, "default", LookupEnvStringOr("fake_env", "default"))
}

func TestLookupEnvIntOr(t *testing.T) {
	assert.Equal(t, 5, LookupEnvIntOr("fake_env_int", 5))
	t.Setenv("fake_env_int", "10")
	assert.Equal(t, 10, LookupEnvIntOr("fake_env_int", 5))
	t.Setenv("fake_env_int", "bad")
	assert.Panics(t, func() { LookupEnvIntOr("fake_env_int", 5) })
}

func TestLookupEnvBoolOr(t *testing.T) {
	assert.False(t, LookupEnvBoolOr("fake_env_bool", false))
	t.Setenv("fake_env_bool", "true")
	assert.True(t, LookupEnvBoolOr("fake_env_bool", false))
	t.Setenv("fake_env_bool", "bad")
	assert.Panics(t, func() { LookupEnvBoolOr("fake_env_bool", false) })
}
