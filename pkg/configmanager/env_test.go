// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package configmanager

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvVarRequired(t *testing.T) {
	t.Setenv("TOPO_TEST_PORT", "8080")

	port, err := GetEnvVar[int]("TOPO_TEST_PORT", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	_, err = GetEnvVar[int]("TOPO_TEST_MISSING", nil, nil)
	assert.Error(t, err)
}

func TestGetEnvVarDefault(t *testing.T) {
	def := "/etc/topology/topo.xml"
	path, err := GetEnvVar[string]("TOPO_TEST_UNSET_PATH", &def, nil)
	require.NoError(t, err)
	assert.Equal(t, def, path)
}

func TestGetEnvVarValidator(t *testing.T) {
	t.Setenv("TOPO_TEST_RANKS", "-3")

	_, err := GetEnvVar[int]("TOPO_TEST_RANKS", nil, func(v int) error {
		if v <= 0 {
			return fmt.Errorf("must be positive")
		}
		return nil
	})
	assert.ErrorContains(t, err, "validation failed")
}

func TestGetEnvVarBool(t *testing.T) {
	t.Setenv("TOPO_TEST_FLAG", "TRUE")

	v, err := GetEnvVar[bool]("TOPO_TEST_FLAG", nil, nil)
	require.NoError(t, err)
	assert.True(t, v)

	t.Setenv("TOPO_TEST_FLAG", "yes")
	_, err = GetEnvVar[bool]("TOPO_TEST_FLAG", nil, nil)
	assert.Error(t, err)
}

func TestLoadTOMLConfig(t *testing.T) {
	type cfg struct {
		Topology struct {
			File      string `toml:"file"`
			RouteFile string `toml:"route_file"`
		} `toml:"topology"`
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "[topology]\nfile = \"/tmp/topo.xml\"\nroute_file = \"/tmp/routes.xml\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	var c cfg
	require.NoError(t, LoadTOMLConfig(path, &c))
	assert.Equal(t, "/tmp/topo.xml", c.Topology.File)
	assert.Equal(t, "/tmp/routes.xml", c.Topology.RouteFile)

	assert.Error(t, LoadTOMLConfig(filepath.Join(dir, "absent.toml"), &c))
}
