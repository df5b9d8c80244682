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

package topology

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routeFileE5 = `<interserver_route>
  <nic_pairs>
    <pair>
      <nic1 guid="0xa1"/>
      <nic2 guid="0xa2"/>
      <interSwitch count="1">
        <switch downBw="50" upBw="100" upLink="1" downLink="4" isTop="0"/>
      </interSwitch>
    </pair>
  </nic_pairs>
</interserver_route>`

func writeRouteFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "routes.xml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadInterServerRoutesEffectiveBw(t *testing.T) {
	locals, inters := assembleFourRanks(t)
	inter, local := inters[0], locals[0]

	require.NoError(t, LoadInterServerRoutes(writeRouteFile(t, routeFileE5), inter, local))

	// E5: both NICs run 12.5 GB/s, the tier contributes min(50, 100/4) =
	// 25, so the NICs bottleneck the route
	route, err := inter.RouteBetween(0xa1, 0xa2)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, route.InterBw, 1e-9)

	// E6: the reverse direction exists with equal bandwidth and no
	// switch records of its own
	reverse, err := inter.RouteBetween(0xa2, 0xa1)
	require.NoError(t, err)
	assert.Equal(t, route.InterBw, reverse.InterBw)
	assert.Len(t, route.Switches, 1)
	assert.Empty(t, reverse.Switches)

	assert.Equal(t, route.LocalNIC, reverse.RemoteNIC)
	assert.Equal(t, route.RemoteNIC, reverse.LocalNIC)
}

func TestEffectiveBandwidthSwitchContribution(t *testing.T) {
	nic1 := &Node{Kind: NET, Net: NetInfo{BW: 25}}
	nic2 := &Node{Kind: NET, Net: NetInfo{BW: 25}}

	// E5 literal: min(50, 100 * 1/4) = 25; route = min(25, 25, 25)
	route := &Route{
		LocalNIC:  nic1,
		RemoteNIC: nic2,
		Switches:  []Switch{{DownBw: 50, UpBw: 100, UpLink: 1, DownLink: 4, IsTop: false}},
	}
	assert.InDelta(t, 25.0, effectiveBandwidth(route), 1e-9)

	// a top tier contributes its down bandwidth only
	route.Switches = []Switch{{DownBw: 18, UpBw: 1, UpLink: 1, DownLink: 100, IsTop: true}}
	assert.InDelta(t, 18.0, effectiveBandwidth(route), 1e-9)
}

func TestEffectiveBandwidthMonotone(t *testing.T) {
	nic1 := &Node{Kind: NET, Net: NetInfo{BW: 100}}
	nic2 := &Node{Kind: NET, Net: NetInfo{BW: 100}}

	route := &Route{LocalNIC: nic1, RemoteNIC: nic2}

	// P8: adding a tier never increases the effective bandwidth
	prev := effectiveBandwidth(route)
	for i := 0; i < 5; i++ {
		route.Switches = append(route.Switches, Switch{
			DownBw: float64(90 - 10*i), UpBw: 200, UpLink: 2, DownLink: 4,
		})
		cur := effectiveBandwidth(route)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestLoadInterServerRoutesHTTP(t *testing.T) {
	locals, inters := assembleFourRanks(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, routeFileE5)
	}))
	defer srv.Close()

	require.NoError(t, LoadInterServerRoutes(srv.URL, inters[0], locals[0]))

	route, err := inters[0].RouteBetween(0xa1, 0xa2)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, route.InterBw, 1e-9)

	t.Run("retry knob", func(t *testing.T) {
		t.Setenv(EnvInterServerRetryMax, "0")
		assert.NoError(t, LoadInterServerRoutes(srv.URL, inters[0], locals[0]))
	})

	t.Run("negative retries rejected", func(t *testing.T) {
		t.Setenv(EnvInterServerRetryMax, "-1")
		err := LoadInterServerRoutes(srv.URL, inters[0], locals[0])
		assert.True(t, errors.Is(err, ErrInvalidSchema))
	})

	t.Run("unparseable retries rejected", func(t *testing.T) {
		t.Setenv(EnvInterServerRetryMax, "many")
		err := LoadInterServerRoutes(srv.URL, inters[0], locals[0])
		assert.True(t, errors.Is(err, ErrInvalidSchema))
	})
}

func TestLoadInterServerRoutesSchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "wrong root", doc: `<routes/>`},
		{name: "no nic_pairs", doc: `<interserver_route/>`},
		{
			name: "pair without nic2",
			doc: `<interserver_route><nic_pairs><pair><nic1 guid="0xa1"/>
<interSwitch count="0"/></pair></nic_pairs></interserver_route>`,
		},
		{
			name: "unknown guid",
			doc: `<interserver_route><nic_pairs><pair><nic1 guid="0xdead"/><nic2 guid="0xa2"/>
<interSwitch count="0"/></pair></nic_pairs></interserver_route>`,
		},
		{
			name: "switch missing attribute",
			doc: `<interserver_route><nic_pairs><pair><nic1 guid="0xa1"/><nic2 guid="0xa2"/>
<interSwitch count="1"><switch downBw="50" upBw="100" upLink="1" downLink="4"/></interSwitch></pair></nic_pairs></interserver_route>`,
		},
		{
			name: "count mismatch",
			doc: `<interserver_route><nic_pairs><pair><nic1 guid="0xa1"/><nic2 guid="0xa2"/>
<interSwitch count="2"><switch downBw="50" upBw="100" upLink="1" downLink="4" isTop="0"/></interSwitch></pair></nic_pairs></interserver_route>`,
		},
	}

	locals, inters := assembleFourRanks(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := LoadInterServerRoutes(writeRouteFile(t, tt.doc), inters[0], locals[0])
			assert.Error(t, err)
		})
	}
}

func TestRouteBetweenMissing(t *testing.T) {
	inter := &InterServerTopo{Routes: map[uint64]map[uint64]*Route{}}

	_, err := inter.RouteBetween(1, 2)
	assert.True(t, errors.Is(err, ErrNotFound))
}
