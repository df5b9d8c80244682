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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidia/xccl-topology/pkg/deviceadaptor"
	"github.com/nvidia/xccl-topology/pkg/netplugin"
	"github.com/nvidia/xccl-topology/pkg/xmltree"
)

const bareHostXML = `<system version="1">
  <cpu numaid="0" host_hash="0x9" arch="x86_64" vendor="GenuineIntel" familyid="6" modelid="85">
    <pci busid="0000:18:00.0" link_speed="16.0 GT/s PCIe" link_width="16">
      <apu/>
    </pci>
    <pci busid="0000:1a:00.0" link_speed="16.0 GT/s PCIe" link_width="16">
      <nic/>
    </pci>
  </cpu>
</system>`

func TestEnsureRoot(t *testing.T) {
	root := EnsureRoot(nil)
	require.NotNil(t, root)
	assert.Equal(t, "system", root.Name)

	v, ok := root.Attr("version")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	existing := &xmltree.Node{Name: "system"}
	assert.Same(t, existing, EnsureRoot(existing))
}

func TestAttachDevices(t *testing.T) {
	dom, err := xmltree.Parse(strings.NewReader(bareHostXML))
	require.NoError(t, err)

	peers := []PeerInfo{
		{Rank: 3, HostHash: 0x9, BusID: "0000:18:00.0"},
		{Rank: 4, HostHash: 0xff, BusID: "0000:99:00.0"}, // other host, ignored
	}
	adaptor := deviceadaptor.Static{"0000:18:00.0": 2}

	require.NoError(t, AttachDevices(dom, peers, 0x9, adaptor))

	apu := dom.Child("cpu").Children[0].Child("apu")
	require.NotNil(t, apu)

	dev, err := apu.AttrInt("dev")
	require.NoError(t, err)
	assert.Equal(t, 2, dev)

	rank, err := apu.AttrInt("rank")
	require.NoError(t, err)
	assert.Equal(t, 3, rank)
}

func TestAttachDevicesAdaptorFailure(t *testing.T) {
	dom, err := xmltree.Parse(strings.NewReader(bareHostXML))
	require.NoError(t, err)

	peers := []PeerInfo{{Rank: 0, HostHash: 0x9, BusID: "0000:18:00.0"}}

	err = AttachDevices(dom, peers, 0x9, deviceadaptor.Static{})
	assert.ErrorIs(t, err, ErrAdaptorFailure)
}

func TestAttachNets(t *testing.T) {
	dom, err := xmltree.Parse(strings.NewReader(bareHostXML))
	require.NoError(t, err)

	plugin := netplugin.NewStatic([]netplugin.Properties{
		{
			Name:      "mlx5_0",
			PCIPath:   "/sys/devices/pci0000:1a/0000:1a:00.0",
			SpeedMbps: 100000,
			LatencyUs: 1.5,
			Port:      1,
			GUID:      0xa,
			MaxComms:  128,
		},
	})

	require.NoError(t, AttachNets(dom, plugin))

	nic := dom.Child("cpu").Children[1].Child("nic")
	require.NotNil(t, nic)
	net := nic.Child("net")
	require.NotNil(t, net)

	name, _ := net.Attr("name")
	assert.Equal(t, "mlx5_0", name)

	guid, ok, err := net.AttrUint64Hex("guid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(0xa), guid)

	// after device attachment the augmented document builds a server
	// with one NET node
	peers := []PeerInfo{{Rank: 0, HostHash: 0x9, BusID: "0000:18:00.0"}}
	require.NoError(t, AttachDevices(dom, peers, 0x9, deviceadaptor.Static{"0000:18:00.0": 0}))

	s, err := BuildServerFromXML(dom, 0x9)
	require.NoError(t, err)
	require.Len(t, s.Nodes[NET], 1)
	assert.InDelta(t, 12.5, s.Nodes[NET][0].Net.BW, 1e-9)
}

func TestDumpIfConfigured(t *testing.T) {
	dom, err := xmltree.Parse(strings.NewReader(bareHostXML))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dump.xml")
	t.Setenv(EnvTopoDumpFile, path)

	// only rank 0 writes
	require.NoError(t, DumpIfConfigured(dom, 1))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, DumpIfConfigured(dom, 0))
	reread, err := xmltree.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "system", reread.Name)
}
