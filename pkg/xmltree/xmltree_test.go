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

package xmltree

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `<system version="1">
  <cpu numaid="0" arch="x86_64" vendor="GenuineIntel" familyid="6" modelid="85">
    <pci busid="0000:17:00.0" link_speed="16.0 GT/s PCIe" link_width="16">
      <apu dev="0" rank="0"/>
    </pci>
    <nic>
      <net dev="0" speed="100000" port="1" guid="0xa" maxConn="128" latency="1.5"/>
    </nic>
  </cpu>
</system>`

func TestParse(t *testing.T) {
	root, err := Parse(strings.NewReader(sampleDoc))
	require.NoError(t, err)
	assert.Equal(t, "system", root.Name)

	cpu := root.Child("cpu")
	require.NotNil(t, cpu)

	numa, err := cpu.AttrInt("numaid")
	require.NoError(t, err)
	assert.Equal(t, 0, numa)

	arch, ok := cpu.Attr("arch")
	assert.True(t, ok)
	assert.Equal(t, "x86_64", arch)

	pci := cpu.Child("pci")
	require.NotNil(t, pci)
	assert.NotNil(t, pci.Child("apu"))

	net := cpu.Child("nic").Child("net")
	require.NotNil(t, net)

	guid, ok, err := net.AttrUint64Hex("guid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(0xa), guid)

	lat, err := net.AttrFloat("latency", 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, lat, 1e-9)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty document", doc: ""},
		{name: "unbalanced", doc: "<system><cpu></system>"},
		{name: "two roots", doc: "<a/><b/>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestAttrDefaults(t *testing.T) {
	root, err := Parse(strings.NewReader(`<pci busid="0000:17:00.0"/>`))
	require.NoError(t, err)

	assert.Equal(t, 16, root.AttrIntDefault("link_width", 16))

	_, err = root.AttrInt("link_width")
	assert.Error(t, err)

	_, ok, err := root.AttrUint64Hex("guid")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDumpRoundTrip(t *testing.T) {
	root, err := Parse(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "topo.xml")
	require.NoError(t, Dump(path, root))

	reread, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, root, reread)
}

func TestSetAttr(t *testing.T) {
	n := &Node{Name: "apu"}
	n.SetAttr("dev", "3")
	n.SetAttr("dev", "4")

	v, ok := n.Attr("dev")
	assert.True(t, ok)
	assert.Equal(t, "4", v)
	assert.Len(t, n.Attrs, 1)
}
