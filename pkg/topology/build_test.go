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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidia/xccl-topology/pkg/xmltree"
)

const testHostHash = 0xabc1

// singleHostXML is E1: one SKL CPU, one PCI switch carrying two APUs
// (ranks 0 and 1) and one 100 Gb NIC.
const singleHostXML = `<system version="1">
  <cpu numaid="0" host_hash="0xabc1" arch="x86_64" vendor="GenuineIntel" familyid="6" modelid="85" affinity="0000ffff">
    <pci busid="0000:17:00.0" link_speed="16.0 GT/s PCIe" link_width="16">
      <pci busid="0000:18:00.0" link_speed="16.0 GT/s PCIe" link_width="16">
        <apu dev="0" rank="0"/>
      </pci>
      <pci busid="0000:19:00.0" link_speed="16.0 GT/s PCIe" link_width="16">
        <apu dev="1" rank="1"/>
      </pci>
      <pci busid="0000:1a:00.0" link_speed="16.0 GT/s PCIe" link_width="16">
        <nic>
          <net dev="0" speed="100000" port="1" latency="1.0" guid="0xa" maxConn="128"/>
        </nic>
      </pci>
    </pci>
  </cpu>
</system>`

func buildFromString(t *testing.T, doc string, hostHash uint64) *Server {
	t.Helper()

	root, err := xmltree.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	s, err := BuildServerFromXML(root, hostHash)
	require.NoError(t, err)

	return s
}

func TestBuildSingleHost(t *testing.T) {
	s := buildFromString(t, singleHostXML, testHostHash)

	assert.Equal(t, 1, s.NHosts)
	assert.Equal(t, uint64(testHostHash), s.HostHashes[0])
	assert.Equal(t, 0, s.ServerID)

	require.Len(t, s.Nodes[CPU], 1)
	require.Len(t, s.Nodes[APU], 2)
	require.Len(t, s.Nodes[PCI], 1)
	require.Len(t, s.Nodes[NIC], 1)
	require.Len(t, s.Nodes[NET], 1)

	cpu := &s.Nodes[CPU][0]
	assert.Equal(t, CPUArchX86, cpu.CPU.Arch)
	assert.Equal(t, CPUVendorIntel, cpu.CPU.Vendor)
	assert.Equal(t, CPUModelSKL, cpu.CPU.Model)
	assert.Equal(t, 16, cpu.CPU.Affinity.Count())

	apu := &s.Nodes[APU][0]
	assert.Equal(t, 0, apu.APU.Dev)
	assert.Equal(t, 0, apu.APU.Rank)

	net := &s.Nodes[NET][0]
	assert.Equal(t, uint64(0xa), net.Net.GUID)
	assert.InDelta(t, 12.5, net.Net.BW, 1e-9)
	assert.Equal(t, 1, net.Net.Port)
	assert.Equal(t, 128, net.Net.MaxConn)

	require.NoError(t, s.Validate())
}

func TestBuildBDWModel(t *testing.T) {
	doc := `<system version="1">
  <cpu numaid="0" host_hash="0x1" arch="x86_64" vendor="GenuineIntel" familyid="6" modelid="79"/>
</system>`
	s := buildFromString(t, doc, 0x1)
	assert.Equal(t, CPUModelBDW, s.Nodes[CPU][0].CPU.Model)
}

func TestBuildYongfengModel(t *testing.T) {
	doc := `<system version="1">
  <cpu numaid="0" host_hash="0x1" arch="x86_64" vendor="CentaurHauls" familyid="7" modelid="91"/>
</system>`
	s := buildFromString(t, doc, 0x1)
	assert.Equal(t, CPUVendorZhaoxin, s.Nodes[CPU][0].CPU.Vendor)
	assert.Equal(t, CPUModelYongfeng, s.Nodes[CPU][0].CPU.Model)
}

func TestBuildMultiPortNICMerge(t *testing.T) {
	// two pci functions of one physical NIC differ only in the low bus-id
	// bits; they must merge into a single NIC node with two NET ports
	doc := `<system version="1">
  <cpu numaid="0" host_hash="0x1" arch="x86_64" vendor="AuthenticAMD">
    <pci busid="0000:1a:00.0" link_speed="16.0 GT/s PCIe" link_width="16">
      <nic>
        <net dev="0" speed="100000" port="1" latency="1.0" maxConn="64"/>
      </nic>
    </pci>
    <pci busid="0000:1a:00.1" link_speed="16.0 GT/s PCIe" link_width="16">
      <nic>
        <net dev="1" speed="100000" port="2" latency="1.0" maxConn="64"/>
      </nic>
    </pci>
  </cpu>
</system>`
	s := buildFromString(t, doc, 0x1)

	require.Len(t, s.Nodes[NIC], 1)
	require.Len(t, s.Nodes[NET], 2)

	// guid defaults to the device index when absent
	assert.Equal(t, uint64(0), s.Nodes[NET][0].Net.GUID)
	assert.Equal(t, uint64(1), s.Nodes[NET][1].Net.GUID)
}

func TestBuildCPUAttachedNIC(t *testing.T) {
	doc := `<system version="1">
  <cpu numaid="0" host_hash="0x1" arch="arm64">
    <nic>
      <net dev="0" speed="25000" port="1" latency="2.0" maxConn="32"/>
    </nic>
  </cpu>
</system>`
	s := buildFromString(t, doc, 0x1)

	require.Len(t, s.Nodes[NIC], 1)
	require.Len(t, s.Nodes[NET], 1)
	assert.InDelta(t, 3.125, s.Nodes[NET][0].Net.BW, 1e-9)

	// the synthesized NIC hangs off the CPU with a local-class PCI link
	nic := &s.Nodes[NIC][0]
	var toCPU *Link
	for i := range nic.Links {
		if nic.Links[i].Remote.Kind == CPU {
			toCPU = &nic.Links[i]
		}
	}
	require.NotNil(t, toCPU)
	assert.Equal(t, LinkPCI, toCPU.Kind)
	assert.Equal(t, LocBW, toCPU.BW)
}

func TestBuildSpeedDefaults(t *testing.T) {
	// no speed attribute: mbps floors at 10000 => 1.25 GB/s
	doc := `<system version="1">
  <cpu numaid="0" host_hash="0x1" arch="ppc64">
    <nic>
      <net dev="0" port="1" latency="0.5" maxConn="16"/>
    </nic>
  </cpu>
</system>`
	s := buildFromString(t, doc, 0x1)
	assert.InDelta(t, 1.25, s.Nodes[NET][0].Net.BW, 1e-9)
}

func TestBuildMissingRequiredAttr(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "cpu without numaid",
			doc:  `<system><cpu host_hash="0x1" arch="x86_64" vendor="AuthenticAMD"/></system>`,
		},
		{
			name: "cpu without arch",
			doc:  `<system><cpu numaid="0" host_hash="0x1"/></system>`,
		},
		{
			name: "unknown arch",
			doc:  `<system><cpu numaid="0" host_hash="0x1" arch="riscv"/></system>`,
		},
		{
			name: "x86 without vendor",
			doc:  `<system><cpu numaid="0" host_hash="0x1" arch="x86_64"/></system>`,
		},
		{
			name: "intel without modelid",
			doc:  `<system><cpu numaid="0" host_hash="0x1" arch="x86_64" vendor="GenuineIntel" familyid="6"/></system>`,
		},
		{
			name: "pci without busid",
			doc:  `<system><cpu numaid="0" host_hash="0x1" arch="arm64"><pci link_width="16"/></cpu></system>`,
		},
		{
			name: "bad busid",
			doc:  `<system><cpu numaid="0" host_hash="0x1" arch="arm64"><pci busid="zz:xx"/></cpu></system>`,
		},
		{
			name: "apu without rank",
			doc:  `<system><cpu numaid="0" host_hash="0x1" arch="arm64"><pci busid="0000:17:00.0"><apu dev="0"/></pci></cpu></system>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := xmltree.Parse(strings.NewReader(tt.doc))
			require.NoError(t, err)

			_, err = BuildServerFromXML(root, 0x1)
			assert.True(t, errors.Is(err, ErrInvalidSchema), "got %v", err)
		})
	}
}

func TestBuildRejectsWrongRoot(t *testing.T) {
	root, err := xmltree.Parse(strings.NewReader(`<machine/>`))
	require.NoError(t, err)

	_, err = BuildServerFromXML(root, 0)
	assert.True(t, errors.Is(err, ErrInvalidSchema))
}

func TestParseBusID(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{in: "0000:17:00.0", want: 0x17000},
		{in: "0000:1a:00.1", want: 0x1a001},
		{in: "0001:00:02.3", want: 0x1000023},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBusID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, fmt.Sprintf("got %x", got))
		})
	}

	_, err := ParseBusID("not-a-busid")
	assert.Error(t, err)
	_, err = ParseBusID("")
	assert.Error(t, err)
}

func TestPCISpeedTable(t *testing.T) {
	assert.Equal(t, 15, pciSpeed("2.5 GT/s"))
	assert.Equal(t, 120, pciSpeed("16.0 GT/s PCIe"))
	assert.Equal(t, 240, pciSpeed("32 GT/s"))
	assert.Equal(t, 480, pciSpeed("64.0 GT/s PCIe"))
	// unknown strings fall back
	assert.Equal(t, 60, pciSpeed("11 GT/s"))
	assert.Equal(t, 60, pciSpeed(""))
}

func TestParseCPUSet(t *testing.T) {
	set, err := ParseCPUSet("0000ffff")
	require.NoError(t, err)
	assert.Equal(t, 16, set.Count())

	set, err = ParseCPUSet("ffffffff,00000000")
	require.NoError(t, err)
	assert.Equal(t, 32, set.Count())
	assert.Equal(t, uint64(0xffffffff00000000), set[0])

	_, err = ParseCPUSet("zz")
	assert.Error(t, err)

	empty, err := ParseCPUSet("0")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}
