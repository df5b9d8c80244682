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
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nvidia/xccl-topology/pkg/xmltree"
)

// pciGenTable maps the link_speed attribute to a per-lane bandwidth
// factor; width * factor / 80 yields GB/s.
var pciGenTable = []struct {
	speed string
	value int
}{
	{"2.5 GT/s", 15},
	{"5 GT/s", 30},
	{"8 GT/s", 60},
	{"16 GT/s", 120},
	{"32 GT/s", 240}, /* Kernel 5.6 and earlier */
	{"2.5 GT/s PCIe", 15},
	{"5.0 GT/s PCIe", 30},
	{"8.0 GT/s PCIe", 60},
	{"16.0 GT/s PCIe", 120},
	{"32.0 GT/s PCIe", 240},
	{"64.0 GT/s PCIe", 480},
}

const pciGenDefault = 60

func pciSpeed(linkSpeed string) int {
	for _, e := range pciGenTable {
		if e.speed == linkSpeed {
			return e.value
		}
	}

	return pciGenDefault
}

var cpuArchTable = map[string]CPUArch{
	"x86_64": CPUArchX86,
	"arm64":  CPUArchARM,
	"ppc64":  CPUArchPower,
}

var cpuVendorTable = map[string]CPUVendor{
	"GenuineIntel": CPUVendorIntel,
	"AuthenticAMD": CPUVendorAMD,
	"CentaurHauls": CPUVendorZhaoxin,
	"  Shanghai  ": CPUVendorZhaoxin,
}

// ParseBusID packs a PCI bus id string ("0000:17:00.0") into an integer
// by concatenating its hex digits.
func ParseBusID(busID string) (uint64, error) {
	var v uint64

	digits := 0
	for _, c := range busID {
		switch {
		case c == ':' || c == '.':
			continue
		case c >= '0' && c <= '9':
			v = v<<4 | uint64(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | uint64(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | uint64(c-'A'+10)
		default:
			return 0, fmt.Errorf("%w: bad PCI bus id %q", ErrInvalidSchema, busID)
		}
		digits++
	}

	if digits == 0 {
		return 0, fmt.Errorf("%w: empty PCI bus id", ErrInvalidSchema)
	}

	return v, nil
}

// BuildServerFromXML walks a parsed topology document and materializes
// the local server graph: CPU, PCI, APU, NIC and NET nodes with their
// links, normalized (BCM switch trees flattened, inter-CPU links added)
// and ready for path computation. localHostHash selects which host in
// the document is this server.
func BuildServerFromXML(root *xmltree.Node, localHostHash uint64) (*Server, error) {
	if root == nil || root.Name != "system" {
		return nil, fmt.Errorf("%w: topology root element must be <system>", ErrInvalidSchema)
	}

	s := NewServer()

	for _, cpu := range root.ChildrenNamed("cpu") {
		if err := s.addCPU(cpu); err != nil {
			return nil, err
		}
	}

	for serverID := 0; serverID < s.NHosts; serverID++ {
		if s.HostHashes[serverID] == localHostHash {
			s.ServerID = serverID
		}
	}

	if err := s.FlattenBCMSwitches(); err != nil {
		return nil, err
	}

	if err := s.ConnectCPUs(); err != nil {
		return nil, err
	}

	return s, nil
}

// serverIDForHost resolves the host_hash attribute of a cpu element to a
// dense server id, appending the hash on first sight.
func (s *Server) serverIDForHost(xmlCPU *xmltree.Node) (int, error) {
	var hostHash uint64

	if str, ok := xmlCPU.Attr("host_hash"); ok && str != "" {
		h, err := strconv.ParseUint(trimHexPrefix(str), 16, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: cpu host_hash %q is not a hex value: %v", ErrInvalidSchema, str, err)
		}
		hostHash = h
	}

	for serverID := 0; serverID < s.NHosts; serverID++ {
		if s.HostHashes[serverID] == hostHash {
			return serverID, nil
		}
	}

	if s.NHosts == MaxHosts {
		return 0, fmt.Errorf("%w: too many hosts (max %d)", ErrCapacity, MaxHosts)
	}

	s.HostHashes[s.NHosts] = hostHash
	s.NHosts++

	return s.NHosts - 1, nil
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}

	return s
}

func (s *Server) addCPU(xmlCPU *xmltree.Node) error {
	numaID, err := xmlCPU.AttrInt("numaid")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	serverID, err := s.serverIDForHost(xmlCPU)
	if err != nil {
		return err
	}

	cpuRef, err := s.CreateNode(CPU, MakeNodeID(serverID, uint64(numaID)))
	if err != nil {
		return err
	}

	cpu := s.NodeAt(cpuRef)

	if str, ok := xmlCPU.Attr("affinity"); ok && str != "" {
		cpu.CPU.Affinity, err = ParseCPUSet(str)
		if err != nil {
			return err
		}
	}

	arch, ok := xmlCPU.Attr("arch")
	if !ok {
		return fmt.Errorf("%w: cpu element missing arch attribute", ErrInvalidSchema)
	}

	cpu.CPU.Arch, ok = cpuArchTable[arch]
	if !ok {
		return fmt.Errorf("%w: unknown cpu arch %q", ErrInvalidSchema, arch)
	}

	if cpu.CPU.Arch == CPUArchX86 {
		if err := s.fillX86CPU(xmlCPU, cpu); err != nil {
			return err
		}
	}

	for _, child := range xmlCPU.Children {
		switch child.Name {
		case "pci":
			if err := s.addPCI(child, cpuRef, serverID); err != nil {
				return err
			}
		case "nic":
			// a CPU-attached network device rather than a PCI-enumerated one
			nicRef, found := s.FindNode(NIC, MakeNodeID(serverID, 0))
			if !found {
				nicRef, err = s.CreateNode(NIC, MakeNodeID(serverID, 0))
				if err != nil {
					return err
				}
				if err := s.ConnectBoth(cpuRef, nicRef, LinkPCI, LocBW); err != nil {
					return err
				}
			}
			if err := s.addNIC(child, nicRef, serverID); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Server) fillX86CPU(xmlCPU *xmltree.Node, cpu *Node) error {
	vendor, ok := xmlCPU.Attr("vendor")
	if !ok {
		return fmt.Errorf("%w: x86 cpu element missing vendor attribute", ErrInvalidSchema)
	}

	cpu.CPU.Vendor, ok = cpuVendorTable[vendor]
	if !ok {
		return fmt.Errorf("%w: unknown cpu vendor %q", ErrInvalidSchema, vendor)
	}

	switch cpu.CPU.Vendor {
	case CPUVendorIntel:
		familyID, err := xmlCPU.AttrInt("familyid")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}
		modelID, err := xmlCPU.AttrInt("modelid")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}
		if familyID == 6 && modelID >= 0x55 {
			cpu.CPU.Model = CPUModelSKL
		} else {
			cpu.CPU.Model = CPUModelBDW
		}
	case CPUVendorZhaoxin:
		familyID, err := xmlCPU.AttrInt("familyid")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}
		modelID, err := xmlCPU.AttrInt("modelid")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}
		if familyID == 7 && modelID == 0x5B {
			cpu.CPU.Model = CPUModelYongfeng
		}
	}

	return nil
}

func (s *Server) addPCI(xmlPCI *xmltree.Node, parent NodeRef, serverID int) error {
	busStr, ok := xmlPCI.Attr("busid")
	if !ok {
		return fmt.Errorf("%w: pci element missing busid attribute", ErrInvalidSchema)
	}

	busID, err := ParseBusID(busStr)
	if err != nil {
		return err
	}

	var nodeRef NodeRef

	created := false

	switch {
	case xmlPCI.Child("apu") != nil:
		nodeRef, err = s.CreateNode(APU, MakeNodeID(serverID, busID))
		if err != nil {
			return err
		}
		created = true
		if err := s.fillAPU(xmlPCI.Child("apu"), s.NodeAt(nodeRef)); err != nil {
			return err
		}
	case xmlPCI.Child("nic") != nil:
		// Ignore the sub device id and merge multi-port NICs into one
		// PCI device.
		busID &^= 0xf
		id := MakeNodeID(serverID, busID)
		nicRef, found := s.FindNode(NIC, id)
		if !found {
			nicRef, err = s.CreateNode(NIC, id)
			if err != nil {
				return err
			}
			nodeRef = nicRef
			created = true
		}
		if err := s.addNIC(xmlPCI.Child("nic"), nicRef, serverID); err != nil {
			return err
		}
	default:
		nodeRef, err = s.CreateNode(PCI, MakeNodeID(serverID, busID))
		if err != nil {
			return err
		}
		created = true

		node := s.NodeAt(nodeRef)
		node.PCI.Device = pciDeviceWord(xmlPCI)

		for _, sub := range xmlPCI.ChildrenNamed("pci") {
			if err := s.addPCI(sub, nodeRef, serverID); err != nil {
				return err
			}
			// the arena may have grown but never moves; refs stay valid
		}
	}

	if created {
		width := xmlPCI.AttrIntDefault("link_width", 16)
		if width == 0 {
			width = 16
		}
		linkSpeed, _ := xmlPCI.Attr("link_speed")
		bw := float64(width*pciSpeed(linkSpeed)) / 80.0
		if err := s.ConnectBoth(nodeRef, parent, LinkPCI, bw); err != nil {
			return err
		}
	}

	return nil
}

// pciDeviceWord packs vendor | device | subsystem_vendor |
// subsystem_device into four 16-bit slots, high to low.
func pciDeviceWord(xmlPCI *xmltree.Node) uint64 {
	var device uint64

	for i, attr := range []string{"vendor", "device", "subsystem_vendor", "subsystem_device"} {
		if str, ok := xmlPCI.Attr(attr); ok && str != "" {
			if v, err := strconv.ParseUint(trimHexPrefix(str), 16, 16); err == nil {
				device |= v << uint(48-16*i)
			}
		}
	}

	return device
}

func (s *Server) fillAPU(xmlAPU *xmltree.Node, apu *Node) error {
	dev, err := xmlAPU.AttrInt("dev")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	rank, err := xmlAPU.AttrInt("rank")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	apu.APU.Dev = dev
	apu.APU.Rank = rank

	return nil
}

func (s *Server) addNIC(xmlNIC *xmltree.Node, nic NodeRef, serverID int) error {
	for _, xmlNet := range xmlNIC.ChildrenNamed("net") {
		if _, ok := xmlNet.Attr("dev"); !ok {
			continue
		}
		if err := s.addNet(xmlNet, nic, serverID); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) addNet(xmlNet *xmltree.Node, nic NodeRef, serverID int) error {
	dev, err := xmlNet.AttrInt("dev")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	netRef, err := s.CreateNode(NET, MakeNodeID(serverID, uint64(dev)))
	if err != nil {
		return err
	}

	net := s.NodeAt(netRef)
	net.Net.Dev = dev

	guid, present, err := xmlNet.AttrUint64Hex("guid")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if present {
		net.Net.GUID = guid
	} else {
		net.Net.GUID = uint64(dev)
	}

	slog.Debug("adding net node", "dev", dev, "guid", fmt.Sprintf("%x", net.Net.GUID))

	mbps := xmlNet.AttrIntDefault("speed", 0)
	if mbps < 10000 {
		mbps = 10000
	}
	net.Net.BW = float64(mbps) / 8000.0

	net.Net.LatencyUs, err = xmlNet.AttrFloat("latency", 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	net.Net.Port, err = xmlNet.AttrInt("port")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	net.Net.MaxConn, err = xmlNet.AttrInt("maxConn")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	return s.ConnectBoth(nic, netRef, LinkNET, net.Net.BW)
}
