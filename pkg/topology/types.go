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

// Package topology builds and queries the hardware topology of a
// heterogeneous cluster: accelerators, CPUs, PCI switches and network
// ports within each host, and the inter-server routes between hosts.
//
// The graph is built once per communicator from an XML document,
// normalized, and path-annotated; after initialization all query
// functions are pure reads and safe for concurrent use.
package topology

import "errors"

// Error kinds surfaced at the package boundary. All returned errors wrap
// one of these; classify with errors.Is.
var (
	ErrCapacity         = errors.New("topology: capacity exceeded")
	ErrNotFound         = errors.New("topology: not found")
	ErrInvalidSchema    = errors.New("topology: invalid schema")
	ErrBootstrapFailure = errors.New("topology: bootstrap failure")
	ErrAdaptorFailure   = errors.New("topology: device adaptor failure")
	ErrInternal         = errors.New("topology: internal error")
)

// Bounds on the per-host graph. A server topology holds at most MaxNodes
// nodes of each kind, MaxLinks links per node, and MaxHosts distinct host
// hashes. These sizes fix the wire footprint of a flattened server.
const (
	MaxNodes    = 64
	MaxLinks    = 32
	MaxHosts    = 64
	MaxSwitches = 8
)

// Undef marks integer device attributes that have not been assigned.
const Undef = -1

// NodeKind is the closed set of hardware node types.
type NodeKind int

const (
	APU NodeKind = iota // accelerator processing unit
	PCI
	CCI
	CPU
	NIC
	NET
	HBD
	NumNodeKinds
)

var nodeKindNames = [NumNodeKinds]string{"APU", "PCI", "CCI", "CPU", "NIC", "NET", "HBD"}

func (k NodeKind) String() string {
	if k < 0 || k >= NumNodeKinds {
		return "???"
	}

	return nodeKindNames[k]
}

// LinkKind is the closed set of edge classes. The numeric values line up
// with the PathKind lattice so a link class can participate directly in
// the worst-class reduction.
type LinkKind int

const (
	LinkLOC LinkKind = 0
	LinkCCI LinkKind = 1
	LinkPCI LinkKind = 3
	LinkSYS LinkKind = 7
	LinkNET LinkKind = 8
)

func (k LinkKind) String() string {
	switch k {
	case LinkLOC:
		return "LOC"
	case LinkCCI:
		return "CCI"
	case LinkPCI:
		return "PCI"
	case LinkSYS:
		return "SYS"
	case LinkNET:
		return "NET"
	default:
		return "???"
	}
}

// PathKind classifies a multi-hop route, ordered best to worst. The path
// type of a route is the worst link class along it, with PCI segments
// refined into PIX/PXB/PHB by structure.
type PathKind int

const (
	PathLOC PathKind = iota
	PathCCI
	PathCCB
	PathPIX
	PathPXB
	PathPXN
	PathPHB
	PathSYS
	PathNET
	PathDIS
)

var pathKindNames = [...]string{"LOC", "CCI", "CCB", "PIX", "PXB", "PXN", "PHB", "SYS", "NET", "DIS"}

func (k PathKind) String() string {
	if k < 0 || int(k) >= len(pathKindNames) {
		return "???"
	}

	return pathKindNames[k]
}

// Link bandwidth constants, GB/s.
const (
	LocBW         = 5000.0
	QPIBw         = 6.0
	SKLQPIBw      = 10.0
	AMDBw         = 16.0
	P9Bw          = 32.0
	ARMBw         = 6.0
	ZPIBw         = 6.0
	YongfengZPIBw = 9.0
)

// CPUArch is the processor architecture of a CPU node.
type CPUArch int

const (
	CPUArchUndef CPUArch = iota
	CPUArchX86
	CPUArchARM
	CPUArchPower
)

// CPUVendor is the x86 vendor of a CPU node.
type CPUVendor int

const (
	CPUVendorUndef CPUVendor = iota
	CPUVendorIntel
	CPUVendorAMD
	CPUVendorZhaoxin
)

// CPUModel refines vendor-specific CPU generations that matter for
// interconnect bandwidth.
type CPUModel int

const (
	CPUModelUndef CPUModel = iota
	CPUModelSKL
	CPUModelBDW
	CPUModelYongfeng
)

// NodeID packs a server id in the high half and a host-local id in the
// low half.
type NodeID uint64

// MakeNodeID builds a NodeID from a server id and a host-local id.
func MakeNodeID(serverID int, localID uint64) NodeID {
	return NodeID(uint64(serverID)<<32 | localID&0xffffffff)
}

// Server returns the server-id half of the id.
func (id NodeID) Server() int { return int(uint64(id) >> 32) }

// Local returns the host-local half of the id.
func (id NodeID) Local() uint64 { return uint64(id) & 0xffffffff }

// NodeRef is a weak reference to a node as a (kind, index) pair into the
// owning server's arenas. Refs stay cheap to remap when an arena compacts
// and flatten verbatim onto the wire.
type NodeRef struct {
	Kind  NodeKind
	Index int
}

// Link is a directed edge. Symmetric relations are stored as two links,
// one per direction.
type Link struct {
	Kind   LinkKind
	Remote NodeRef
	BW     float64
}

// Path is the chosen route from one node to one destination: the worst
// link class along it, the minimum bandwidth along it, and the node
// sequence from the first hop to the destination.
type Path struct {
	Kind PathKind
	BW   float64
	Hops []NodeRef
}

// APUInfo is the accelerator payload of an APU node.
type APUInfo struct {
	Dev    int
	Rank   int
	Vendor int
}

// CPUInfo is the processor payload of a CPU node.
type CPUInfo struct {
	Arch     CPUArch
	Vendor   CPUVendor
	Model    CPUModel
	Affinity CPUSet
}

// PCIInfo packs vendor, device, subsystem-vendor and subsystem-device
// ids into four 16-bit slots of one word, high to low.
type PCIInfo struct {
	Device uint64
}

// NetInfo is the network-port payload of a NET node.
type NetInfo struct {
	Dev       int
	GUID      uint64
	Port      int
	BW        float64
	LatencyUs float64
	MaxConn   int
}

// Node is one vertex of the typed graph. Exactly one of the payload
// fields is meaningful, selected by Kind.
type Node struct {
	Kind  NodeKind
	ID    NodeID
	Links []Link

	// Paths[d][i] is the chosen route to the i-th node of kind d,
	// populated by ComputePaths. nil until then.
	Paths [NumNodeKinds][]Path

	APU APUInfo
	CPU CPUInfo
	PCI PCIInfo
	Net NetInfo
}

// Server is the per-host topology: one arena per node kind plus the host
// table this server knows about. The server exclusively owns its nodes,
// links and path vectors.
type Server struct {
	ServerID   int
	NHosts     int
	HostHashes [MaxHosts]uint64

	Nodes [NumNodeKinds][]Node
}

// NewServer returns an empty server. Arenas are preallocated at full
// capacity so node pointers handed out by CreateNode stay valid across
// later appends.
func NewServer() *Server {
	s := &Server{}
	for k := range s.Nodes {
		s.Nodes[k] = make([]Node, 0, MaxNodes)
	}

	return s
}

// NodeAt resolves a weak reference to the node it names.
func (s *Server) NodeAt(ref NodeRef) *Node {
	return &s.Nodes[ref.Kind][ref.Index]
}
