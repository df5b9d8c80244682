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
	"encoding/binary"
	"fmt"
	"math"
)

// The flat form mirrors the server graph without pointers: links name
// their remote node as a (kind, index) pair and path vectors are not
// carried — they are recomputed after unflatten. Capacities are fixed so
// every flattened server marshals to the same number of bytes and slots
// directly into the bootstrap all-gather.

// FlatLink is the wire form of one link.
type FlatLink struct {
	Kind        LinkKind
	RemoteKind  NodeKind
	RemoteIndex int32
	BW          float64
}

// FlatNode is the wire form of one node. All payload fields are present
// regardless of kind; only the fields selected by Kind are meaningful.
// CPU affinity is host-local and intentionally not transmitted.
type FlatNode struct {
	Kind   NodeKind
	ID     NodeID
	NLinks int32

	APUDev    int32
	APURank   int32
	APUVendor int32

	CPUArch   int32
	CPUVendor int32
	CPUModel  int32

	PCIDevice uint64

	NetDev     int32
	NetGUID    uint64
	NetPort    int32
	NetBW      float64
	NetLatency float64
	NetMaxConn int32

	Links [MaxLinks]FlatLink
}

// FlatNodeSet is the wire form of one node arena.
type FlatNodeSet struct {
	Count int32
	Nodes [MaxNodes]FlatNode
}

// FlatServer is the wire form of a whole server topology.
type FlatServer struct {
	ServerID   int32
	NHosts     int32
	HostHashes [MaxHosts]uint64
	Sets       [NumNodeKinds]FlatNodeSet
}

// Wire sizes, bytes.
const (
	flatLinkSize   = 1 + 1 + 4 + 8
	flatPayload    = 3*4 + 3*4 + 8 + (4 + 8 + 4 + 8 + 8 + 4)
	flatNodeSize   = 1 + 8 + 4 + flatPayload + MaxLinks*flatLinkSize
	flatSetSize    = 4 + MaxNodes*flatNodeSize
	FlatServerSize = 4 + 4 + MaxHosts*8 + int(NumNodeKinds)*flatSetSize
)

// Flatten converts the server graph to its wire form. Nodes are laid out
// first and links after, so every (kind, index) reference is stable.
func Flatten(s *Server) *FlatServer {
	f := &FlatServer{
		ServerID:   int32(s.ServerID),
		NHosts:     int32(s.NHosts),
		HostHashes: s.HostHashes,
	}

	for k := NodeKind(0); k < NumNodeKinds; k++ {
		set := &f.Sets[k]
		set.Count = int32(len(s.Nodes[k]))
		for n := range s.Nodes[k] {
			flattenNode(&s.Nodes[k][n], &set.Nodes[n])
		}
	}

	for k := NodeKind(0); k < NumNodeKinds; k++ {
		for n := range s.Nodes[k] {
			node := &s.Nodes[k][n]
			for l, link := range node.Links {
				f.Sets[k].Nodes[n].Links[l] = FlatLink{
					Kind:        link.Kind,
					RemoteKind:  link.Remote.Kind,
					RemoteIndex: int32(link.Remote.Index),
					BW:          link.BW,
				}
			}
		}
	}

	return f
}

func flattenNode(node *Node, flat *FlatNode) {
	flat.Kind = node.Kind
	flat.ID = node.ID
	flat.NLinks = int32(len(node.Links))

	switch node.Kind {
	case APU:
		flat.APUDev = int32(node.APU.Dev)
		flat.APURank = int32(node.APU.Rank)
		flat.APUVendor = int32(node.APU.Vendor)
	case CPU:
		flat.CPUArch = int32(node.CPU.Arch)
		flat.CPUVendor = int32(node.CPU.Vendor)
		flat.CPUModel = int32(node.CPU.Model)
	case PCI:
		flat.PCIDevice = node.PCI.Device
	case NET:
		flat.NetDev = int32(node.Net.Dev)
		flat.NetGUID = node.Net.GUID
		flat.NetPort = int32(node.Net.Port)
		flat.NetBW = node.Net.BW
		flat.NetLatency = node.Net.LatencyUs
		flat.NetMaxConn = int32(node.Net.MaxConn)
	}
}

// Unflatten rebuilds a server graph from its wire form: nodes first,
// then links, resolving every (kind, index) pair back to a reference.
// Path vectors are left empty for ComputePaths.
func Unflatten(f *FlatServer) (*Server, error) {
	s := NewServer()
	s.ServerID = int(f.ServerID)
	s.NHosts = int(f.NHosts)
	s.HostHashes = f.HostHashes

	for k := NodeKind(0); k < NumNodeKinds; k++ {
		if f.Sets[k].Count < 0 || f.Sets[k].Count > MaxNodes {
			return nil, fmt.Errorf("%w: flat node set %s has count %d", ErrInternal, k, f.Sets[k].Count)
		}
		for n := 0; n < int(f.Sets[k].Count); n++ {
			flat := &f.Sets[k].Nodes[n]
			node := Node{Kind: flat.Kind, ID: flat.ID}
			unflattenNode(flat, &node)
			s.Nodes[k] = append(s.Nodes[k], node)
		}
	}

	for k := NodeKind(0); k < NumNodeKinds; k++ {
		for n := range s.Nodes[k] {
			flat := &f.Sets[k].Nodes[n]
			if flat.NLinks < 0 || flat.NLinks > MaxLinks {
				return nil, fmt.Errorf("%w: flat node has %d links", ErrInternal, flat.NLinks)
			}
			node := &s.Nodes[k][n]
			node.Links = make([]Link, flat.NLinks)
			for l := 0; l < int(flat.NLinks); l++ {
				fl := &flat.Links[l]
				if fl.RemoteKind < 0 || fl.RemoteKind >= NumNodeKinds || fl.RemoteIndex < 0 ||
					int(fl.RemoteIndex) >= len(s.Nodes[fl.RemoteKind]) {
					return nil, fmt.Errorf("%w: flat link references %s/%d", ErrInternal, fl.RemoteKind, fl.RemoteIndex)
				}
				node.Links[l] = Link{
					Kind:   fl.Kind,
					Remote: NodeRef{Kind: fl.RemoteKind, Index: int(fl.RemoteIndex)},
					BW:     fl.BW,
				}
			}
		}
	}

	return s, nil
}

func unflattenNode(flat *FlatNode, node *Node) {
	switch flat.Kind {
	case APU:
		node.APU.Dev = int(flat.APUDev)
		node.APU.Rank = int(flat.APURank)
		node.APU.Vendor = int(flat.APUVendor)
	case CPU:
		node.CPU.Arch = CPUArch(flat.CPUArch)
		node.CPU.Vendor = CPUVendor(flat.CPUVendor)
		node.CPU.Model = CPUModel(flat.CPUModel)
	case PCI:
		node.PCI.Device = flat.PCIDevice
	case NET:
		node.Net.Dev = int(flat.NetDev)
		node.Net.GUID = flat.NetGUID
		node.Net.Port = int(flat.NetPort)
		node.Net.BW = flat.NetBW
		node.Net.LatencyUs = flat.NetLatency
		node.Net.MaxConn = int(flat.NetMaxConn)
	}
}

type wireCursor struct {
	buf []byte
	off int
}

func (c *wireCursor) putU8(v uint8)   { c.buf[c.off] = v; c.off++ }
func (c *wireCursor) putI32(v int32)  { binary.LittleEndian.PutUint32(c.buf[c.off:], uint32(v)); c.off += 4 }
func (c *wireCursor) putU64(v uint64) { binary.LittleEndian.PutUint64(c.buf[c.off:], v); c.off += 8 }
func (c *wireCursor) putF64(v float64) {
	binary.LittleEndian.PutUint64(c.buf[c.off:], math.Float64bits(v))
	c.off += 8
}

func (c *wireCursor) u8() uint8 { v := c.buf[c.off]; c.off++; return v }
func (c *wireCursor) i32() int32 {
	v := int32(binary.LittleEndian.Uint32(c.buf[c.off:]))
	c.off += 4

	return v
}
func (c *wireCursor) u64() uint64 {
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8

	return v
}
func (c *wireCursor) f64() float64 {
	v := math.Float64frombits(binary.LittleEndian.Uint64(c.buf[c.off:]))
	c.off += 8

	return v
}

// MarshalBinary encodes the flat server into exactly FlatServerSize
// little-endian bytes.
func (f *FlatServer) MarshalBinary() ([]byte, error) {
	c := &wireCursor{buf: make([]byte, FlatServerSize)}

	c.putI32(f.ServerID)
	c.putI32(f.NHosts)
	for _, h := range f.HostHashes {
		c.putU64(h)
	}

	for k := 0; k < int(NumNodeKinds); k++ {
		set := &f.Sets[k]
		c.putI32(set.Count)
		for n := range set.Nodes {
			node := &set.Nodes[n]
			c.putU8(uint8(node.Kind))
			c.putU64(uint64(node.ID))
			c.putI32(node.NLinks)
			c.putI32(node.APUDev)
			c.putI32(node.APURank)
			c.putI32(node.APUVendor)
			c.putI32(node.CPUArch)
			c.putI32(node.CPUVendor)
			c.putI32(node.CPUModel)
			c.putU64(node.PCIDevice)
			c.putI32(node.NetDev)
			c.putU64(node.NetGUID)
			c.putI32(node.NetPort)
			c.putF64(node.NetBW)
			c.putF64(node.NetLatency)
			c.putI32(node.NetMaxConn)
			for l := range node.Links {
				link := &node.Links[l]
				c.putU8(uint8(link.Kind))
				c.putU8(uint8(link.RemoteKind))
				c.putI32(link.RemoteIndex)
				c.putF64(link.BW)
			}
		}
	}

	if c.off != FlatServerSize {
		return nil, fmt.Errorf("%w: flat server encoded %d bytes, want %d", ErrInternal, c.off, FlatServerSize)
	}

	return c.buf, nil
}

// UnmarshalBinary decodes a FlatServerSize-byte record.
func (f *FlatServer) UnmarshalBinary(data []byte) error {
	if len(data) != FlatServerSize {
		return fmt.Errorf("%w: flat server record is %d bytes, want %d", ErrInternal, len(data), FlatServerSize)
	}

	c := &wireCursor{buf: data}

	f.ServerID = c.i32()
	f.NHosts = c.i32()
	for h := range f.HostHashes {
		f.HostHashes[h] = c.u64()
	}

	for k := 0; k < int(NumNodeKinds); k++ {
		set := &f.Sets[k]
		set.Count = c.i32()
		for n := range set.Nodes {
			node := &set.Nodes[n]
			node.Kind = NodeKind(c.u8())
			node.ID = NodeID(c.u64())
			node.NLinks = c.i32()
			node.APUDev = c.i32()
			node.APURank = c.i32()
			node.APUVendor = c.i32()
			node.CPUArch = c.i32()
			node.CPUVendor = c.i32()
			node.CPUModel = c.i32()
			node.PCIDevice = c.u64()
			node.NetDev = c.i32()
			node.NetGUID = c.u64()
			node.NetPort = c.i32()
			node.NetBW = c.f64()
			node.NetLatency = c.f64()
			node.NetMaxConn = c.i32()
			for l := range node.Links {
				link := &node.Links[l]
				link.Kind = LinkKind(c.u8())
				link.RemoteKind = NodeKind(c.u8())
				link.RemoteIndex = c.i32()
				link.BW = c.f64()
			}
		}
	}

	return nil
}
