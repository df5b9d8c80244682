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

	"github.com/nvidia/xccl-topology/pkg/metrics"
)

// bcmGen recognizes Broadcom PEX switches by their packed device word.
// Returns the switch generation, or 0 when the word does not match.
func bcmGen(device uint64, level int) int {
	if device&0xfffffffffffff000 == 0x1000c0101000a000 {
		return 4
	}
	if device&0xfffffffffffff000 == 0x1000c03010000000|uint64(level)*0x1000 {
		return 5
	}

	return 0
}

// FlattenBCMSwitches fuses Broadcom PEX switch trees that present one
// logical switch as a parent with same-generation sub-switches: devices
// below each sub-switch are reparented directly under the top switch and
// the sub-switch is removed. The top switch's low 16 device bits are
// forced to 0xffff so a later pass cannot match it again.
//
// Each fuse compacts the PCI arena, so the scan restarts from index 0
// after every successful flatten. Progress is monotone: every round
// either fuses at least one sub-switch or marks a parent.
func (s *Server) FlattenBCMSwitches() error {
	for restart := true; restart; {
		restart = false

		for i := 0; i < len(s.Nodes[PCI]); i++ {
			gen := bcmGen(s.Nodes[PCI][i].PCI.Device, 0)
			if gen == 0 {
				continue
			}

			parentID := s.Nodes[PCI][i].ID

			// collect sub switches of the same generation and drop the
			// parent's links to them
			sw := &s.Nodes[PCI][i]

			var subIDs []NodeID

			kept := sw.Links[:0]
			for _, l := range sw.Links {
				if l.Remote.Kind == PCI {
					if sub := s.NodeAt(l.Remote); bcmGen(sub.PCI.Device, 1) == gen {
						subIDs = append(subIDs, sub.ID)
						continue
					}
				}
				kept = append(kept, l)
			}
			sw.Links = kept

			for _, subID := range subIDs {
				if err := s.fuseSubSwitch(parentID, subID); err != nil {
					return err
				}
			}

			parentIdx, err := s.NodeIndex(PCI, parentID)
			if err != nil {
				return err
			}
			s.Nodes[PCI][parentIdx].PCI.Device |= 0xffff

			metrics.TotalSwitchesFlattened.Add(float64(len(subIDs)))
			slog.Debug("flattened BCM switch", "id", fmt.Sprintf("%x", uint64(parentID)), "fused", len(subIDs), "gen", gen)

			// the PCI arena compacted; scan again from the start
			restart = true

			break
		}
	}

	return nil
}

// fuseSubSwitch reparents everything below the sub-switch directly under
// the parent switch and removes the sub-switch. Both nodes are addressed
// by id because every removal compacts the arena.
func (s *Server) fuseSubSwitch(parentID, subID NodeID) error {
	parentIdx, err := s.NodeIndex(PCI, parentID)
	if err != nil {
		return err
	}

	subIdx, err := s.NodeIndex(PCI, subID)
	if err != nil {
		return err
	}

	parentRef := NodeRef{Kind: PCI, Index: parentIdx}
	subRef := NodeRef{Kind: PCI, Index: subIdx}

	sub := s.NodeAt(subRef)
	for _, l := range sub.Links {
		if l.Remote == parentRef {
			continue
		}

		parent := s.NodeAt(parentRef)
		if len(parent.Links) == MaxLinks {
			return fmt.Errorf("%w: too many links on switch %x while flattening (max %d)", ErrCapacity, uint64(parentID), MaxLinks)
		}
		parent.Links = append(parent.Links, l)

		// rewrite the reparented device's reverse edge
		rem := s.NodeAt(l.Remote)
		for ri := range rem.Links {
			if rem.Links[ri].Remote == subRef {
				rem.Links[ri].Remote = parentRef
				break
			}
		}
	}

	s.RemoveNode(subRef)

	return nil
}

// interCPUBandwidth is the per-architecture bandwidth of the socket
// interconnect.
func interCPUBandwidth(cpu *Node) float64 {
	switch cpu.CPU.Arch {
	case CPUArchPower:
		return P9Bw
	case CPUArchARM:
		return ARMBw
	case CPUArchX86:
		switch cpu.CPU.Vendor {
		case CPUVendorIntel:
			if cpu.CPU.Model == CPUModelSKL {
				return SKLQPIBw
			}
			return QPIBw
		case CPUVendorAMD:
			return AMDBw
		case CPUVendorZhaoxin:
			if cpu.CPU.Model == CPUModelYongfeng {
				return YongfengZPIBw
			}
			return ZPIBw
		}
	}

	return LocBW
}

// ConnectCPUs adds SYS links between every pair of CPU nodes that share
// a server id.
func (s *Server) ConnectCPUs() error {
	for i := range s.Nodes[CPU] {
		for j := range s.Nodes[CPU] {
			if i == j || s.Nodes[CPU][i].ID.Server() != s.Nodes[CPU][j].ID.Server() {
				continue
			}

			bw := interCPUBandwidth(&s.Nodes[CPU][i])
			if err := s.Connect(NodeRef{Kind: CPU, Index: i}, NodeRef{Kind: CPU, Index: j}, LinkSYS, bw); err != nil {
				return err
			}
		}
	}

	return nil
}
