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

	"github.com/nvidia/xccl-topology/pkg/metrics"
)

// CreateNode appends a node of the given kind and returns its reference.
// Kind-specific defaults are applied: an APU gets its LOC self-link and
// undefined device/rank, a CPU gets undefined arch/vendor/model, a NET
// node starts zeroed.
func (s *Server) CreateNode(kind NodeKind, id NodeID) (NodeRef, error) {
	if len(s.Nodes[kind]) == MaxNodes {
		return NodeRef{}, fmt.Errorf("%w: too many nodes of kind %s (max %d)", ErrCapacity, kind, MaxNodes)
	}

	ref := NodeRef{Kind: kind, Index: len(s.Nodes[kind])}
	s.Nodes[kind] = append(s.Nodes[kind], Node{Kind: kind, ID: id})
	n := s.NodeAt(ref)

	switch kind {
	case APU:
		n.Links = append(n.Links, Link{Kind: LinkLOC, Remote: ref, BW: LocBW})
		n.APU.Dev = Undef
		n.APU.Rank = Undef
	case CPU:
		n.CPU.Arch = CPUArchUndef
		n.CPU.Vendor = CPUVendorUndef
		n.CPU.Model = CPUModelUndef
	}

	metrics.TotalNodesCreated.WithLabelValues(kind.String()).Inc()

	return ref, nil
}

// FindNode returns the reference of the node with the given kind and id.
// A miss is not an error; ok is false.
func (s *Server) FindNode(kind NodeKind, id NodeID) (NodeRef, bool) {
	for i := range s.Nodes[kind] {
		if s.Nodes[kind][i].ID == id {
			return NodeRef{Kind: kind, Index: i}, true
		}
	}

	return NodeRef{}, false
}

// NodeIndex returns the arena index of the node with the given id. Unlike
// FindNode, a miss is an internal error: callers use it only for ids that
// must exist.
func (s *Server) NodeIndex(kind NodeKind, id NodeID) (int, error) {
	for i := range s.Nodes[kind] {
		if s.Nodes[kind][i].ID == id {
			return i, nil
		}
	}

	return -1, fmt.Errorf("%w: no %s node with id %x", ErrInternal, kind, uint64(id))
}

// Connect adds a directed link of the given kind from one node to
// another. If a link of the same kind to the same remote already exists,
// bw accumulates onto it instead.
func (s *Server) Connect(from, to NodeRef, kind LinkKind, bw float64) error {
	n := s.NodeAt(from)

	for i := range n.Links {
		if n.Links[i].Remote == to && n.Links[i].Kind == kind {
			n.Links[i].BW += bw
			return nil
		}
	}

	if len(n.Links) == MaxLinks {
		return fmt.Errorf("%w: too many links on node %s/%x (max %d)", ErrCapacity, n.Kind, uint64(n.ID), MaxLinks)
	}

	n.Links = append(n.Links, Link{Kind: kind, Remote: to, BW: bw})
	metrics.TotalLinksCreated.Inc()

	return nil
}

// ConnectBoth adds the link in both directions with equal bandwidth.
func (s *Server) ConnectBoth(a, b NodeRef, kind LinkKind, bw float64) error {
	if err := s.Connect(a, b, kind, bw); err != nil {
		return err
	}

	return s.Connect(b, a, kind, bw)
}

// RemoveNode deletes the referenced node and compacts its arena. Links on
// surviving nodes that pointed at the victim are dropped in place; weak
// references to same-kind nodes stored after the victim are remapped in
// the same pass, so no reference is ever left dangling.
//
// RemoveNode runs only during normalization, before path computation;
// path vectors on surviving nodes are not remapped.
func (s *Server) RemoveNode(victim NodeRef) {
	for t := NodeKind(0); t < NumNodeKinds; t++ {
		for n := range s.Nodes[t] {
			if t == victim.Kind && n == victim.Index {
				continue
			}

			node := &s.Nodes[t][n]
			kept := node.Links[:0]
			for _, l := range node.Links {
				if l.Remote == victim {
					continue
				}
				if l.Remote.Kind == victim.Kind && l.Remote.Index > victim.Index {
					l.Remote.Index--
				}
				kept = append(kept, l)
			}
			node.Links = kept
		}
	}

	// self-links on shifted nodes were remapped above with everything
	// else; all that remains is compacting the victim's arena
	arena := s.Nodes[victim.Kind]
	copy(arena[victim.Index:], arena[victim.Index+1:])
	s.Nodes[victim.Kind] = arena[:len(arena)-1]
}
