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
	"container/heap"
	"time"

	"github.com/nvidia/xccl-topology/pkg/metrics"
)

// linkPathType maps one link traversal onto the path-kind lattice.
// PCI segments are refined by structure: switch-to-switch hops become
// PXB and hops touching a CPU become PHB. A NET link inside the server
// (NIC to its port) does not worsen the class; NET routes are the
// inter-server business of the route map.
func linkPathType(l Link, from, to *Node) PathKind {
	var t PathKind

	switch l.Kind {
	case LinkNET:
		t = PathLOC
	case LinkPCI:
		t = PathPIX
		if from.Kind == PCI && to.Kind == PCI {
			t = PathPXB
		}
		if from.Kind == CPU || to.Kind == CPU {
			t = PathPHB
		}
	default:
		t = PathKind(l.Kind)
	}

	return t
}

// pathState is the running optimum for one node during the search.
type pathState struct {
	bw      float64
	kind    PathKind
	settled bool
	reached bool
	prev    NodeRef
	hasPrev bool
}

// better reports whether (bw1, kind1) beats (bw2, kind2) under the
// lexicographic (max bandwidth, then best class) order.
func better(bw1 float64, k1 PathKind, bw2 float64, k2 PathKind) bool {
	if bw1 != bw2 {
		return bw1 > bw2
	}

	return k1 < k2
}

type pqItem struct {
	ref  NodeRef
	bw   float64
	kind PathKind
}

type pathQueue []pqItem

func (q pathQueue) Len() int { return len(q) }
func (q pathQueue) Less(i, j int) bool {
	return better(q[i].bw, q[i].kind, q[j].bw, q[j].kind)
}
func (q pathQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x any)        { *q = append(*q, x.(pqItem)) }
func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]

	return it
}

// ComputePaths computes, for every node, the best route to every other
// node: among all routes the chosen one maximizes (bandwidth, -worst
// class) lexicographically, where bandwidth is the minimum link
// bandwidth along the route and the class is the worst link class (PCI
// refined per linkPathType). Unreachable destinations get PathDIS with
// zero bandwidth.
//
// Runs after normalization; query functions read the result without
// synchronization.
func (s *Server) ComputePaths() {
	start := time.Now()

	for k := NodeKind(0); k < NumNodeKinds; k++ {
		for i := range s.Nodes[k] {
			s.computePathsFrom(NodeRef{Kind: k, Index: i})
		}
	}

	metrics.PathComputationDuration.Observe(time.Since(start).Seconds())
}

func (s *Server) computePathsFrom(src NodeRef) {
	var states [NumNodeKinds][]pathState

	for k := NodeKind(0); k < NumNodeKinds; k++ {
		states[k] = make([]pathState, len(s.Nodes[k]))
	}

	st := &states[src.Kind][src.Index]
	st.bw = LocBW
	st.kind = PathLOC
	st.reached = true

	q := &pathQueue{{ref: src, bw: LocBW, kind: PathLOC}}
	heap.Init(q)

	for q.Len() > 0 {
		it := heap.Pop(q).(pqItem)

		cur := &states[it.ref.Kind][it.ref.Index]
		if cur.settled {
			continue // stale queue entry
		}
		cur.settled = true

		node := s.NodeAt(it.ref)
		for _, l := range node.Links {
			if l.Remote == it.ref {
				continue // self link
			}

			next := &states[l.Remote.Kind][l.Remote.Index]
			if next.settled {
				continue
			}

			nbw := cur.bw
			if l.BW < nbw {
				nbw = l.BW
			}

			nkind := linkPathType(l, node, s.NodeAt(l.Remote))
			if cur.kind > nkind {
				nkind = cur.kind
			}

			if !next.reached || better(nbw, nkind, next.bw, next.kind) {
				next.bw = nbw
				next.kind = nkind
				next.reached = true
				next.prev = it.ref
				next.hasPrev = true
				heap.Push(q, pqItem{ref: l.Remote, bw: nbw, kind: nkind})
			}
		}
	}

	srcNode := s.NodeAt(src)
	for k := NodeKind(0); k < NumNodeKinds; k++ {
		paths := make([]Path, len(s.Nodes[k]))
		for i := range paths {
			st := &states[k][i]
			if !st.reached {
				paths[i] = Path{Kind: PathDIS, BW: 0}
				continue
			}

			paths[i] = Path{
				Kind: st.kind,
				BW:   st.bw,
				Hops: reconstructHops(&states, src, NodeRef{Kind: k, Index: i}),
			}
		}
		srcNode.Paths[k] = paths
	}
}

// reconstructHops returns the node sequence from the first hop after src
// through dst. The source's route to itself has no hops.
func reconstructHops(states *[NumNodeKinds][]pathState, src, dst NodeRef) []NodeRef {
	if src == dst {
		return nil
	}

	var rev []NodeRef

	for at := dst; at != src; {
		rev = append(rev, at)
		st := &states[at.Kind][at.Index]
		if !st.hasPrev {
			return nil
		}
		at = st.prev
	}

	hops := make([]NodeRef, len(rev))
	for i := range rev {
		hops[i] = rev[len(rev)-1-i]
	}

	return hops
}
