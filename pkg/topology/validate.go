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

	"github.com/hashicorp/go-multierror"
)

// Validate checks the structural invariants of the graph: every link
// resolves to a live node, link counts stay within bounds, every APU
// carries its LOC self-link, and every node id's server half names a
// known host. Violations are aggregated.
func (s *Server) Validate() error {
	var errs *multierror.Error

	for k := NodeKind(0); k < NumNodeKinds; k++ {
		for n := range s.Nodes[k] {
			node := &s.Nodes[k][n]

			if len(node.Links) > MaxLinks {
				errs = multierror.Append(errs, fmt.Errorf("node %s/%x has %d links (max %d)", k, uint64(node.ID), len(node.Links), MaxLinks))
			}

			for l, link := range node.Links {
				if link.Remote.Kind < 0 || link.Remote.Kind >= NumNodeKinds ||
					link.Remote.Index < 0 || link.Remote.Index >= len(s.Nodes[link.Remote.Kind]) {
					errs = multierror.Append(errs, fmt.Errorf("node %s/%x link %d references missing node %s/%d",
						k, uint64(node.ID), l, link.Remote.Kind, link.Remote.Index))
				}
				if link.BW < 0 {
					errs = multierror.Append(errs, fmt.Errorf("node %s/%x link %d has negative bandwidth", k, uint64(node.ID), l))
				}
			}

			if s.NHosts > 0 && node.ID.Server() >= s.NHosts {
				errs = multierror.Append(errs, fmt.Errorf("node %s/%x names server %d but only %d hosts are known",
					k, uint64(node.ID), node.ID.Server(), s.NHosts))
			}
		}
	}

	for n := range s.Nodes[APU] {
		node := &s.Nodes[APU][n]
		self := NodeRef{Kind: APU, Index: n}

		hasSelf := false
		for _, link := range node.Links {
			if link.Kind == LinkLOC && link.Remote == self && link.BW == LocBW {
				hasSelf = true
				break
			}
		}

		if !hasSelf {
			errs = multierror.Append(errs, fmt.Errorf("APU %x is missing its LOC self-link", uint64(node.ID)))
		}
	}

	return errs.ErrorOrNil()
}
