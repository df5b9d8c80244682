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
	"strings"
)

// Print logs the server graph, one tree per CPU root, PCI subtrees
// indented below their parent.
func (s *Server) Print() {
	for n := range s.Nodes[CPU] {
		s.printRec(NodeRef{Kind: CPU, Index: n}, NodeRef{Kind: NodeKind(-1)}, 0)
	}
	slog.Info("==========================================")
}

func (s *Server) describe(ref NodeRef) string {
	node := s.NodeAt(ref)

	switch node.Kind {
	case APU:
		return fmt.Sprintf("%s/%x-%x (%d)", node.Kind, node.ID.Server(), node.ID.Local(), node.APU.Rank)
	case CPU:
		return fmt.Sprintf("%s/%x-%x (%d/%d/%d)", node.Kind, node.ID.Server(), node.ID.Local(),
			node.CPU.Arch, node.CPU.Vendor, node.CPU.Model)
	case PCI:
		return fmt.Sprintf("%s/%x-%x (%x)", node.Kind, node.ID.Server(), node.ID.Local(), node.PCI.Device)
	case NET:
		return fmt.Sprintf("%s/%x (%x/%d/%.1f)", node.Kind, uint64(node.ID), node.Net.GUID, node.Net.Port, node.Net.BW)
	default:
		return fmt.Sprintf("%s/%x-%x", node.Kind, node.ID.Server(), node.ID.Local())
	}
}

func (s *Server) printRec(ref, prev NodeRef, depth int) {
	indent := strings.Repeat("  ", depth)
	slog.Info(indent + "Node [" + s.describe(ref) + "]")

	node := s.NodeAt(ref)
	for _, link := range node.Links {
		if link.Kind == LinkLOC {
			continue
		}
		if link.Kind == LinkPCI && link.Remote == prev {
			continue
		}

		if link.Kind == LinkPCI {
			slog.Info(fmt.Sprintf("%s+ Link[%s/%.1f]", indent, link.Kind, link.BW))
			s.printRec(link.Remote, ref, depth+1)
		} else {
			slog.Info(fmt.Sprintf("%s+ Link[%s/%.1f] - Node [%s]", indent, link.Kind, link.BW, s.describe(link.Remote)))
		}
	}
}
