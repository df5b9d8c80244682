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

	"github.com/nvidia/xccl-topology/pkg/envutil"
	"github.com/nvidia/xccl-topology/pkg/netplugin"
	"github.com/nvidia/xccl-topology/pkg/stringutil"
	"github.com/nvidia/xccl-topology/pkg/xmltree"
)

// Environment variables read by the topology package: topology file and
// dump path, NIC selection overrides, and the inter-server route source
// with its fetch retry budget.
const (
	EnvTopoFile            = "TOPO_FILE"
	EnvTopoDumpFile        = "TOPO_DUMP_FILE"
	EnvUseNet              = "USENET"
	EnvEnableTopoDetect    = "ENABLE_TOPO_DETECT"
	EnvInterServerRoute    = "INTERSERVER_ROUTE_FILE"
	EnvInterServerRetryMax = "INTERSERVER_ROUTE_RETRIES"
)

// RankToAPUIndex resolves a communicator rank to the index of its APU
// node.
func (s *Server) RankToAPUIndex(rank int) (int, error) {
	for i := range s.Nodes[APU] {
		if s.Nodes[APU][i].APU.Rank == rank {
			return i, nil
		}
	}

	return -1, fmt.Errorf("%w: no APU with rank %d", ErrNotFound, rank)
}

// GetLocal returns the destinations of dstKind that tie on the best
// (bandwidth, class) pair from the given source node, plus the class of
// that winning pair. An empty result is legal and reported as PathDIS.
//
// The class is determined only after the full scan, so it always belongs
// to the final winner rather than to a transiently-best candidate.
func (s *Server) GetLocal(srcKind NodeKind, srcIdx int, dstKind NodeKind) ([]int, PathKind, error) {
	if srcIdx < 0 || srcIdx >= len(s.Nodes[srcKind]) {
		return nil, PathDIS, fmt.Errorf("%w: %s index %d out of range", ErrNotFound, srcKind, srcIdx)
	}

	paths := s.Nodes[srcKind][srcIdx].Paths[dstKind]
	if paths == nil {
		return nil, PathDIS, nil
	}

	bestBw := 0.0
	bestKind := PathDIS

	for i := range paths {
		if paths[i].Kind == PathDIS {
			continue
		}
		if better(paths[i].BW, paths[i].Kind, bestBw, bestKind) {
			bestBw = paths[i].BW
			bestKind = paths[i].Kind
		}
	}

	if bestBw == 0 && bestKind == PathDIS {
		return nil, PathDIS, nil
	}

	var locals []int

	for i := range paths {
		if paths[i].BW == bestBw && paths[i].Kind == bestKind {
			locals = append(locals, i)
		}
	}

	return locals, bestKind, nil
}

// isPow2 reports whether v is a positive power of two.
func isPow2(v int) bool {
	return v > 0 && v&(v-1) == 0
}

// mirrorBits reverses the lowest log2(pow2) bits of val, spreading
// consecutive device indices across the tied NICs.
func mirrorBits(val, pow2 int) int {
	mirror := 0
	for b, mb := 1, pow2>>1; b < pow2; b, mb = b<<1, mb>>1 {
		if val&b != 0 {
			mirror |= mb
		}
	}

	return mirror
}

// localNetIndex picks one NET arena index for the APU at apuIdx from the
// tied candidates.
func (s *Server) localNetIndex(apuIdx int) (int, error) {
	locals, _, err := s.GetLocal(APU, apuIdx, NET)
	if err != nil {
		return -1, err
	}

	if len(locals) == 0 {
		return -1, fmt.Errorf("%w: no local path from APU %d to any NET node", ErrNotFound, apuIdx)
	}

	slog.Debug("found local nets", "apu", apuIdx, "count", len(locals))

	net := s.Nodes[APU][apuIdx].APU.Dev
	if net < 0 {
		net = 0
	}
	if isPow2(len(locals)) { // load balance across APUs
		net = mirrorBits(net, len(locals))
	}

	return locals[net%len(locals)], nil
}

// GetLocalNet returns the net device index of the NIC closest to the
// APU serving rank, load-balanced deterministically across ties.
func (s *Server) GetLocalNet(rank int) (int, error) {
	apuIdx, err := s.RankToAPUIndex(rank)
	if err != nil {
		return -1, err
	}

	netIdx, err := s.localNetIndex(apuIdx)
	if err != nil {
		return -1, err
	}

	dev := s.Nodes[NET][netIdx].Net.Dev
	slog.Debug("selected local net", "apu", apuIdx, "netDev", dev)

	return dev, nil
}

// GetLocalNetNode is GetLocalNet returning the NET node itself.
func (s *Server) GetLocalNetNode(rank int) (*Node, error) {
	apuIdx, err := s.RankToAPUIndex(rank)
	if err != nil {
		return nil, err
	}

	netIdx, err := s.localNetIndex(apuIdx)
	if err != nil {
		return nil, err
	}

	return &s.Nodes[NET][netIdx], nil
}

// NicDistance describes how far the chosen NIC sits from a rank's APU.
type NicDistance struct {
	Distance PathKind
	NetGUID  uint64
}

// GetNicDistance reports the path class between the APU serving rank and
// its chosen NIC, along with the NIC's GUID.
func (s *Server) GetNicDistance(rank int) (NicDistance, error) {
	netDev, err := s.GetLocalNet(rank)
	if err != nil {
		return NicDistance{}, err
	}

	apuIdx, err := s.RankToAPUIndex(rank)
	if err != nil {
		return NicDistance{}, err
	}

	paths := s.Nodes[APU][apuIdx].Paths[NET]
	for i := range s.Nodes[NET] {
		if s.Nodes[NET][i].Net.Dev == netDev {
			return NicDistance{Distance: paths[i].Kind, NetGUID: s.Nodes[NET][i].Net.GUID}, nil
		}
	}

	return NicDistance{}, fmt.Errorf("%w: NET node for dev %d disappeared", ErrInternal, netDev)
}

// localNetNameFromFile looks up the NIC name pinned to the APU with
// device index apuDev in the topology XML named by TOPO_FILE. An empty
// name means no pin.
func localNetNameFromFile(apuDev int) (string, error) {
	path := envutil.GetEnvString(EnvTopoFile, "")
	if path == "" {
		slog.Debug("TOPO_FILE environment variable not set")
		return "", nil
	}

	root, err := xmltree.Load(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	var name string

	found := false
	root.Walk(func(n *xmltree.Node) {
		if found || n.Name != "apu" {
			return
		}
		if dev := n.AttrIntDefault("dev", Undef); dev == apuDev {
			found = true
			name, _ = n.Attr("net")
		}
	})

	if found && name != "" {
		slog.Info("APU uses net pinned in topo file", "dev", apuDev, "net", name, "file", path)
	}

	return name, nil
}

// LocalNetForAPU resolves the net device for an APU through the override
// chain: a pin in the TOPO_FILE XML wins, then the USENET environment
// name, then — when ENABLE_TOPO_DETECT is truthy — the topology-derived
// choice.
func LocalNetForAPU(server *Server, rank, apuDev int, plugin netplugin.Plugin) (int, error) {
	name, err := localNetNameFromFile(apuDev)
	if err != nil {
		return -1, err
	}

	if name == "" {
		if useNet := envutil.GetEnvString(EnvUseNet, ""); useNet != "" {
			slog.Info("APU uses net from USENET environment variable", "dev", apuDev, "net", useNet)
			name = useNet
		}
	}

	if name != "" {
		dev, err := plugin.DevFromName(name)
		if err != nil {
			return -1, fmt.Errorf("%w: %v", ErrNotFound, err)
		}

		return dev, nil
	}

	if stringutil.IsTruthyValue(envutil.GetEnvString(EnvEnableTopoDetect, "")) {
		return server.GetLocalNet(rank)
	}

	return -1, fmt.Errorf("%w: no net override for APU %d and topology detection disabled", ErrNotFound, apuDev)
}

// ServerFromRank returns the server containing the APU that serves rank,
// scanning the local server and every remote one.
func ServerFromRank(rank int, inter *InterServerTopo, local *Server) (*Server, error) {
	for i := 0; i < inter.NumServers; i++ {
		server := local
		if i != local.ServerID {
			server = inter.Servers[i]
		}
		if server == nil {
			continue
		}
		for n := range server.Nodes[APU] {
			if server.Nodes[APU][n].APU.Rank == rank {
				return server, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: no server contains rank %d", ErrNotFound, rank)
}
