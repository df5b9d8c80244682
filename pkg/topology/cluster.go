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
	"context"
	"fmt"
	"log/slog"

	"github.com/nvidia/xccl-topology/pkg/bootstrap"
	"github.com/nvidia/xccl-topology/pkg/envutil"
	"github.com/nvidia/xccl-topology/pkg/metrics"
)

// InterServerTopo is the cluster-wide view reconstructed from every
// rank's flattened server: one server per distinct host, a net-GUID
// index, and the declarative inter-server route map.
type InterServerTopo struct {
	NumServers int

	// Servers is indexed by canonical server id. The slot for the local
	// server is nil; callers go through Server instead.
	Servers []*Server

	NetToServer map[uint64]int

	// Routes[a][b] is the route from NIC guid a to NIC guid b. Reverse
	// routes exist with equal bandwidth but carry no switch records.
	Routes map[uint64]map[uint64]*Route
}

// Server returns the topology of the given canonical server id, mapping
// the local id onto local.
func (it *InterServerTopo) Server(serverID int, local *Server) *Server {
	if serverID == local.ServerID {
		return local
	}

	return it.Servers[serverID]
}

// AssembleCluster runs the collective topology exchange: every rank
// flattens its local server into its slot, all ranks gather and
// canonicalize server ids by first appearance in rank order, and every
// remote host's graph is rebuilt and path-annotated locally. The local
// server is rewritten in place — its server id, host table and node ids
// all move to the canonical numbering.
//
// If INTERSERVER_ROUTE_FILE is set, the route map is loaded as the last
// step.
func AssembleCluster(ctx context.Context, ch bootstrap.Channel, local *Server) (*InterServerTopo, error) {
	rank := ch.Rank()
	nRanks := ch.NRanks()
	localHostHash := local.HostHashes[local.ServerID]

	payload, err := Flatten(local).MarshalBinary()
	if err != nil {
		return nil, err
	}

	slots, err := ch.AllGather(ctx, payload)
	if err != nil {
		metrics.AssemblyErrors.WithLabelValues("allgather").Inc()
		return nil, fmt.Errorf("%w: allgather: %v", ErrBootstrapFailure, err)
	}

	if err := ch.Barrier(ctx, 0); err != nil {
		metrics.AssemblyErrors.WithLabelValues("barrier").Inc()
		return nil, fmt.Errorf("%w: barrier: %v", ErrBootstrapFailure, err)
	}

	flats := make([]*FlatServer, nRanks)
	for i, slot := range slots {
		flats[i] = &FlatServer{}
		if err := flats[i].UnmarshalBinary(slot); err != nil {
			metrics.AssemblyErrors.WithLabelValues("decode").Inc()
			return nil, fmt.Errorf("rank %d contribution: %w", i, err)
		}
	}

	nHosts := canonicalizeServerIDs(flats)

	inter := &InterServerTopo{
		NumServers:  nHosts,
		Servers:     make([]*Server, nHosts),
		NetToServer: make(map[uint64]int),
		Routes:      make(map[uint64]map[uint64]*Route),
	}

	seen := make(map[int]bool)
	for _, flat := range flats {
		serverID := int(flat.ServerID)
		if seen[serverID] {
			continue
		}
		seen[serverID] = true

		if flat.HostHashes[serverID] == localHostHash {
			// this rank's own host: rewrite the local server in place
			local.ServerID = serverID
			local.NHosts = int(flat.NHosts)
			local.HostHashes = flat.HostHashes
			local.RewriteNodeIDs(serverID)

			continue
		}

		remote, err := Unflatten(flat)
		if err != nil {
			metrics.AssemblyErrors.WithLabelValues("unflatten").Inc()
			return nil, err
		}
		remote.RewriteNodeIDs(serverID)
		// paths were not transmitted; rebuild them for the remote host
		remote.ComputePaths()
		inter.Servers[serverID] = remote
	}

	slog.Info("assembled inter-server topology", "rank", rank, "servers", nHosts)

	inter.fillNetToServer(local)

	metrics.TotalClusterAssemblies.Inc()

	if routeFile := envutil.GetEnvString(EnvInterServerRoute, ""); routeFile != "" {
		if err := LoadInterServerRoutes(routeFile, inter, local); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("INTERSERVER_ROUTE_FILE is not set")
	}

	return inter, nil
}

// canonicalizeServerIDs assigns dense server ids by first appearance of
// each host hash in rank order and rewrites every entry's id and host
// table to the shared canonical numbering. Deterministic across ranks
// because all-gather slot order is rank order. Returns the host count.
func canonicalizeServerIDs(flats []*FlatServer) int {
	hashToID := make(map[uint64]int)

	var order []uint64

	for _, flat := range flats {
		hostHash := flat.HostHashes[flat.ServerID]
		id, ok := hashToID[hostHash]
		if !ok {
			id = len(order)
			hashToID[hostHash] = id
			order = append(order, hostHash)
		}
		flat.ServerID = int32(id)
	}

	for _, flat := range flats {
		flat.HostHashes = [MaxHosts]uint64{}
		flat.NHosts = int32(len(order))
		copy(flat.HostHashes[:], order)
	}

	return len(order)
}

// RewriteNodeIDs moves every node id's server half to serverID, keeping
// the host-local half.
func (s *Server) RewriteNodeIDs(serverID int) {
	for k := NodeKind(0); k < NumNodeKinds; k++ {
		for n := range s.Nodes[k] {
			s.Nodes[k][n].ID = MakeNodeID(serverID, s.Nodes[k][n].ID.Local())
		}
	}
}

func (it *InterServerTopo) fillNetToServer(local *Server) {
	for i := 0; i < it.NumServers; i++ {
		server := it.Server(i, local)
		if server == nil {
			continue
		}
		for n := range server.Nodes[NET] {
			guid := server.Nodes[NET][n].Net.GUID
			slog.Debug("mapping net to server", "guid", fmt.Sprintf("%x", guid), "serverId", i)
			it.NetToServer[guid] = i
		}
	}
}

// netNodeByGUID finds the NET node with the given guid across all
// servers.
func (it *InterServerTopo) netNodeByGUID(guid uint64, local *Server) (*Node, error) {
	serverID, ok := it.NetToServer[guid]
	if !ok {
		return nil, fmt.Errorf("%w: no server owns NIC guid %x", ErrNotFound, guid)
	}

	server := it.Server(serverID, local)
	for n := range server.Nodes[NET] {
		if server.Nodes[NET][n].Net.GUID == guid {
			return &server.Nodes[NET][n], nil
		}
	}

	return nil, fmt.Errorf("%w: NIC guid %x mapped to server %d but absent there", ErrInternal, guid, serverID)
}
