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

// topoinspect builds a server topology from an XML file, prints it,
// validates its invariants, and reports per-rank NIC locality. It is the
// offline debugging surface for topology files that production
// communicators consume through the environment.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nvidia/xccl-topology/pkg/configmanager"
	"github.com/nvidia/xccl-topology/pkg/envutil"
	"github.com/nvidia/xccl-topology/pkg/logger"
	"github.com/nvidia/xccl-topology/pkg/topology"
	"github.com/nvidia/xccl-topology/pkg/xmltree"
)

const version = "v0.1.0"

type Config struct {
	Topology struct {
		File      string `toml:"file"`
		RouteFile string `toml:"route_file"`
		HostHash  string `toml:"host_hash"`
	} `toml:"topology"`
}

type rankSummary struct {
	Rank     int    `yaml:"rank"`
	NetDev   int    `yaml:"netDev"`
	Distance string `yaml:"distance"`
	NetGUID  string `yaml:"netGuid"`
}

type summary struct {
	ServerID int            `yaml:"serverId"`
	NHosts   int            `yaml:"nHosts"`
	Nodes    map[string]int `yaml:"nodes"`
	Ranks    []rankSummary  `yaml:"ranks"`
}

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	topoPath := flag.String("topo", "", "path to topology XML (overrides config)")
	routePath := flag.String("routes", "", "path or URL of inter-server route XML (overrides config)")
	hostHashStr := flag.String("hosthash", "", "hex host hash selecting the local server (overrides config)")
	summaryPath := flag.String("summary", "", "write a YAML summary to this path")
	flag.Parse()

	logger.SetDefaultStructuredLogger("topoinspect", version)

	var cfg Config

	if *configPath != "" {
		if err := configmanager.LoadTOMLConfig(*configPath, &cfg); err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	if *topoPath != "" {
		cfg.Topology.File = *topoPath
	}
	if *routePath != "" {
		cfg.Topology.RouteFile = *routePath
	}
	if *hostHashStr != "" {
		cfg.Topology.HostHash = *hostHashStr
	}

	if cfg.Topology.File == "" {
		cfg.Topology.File = envutil.GetEnvString(topology.EnvTopoFile, "")
	}
	if cfg.Topology.File == "" {
		slog.Error("no topology file: pass -topo, set topology.file in config, or set TOPO_FILE")
		os.Exit(1)
	}

	if err := run(cfg, *summaryPath); err != nil {
		slog.Error("inspection failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, summaryPath string) error {
	root, err := xmltree.Load(cfg.Topology.File)
	if err != nil {
		return err
	}

	var hostHash uint64
	if cfg.Topology.HostHash != "" {
		hostHash, err = strconv.ParseUint(trimHexPrefix(cfg.Topology.HostHash), 16, 64)
		if err != nil {
			return fmt.Errorf("bad host hash %q: %w", cfg.Topology.HostHash, err)
		}
	} else if cpu := root.Child("cpu"); cpu != nil {
		// default to the first host in the document
		if str, ok := cpu.Attr("host_hash"); ok {
			hostHash, _ = strconv.ParseUint(trimHexPrefix(str), 16, 64)
		}
	}

	server, err := topology.BuildServerFromXML(root, hostHash)
	if err != nil {
		return err
	}

	if err := server.Validate(); err != nil {
		return fmt.Errorf("topology invariants violated: %w", err)
	}

	server.ComputePaths()
	server.Print()

	sum := summary{
		ServerID: server.ServerID,
		NHosts:   server.NHosts,
		Nodes:    map[string]int{},
	}

	for k := topology.NodeKind(0); k < topology.NumNodeKinds; k++ {
		if len(server.Nodes[k]) > 0 {
			sum.Nodes[k.String()] = len(server.Nodes[k])
		}
	}

	for n := range server.Nodes[topology.APU] {
		rank := server.Nodes[topology.APU][n].APU.Rank
		if rank < 0 {
			continue
		}

		dev, err := server.GetLocalNet(rank)
		if err != nil {
			slog.Warn("no local net", "rank", rank, "error", err)
			continue
		}

		dist, err := server.GetNicDistance(rank)
		if err != nil {
			return err
		}

		slog.Info("rank locality", "rank", rank, "netDev", dev, "distance", dist.Distance.String())
		sum.Ranks = append(sum.Ranks, rankSummary{
			Rank:     rank,
			NetDev:   dev,
			Distance: dist.Distance.String(),
			NetGUID:  fmt.Sprintf("0x%x", dist.NetGUID),
		})
	}

	if cfg.Topology.RouteFile != "" {
		if err := inspectRoutes(cfg.Topology.RouteFile, server); err != nil {
			return err
		}
	}

	if summaryPath != "" {
		out, err := yaml.Marshal(&sum)
		if err != nil {
			return err
		}
		if err := os.WriteFile(summaryPath, out, 0o644); err != nil {
			return err
		}
		slog.Info("wrote summary", "path", summaryPath)
	}

	return nil
}

// inspectRoutes loads the route file against a single-server cluster
// view and logs each declared pair's effective bandwidth.
func inspectRoutes(routeFile string, server *topology.Server) error {
	inter := &topology.InterServerTopo{
		NumServers:  1,
		Servers:     make([]*topology.Server, 1),
		NetToServer: make(map[uint64]int),
		Routes:      make(map[uint64]map[uint64]*topology.Route),
	}

	for n := range server.Nodes[topology.NET] {
		inter.NetToServer[server.Nodes[topology.NET][n].Net.GUID] = server.ServerID
	}

	if err := topology.LoadInterServerRoutes(routeFile, inter, server); err != nil {
		return err
	}

	for from, m := range inter.Routes {
		for to, route := range m {
			slog.Info("inter-server route",
				"nic1", fmt.Sprintf("0x%x", from),
				"nic2", fmt.Sprintf("0x%x", to),
				"interBw", route.InterBw)
		}
	}

	return nil
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}

	return s
}
