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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Graph Construction Metrics
	TotalNodesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xccl_topology_nodes_created_total",
			Help: "Total number of topology nodes created, by node kind.",
		},
		[]string{"kind"},
	)
	TotalLinksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xccl_topology_links_created_total",
			Help: "Total number of topology links created.",
		},
	)
	TotalSwitchesFlattened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xccl_topology_bcm_switches_flattened_total",
			Help: "Total number of BCM PCI sub-switches fused into their parent.",
		},
	)

	// Cluster Assembly Metrics
	TotalClusterAssemblies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xccl_topology_cluster_assemblies_total",
			Help: "Total number of completed cluster topology assemblies.",
		},
	)
	AssemblyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xccl_topology_assembly_errors_total",
			Help: "Total number of errors encountered during cluster assembly.",
		},
		[]string{"error_type"},
	)

	// Path Computation Metrics
	PathComputationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xccl_topology_path_computation_duration_seconds",
			Help:    "Duration of all-pairs path computation per server.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
)
