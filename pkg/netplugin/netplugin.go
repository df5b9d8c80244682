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

// Package netplugin defines the network device plugin contract the
// topology core consumes. A plugin enumerates RDMA-capable ports and
// reports their static properties; the topology builder turns these into
// NET nodes.
package netplugin

import "fmt"

// Properties are the static attributes of one network device port.
type Properties struct {
	Name      string
	PCIPath   string
	SpeedMbps int
	LatencyUs float64
	Port      int
	GUID      uint64
	MaxComms  int
}

// Plugin enumerates network devices.
type Plugin interface {
	// Devices returns the number of usable network devices.
	Devices() (int, error)
	// Properties returns the static properties of device index.
	Properties(index int) (Properties, error)
	// DevFromName resolves a device name (e.g. "mlx5_0") to its index.
	DevFromName(name string) (int, error)
}

// Static is a Plugin over a fixed device list. It backs tests and
// deployments where device discovery already happened elsewhere.
type Static struct {
	devs []Properties
}

// NewStatic returns a Static plugin exposing devs in order.
func NewStatic(devs []Properties) *Static {
	return &Static{devs: devs}
}

func (s *Static) Devices() (int, error) {
	return len(s.devs), nil
}

func (s *Static) Properties(index int) (Properties, error) {
	if index < 0 || index >= len(s.devs) {
		return Properties{}, fmt.Errorf("netplugin: device index %d out of range [0,%d)", index, len(s.devs))
	}

	return s.devs[index], nil
}

func (s *Static) DevFromName(name string) (int, error) {
	for i, d := range s.devs {
		if d.Name == name {
			return i, nil
		}
	}

	return -1, fmt.Errorf("netplugin: no device named %q", name)
}
