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

// Package deviceadaptor resolves PCI bus ids to logical accelerator
// indices. The NVML implementation talks to the driver; Static serves
// tests and prebuilt topologies.
package deviceadaptor

import "fmt"

// Adaptor maps a PCI bus id ("0000:17:00.0") to the device's logical index.
type Adaptor interface {
	DeviceByPCIBusID(busID string) (int, error)
}

// Static is an Adaptor over a fixed busid → index map.
type Static map[string]int

func (s Static) DeviceByPCIBusID(busID string) (int, error) {
	idx, ok := s[busID]
	if !ok {
		return -1, fmt.Errorf("deviceadaptor: unknown PCI bus id %s", busID)
	}

	return idx, nil
}
