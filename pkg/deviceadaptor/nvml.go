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

package deviceadaptor

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVML resolves bus ids through the NVIDIA management library. Callers
// must Init before the first lookup and Shutdown when done.
type NVML struct{}

func (w *NVML) Init() error {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("failed to initialize NVML: %v", nvml.ErrorString(ret))
	}

	return nil
}

func (w *NVML) Shutdown() error {
	ret := nvml.Shutdown()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("failed to shutdown NVML: %v", nvml.ErrorString(ret))
	}

	return nil
}

func (w *NVML) DeviceByPCIBusID(busID string) (int, error) {
	device, ret := nvml.DeviceGetHandleByPciBusId(busID)
	if ret != nvml.SUCCESS {
		return -1, fmt.Errorf("failed to get device handle for bus id %s: %v", busID, nvml.ErrorString(ret))
	}

	index, ret := device.GetIndex()
	if ret != nvml.SUCCESS {
		return -1, fmt.Errorf("failed to get index for bus id %s: %v", busID, nvml.ErrorString(ret))
	}

	return index, nil
}
