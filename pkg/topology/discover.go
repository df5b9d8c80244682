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
	"strconv"
	"strings"

	"github.com/nvidia/xccl-topology/pkg/deviceadaptor"
	"github.com/nvidia/xccl-topology/pkg/envutil"
	"github.com/nvidia/xccl-topology/pkg/netplugin"
	"github.com/nvidia/xccl-topology/pkg/xmltree"
)

// XMLVersion is the schema generation stamped on generated documents.
const XMLVersion = 1

// PeerInfo is what each rank knows about a peer before topology
// exchange: its rank, host digest and accelerator bus id.
type PeerInfo struct {
	Rank     int
	HostHash uint64
	BusID    string
}

// EnsureRoot returns dom, or a fresh <system> root when the document is
// empty (no TOPO_FILE was provided).
func EnsureRoot(dom *xmltree.Node) *xmltree.Node {
	if dom != nil {
		return dom
	}

	slog.Info("creating root XML node")
	root := &xmltree.Node{Name: "system"}
	root.SetAttr("version", strconv.Itoa(XMLVersion))

	return root
}

// AttachDevices stamps dev and rank attributes onto the apu elements of
// peers that share this rank's host, resolving logical indices through
// the device adaptor.
func AttachDevices(dom *xmltree.Node, peers []PeerInfo, localHostHash uint64, adaptor deviceadaptor.Adaptor) error {
	for _, peer := range peers {
		if peer.HostHash != localHostHash {
			continue
		}

		apu := findAPUByBusID(dom, peer.BusID)
		if apu == nil {
			slog.Warn("no apu element for peer", "rank", peer.Rank, "busid", peer.BusID)
			continue
		}

		dev, err := adaptor.DeviceByPCIBusID(peer.BusID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAdaptorFailure, err)
		}

		apu.SetAttr("dev", strconv.Itoa(dev))
		apu.SetAttr("rank", strconv.Itoa(peer.Rank))
	}

	return nil
}

func findAPUByBusID(dom *xmltree.Node, busID string) *xmltree.Node {
	var apu *xmltree.Node

	dom.Walk(func(n *xmltree.Node) {
		if apu != nil || n.Name != "pci" {
			return
		}
		if id, ok := n.Attr("busid"); ok && strings.EqualFold(id, busID) {
			apu = n.Child("apu")
		}
	})

	return apu
}

// AttachNets populates net elements from the NIC plugin: for every
// enumerated device, the nic element on the PCI path gains a net child
// carrying the device's static properties.
func AttachNets(dom *xmltree.Node, plugin netplugin.Plugin) error {
	count, err := plugin.Devices()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdaptorFailure, err)
	}

	for i := 0; i < count; i++ {
		props, err := plugin.Properties(i)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAdaptorFailure, err)
		}

		nic := findNicByPCIPath(dom, props.PCIPath)
		if nic == nil {
			slog.Warn("no nic element for net device", "name", props.Name, "pciPath", props.PCIPath)
			continue
		}

		net := &xmltree.Node{Name: "net"}
		net.SetAttr("name", props.Name)
		net.SetAttr("dev", strconv.Itoa(i))
		net.SetAttr("speed", strconv.Itoa(props.SpeedMbps))
		net.SetAttr("latency", strconv.FormatFloat(props.LatencyUs, 'f', -1, 64))
		net.SetAttr("port", strconv.Itoa(props.Port))
		net.SetAttr("guid", fmt.Sprintf("0x%x", props.GUID))
		net.SetAttr("maxConn", strconv.Itoa(props.MaxComms))
		nic.Children = append(nic.Children, net)
	}

	return nil
}

// findNicByPCIPath locates the nic element whose parent pci busid ends
// the device's PCI path.
func findNicByPCIPath(dom *xmltree.Node, pciPath string) *xmltree.Node {
	tail := pciPath
	if idx := strings.LastIndex(pciPath, "/"); idx >= 0 {
		tail = pciPath[idx+1:]
	}

	var nic *xmltree.Node

	dom.Walk(func(n *xmltree.Node) {
		if nic != nil || n.Name != "pci" {
			return
		}
		if id, ok := n.Attr("busid"); ok && strings.EqualFold(id, tail) {
			if child := n.Child("nic"); child != nil {
				nic = child
			} else {
				created := &xmltree.Node{Name: "nic"}
				n.Children = append(n.Children, created)
				nic = created
			}
		}
	})

	return nic
}

// DumpIfConfigured writes the document to TOPO_DUMP_FILE on rank 0.
func DumpIfConfigured(dom *xmltree.Node, rank int) error {
	path := envutil.GetEnvString(EnvTopoDumpFile, "")
	if path == "" || rank != 0 {
		return nil
	}

	slog.Info("dumping topology XML", "path", path)

	return xmltree.Dump(path, dom)
}
