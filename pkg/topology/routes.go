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
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/nvidia/xccl-topology/pkg/configmanager"
	"github.com/nvidia/xccl-topology/pkg/xmltree"
)

// Switch is one tier on an inter-server route. UpLink and DownLink count
// ports and set the oversubscription ratio.
type Switch struct {
	DownBw   float64
	UpBw     float64
	UpLink   int
	DownLink int
	IsTop    bool
}

// Route is the declared path between two NICs in different servers. Only
// the forward direction stores switch records; the reverse route shares
// the bandwidth figure.
type Route struct {
	LocalNIC  *Node
	RemoteNIC *Node
	Switches  []Switch
	InterBw   float64
}

// effectiveBandwidth reduces a route to its bottleneck: the slower NIC,
// or the most oversubscribed switch tier. A top-tier switch contributes
// its down bandwidth; any other tier contributes
// min(downBw, upBw * upLink / downLink).
func effectiveBandwidth(route *Route) float64 {
	minBw := route.LocalNIC.Net.BW
	if route.RemoteNIC.Net.BW < minBw {
		minBw = route.RemoteNIC.Net.BW
	}

	for i := range route.Switches {
		sw := &route.Switches[i]

		contribution := sw.DownBw
		if !sw.IsTop {
			eff := sw.UpBw * float64(sw.UpLink) / float64(sw.DownLink)
			if eff < contribution {
				contribution = eff
			}
		}

		if contribution < minBw {
			minBw = contribution
		}
	}

	return minBw
}

// LoadInterServerRoutes parses the declarative route file and populates
// the route map. source is a filesystem path or an http(s) URL served by
// the cluster controller. Schema errors across pairs are aggregated and
// fatal as a whole.
func LoadInterServerRoutes(source string, inter *InterServerTopo, local *Server) error {
	content, err := fetchRouteFile(source)
	if err != nil {
		return err
	}

	root, err := xmltree.Parse(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("%w: route file %s: %v", ErrInvalidSchema, source, err)
	}

	if root.Name != "interserver_route" {
		return fmt.Errorf("%w: route file root element must be <interserver_route>", ErrInvalidSchema)
	}

	nicPairs := root.Child("nic_pairs")
	if nicPairs == nil {
		return fmt.Errorf("%w: route file has no <nic_pairs> element", ErrInvalidSchema)
	}

	var errs *multierror.Error

	for i, pair := range nicPairs.ChildrenNamed("pair") {
		if err := inter.addRoutePair(pair, local); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("pair %d: %w", i, err))
		}
	}

	return errs.ErrorOrNil()
}

func fetchRouteFile(source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		defaultRetries := 3
		retries, err := configmanager.GetEnvVar[int](EnvInterServerRetryMax, &defaultRetries, func(v int) error {
			if v < 0 {
				return fmt.Errorf("must not be negative")
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}

		client := retryablehttp.NewClient()
		client.Logger = nil
		client.RetryMax = retries

		resp, err := client.Get(source)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching route file %s: %v", ErrInvalidSchema, source, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != 200 {
			return nil, fmt.Errorf("%w: route file %s returned status %d", ErrInvalidSchema, source, resp.StatusCode)
		}

		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return nil, fmt.Errorf("%w: reading route file %s: %v", ErrInvalidSchema, source, err)
		}

		return buf.Bytes(), nil
	}

	content, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: route file %s: %v", ErrInvalidSchema, source, err)
	}

	return content, nil
}

func pairGUID(pair *xmltree.Node, element string) (uint64, error) {
	nic := pair.Child(element)
	if nic == nil {
		return 0, fmt.Errorf("%w: pair has no <%s> element", ErrInvalidSchema, element)
	}

	str, ok := nic.Attr("guid")
	if !ok {
		return 0, fmt.Errorf("%w: <%s> has no guid attribute", ErrInvalidSchema, element)
	}

	guid, err := strconv.ParseUint(str, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: <%s> guid %q: %v", ErrInvalidSchema, element, str, err)
	}

	return guid, nil
}

func (it *InterServerTopo) addRoutePair(pair *xmltree.Node, local *Server) error {
	guid1, err := pairGUID(pair, "nic1")
	if err != nil {
		return err
	}

	guid2, err := pairGUID(pair, "nic2")
	if err != nil {
		return err
	}

	net1, err := it.netNodeByGUID(guid1, local)
	if err != nil {
		return err
	}

	net2, err := it.netNodeByGUID(guid2, local)
	if err != nil {
		return err
	}

	interSwitch := pair.Child("interSwitch")
	if interSwitch == nil {
		return fmt.Errorf("%w: pair has no <interSwitch> element", ErrInvalidSchema)
	}

	count, err := interSwitch.AttrInt("count")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	if count < 0 || count > MaxSwitches {
		return fmt.Errorf("%w: switch count %d outside [0,%d]", ErrInvalidSchema, count, MaxSwitches)
	}

	route := &Route{LocalNIC: net1, RemoteNIC: net2}
	reverse := &Route{LocalNIC: net2, RemoteNIC: net1}

	switches := interSwitch.ChildrenNamed("switch")
	if len(switches) != count {
		return fmt.Errorf("%w: interSwitch declares count=%d but has %d <switch> elements", ErrInvalidSchema, count, len(switches))
	}

	for _, sw := range switches {
		tier, err := parseSwitch(sw)
		if err != nil {
			return err
		}
		route.Switches = append(route.Switches, tier)
	}

	bw := effectiveBandwidth(route)
	route.InterBw = bw
	reverse.InterBw = bw
	slog.Debug("inter-server route", "nic1", fmt.Sprintf("%x", guid1), "nic2", fmt.Sprintf("%x", guid2), "bw", bw)

	it.insertRoute(guid1, guid2, route)
	it.insertRoute(guid2, guid1, reverse)

	return nil
}

func parseSwitch(sw *xmltree.Node) (Switch, error) {
	var tier Switch

	for _, required := range []string{"downBw", "upBw", "upLink", "downLink", "isTop"} {
		if _, ok := sw.Attr(required); !ok {
			return Switch{}, fmt.Errorf("%w: <switch> missing attribute %s", ErrInvalidSchema, required)
		}
	}

	var err error

	if tier.DownBw, err = sw.AttrFloat("downBw", 0); err != nil {
		return Switch{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if tier.UpBw, err = sw.AttrFloat("upBw", 0); err != nil {
		return Switch{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if tier.UpLink, err = sw.AttrInt("upLink"); err != nil {
		return Switch{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if tier.DownLink, err = sw.AttrInt("downLink"); err != nil {
		return Switch{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	isTop, err := sw.AttrInt("isTop")
	if err != nil {
		return Switch{}, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	tier.IsTop = isTop != 0

	if !tier.IsTop && tier.DownLink == 0 {
		return Switch{}, fmt.Errorf("%w: non-top <switch> has downLink=0", ErrInvalidSchema)
	}

	return tier, nil
}

func (it *InterServerTopo) insertRoute(from, to uint64, route *Route) {
	m, ok := it.Routes[from]
	if !ok {
		m = make(map[uint64]*Route)
		it.Routes[from] = m
	}
	m[to] = route
}

// RouteBetween returns the declared route from NIC guid a to NIC guid b.
func (it *InterServerTopo) RouteBetween(a, b uint64) (*Route, error) {
	if m, ok := it.Routes[a]; ok {
		if r, ok := m[b]; ok {
			return r, nil
		}
	}

	return nil, fmt.Errorf("%w: no route between NIC guids %x and %x", ErrNotFound, a, b)
}
