/*
 * Copyright 2025 Comcast Cable Communications Management, LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package topology

import (
	"fmt"
	"strings"

	"github.com/comcast/topometrics/hwloc"
)

// SystemTopology is the processor and memory layout of one machine, built
// from an lstopo XML export. The zero value is a valid empty topology.
type SystemTopology struct {
	Machine  Machine      `json:"machine"`
	Packages []*Package   `json:"packages"`
	CPUKinds []*CPUKind   `json:"cpu_kinds,omitempty"`
	Bridges  []*PCIBridge `json:"pci_bridges,omitempty"`
	// Devices holds PCI devices attached straight to the machine, as
	// exported when bridge objects are filtered out.
	Devices []*PCIDevice `json:"pci_devices,omitempty"`
}

// Machine carries the per-host metadata hwloc attaches to the root object.
type Machine struct {
	Hostname         string            `json:"hostname,omitempty"`
	Architecture     string            `json:"architecture,omitempty"`
	OSName           string            `json:"os_name,omitempty"`
	OSRelease        string            `json:"os_release,omitempty"`
	Product          string            `json:"product,omitempty"`
	HwlocVersion     string            `json:"hwloc_version,omitempty"`
	TotalMemoryBytes uint64            `json:"total_memory_bytes"`
	Infos            map[string]string `json:"infos,omitempty"`
	NUMANodes        []*NUMANode       `json:"numa_nodes,omitempty"`
	CPUSet           hwloc.Bitmap      `json:"cpuset"`
}

type Package struct {
	OSIndex           int               `json:"os_index"`
	LogicalIndex      int               `json:"logical_index"`
	HierarchicalIndex string            `json:"hierarchical_index"`
	Vendor            string            `json:"vendor,omitempty"`
	Model             string            `json:"model,omitempty"`
	Infos             map[string]string `json:"infos,omitempty"`
	CPUSet            hwloc.Bitmap      `json:"cpuset"`
	NUMANodes         []*NUMANode       `json:"numa_nodes,omitempty"`
	Caches            []Cache           `json:"caches,omitempty"`
	Cores             []*Core           `json:"cores"`
}

type Core struct {
	OSIndex           int          `json:"os_index"`
	LogicalIndex      int          `json:"logical_index"`
	HierarchicalIndex string       `json:"hierarchical_index"`
	CPUSet            hwloc.Bitmap `json:"cpuset"`
	Caches            []Cache      `json:"caches,omitempty"`
	PUs               []*PU        `json:"pus"`
}

// PU is one processing unit, the smallest schedulable execution element,
// i.e. what the OS exposes as a logical CPU.
type PU struct {
	OSIndex           int          `json:"os_index"`
	LogicalIndex      int          `json:"logical_index"`
	HierarchicalIndex string       `json:"hierarchical_index"`
	CPUSet            hwloc.Bitmap `json:"cpuset"`
	// Kind names the hybrid CPU kind covering this PU, e.g. "Avalanche"
	// on big.LITTLE style parts. Empty on uniform machines.
	Kind string `json:"kind,omitempty"`
}

type NUMANode struct {
	OSIndex          int          `json:"os_index"`
	LocalMemoryBytes uint64       `json:"local_memory_bytes"`
	PageTypes        []PageType   `json:"page_types,omitempty"`
	CPUSet           hwloc.Bitmap `json:"cpuset"`
}

type PageType struct {
	SizeBytes uint64 `json:"size_bytes"`
	Count     uint64 `json:"count"`
}

type Cache struct {
	Level         int    `json:"level"`
	Kind          string `json:"kind"`
	SizeBytes     int64  `json:"size_bytes"`
	LineSize      int    `json:"line_size,omitempty"`
	Associativity int    `json:"associativity,omitempty"`
}

// CPUKind is one hybrid-CPU kind with the PUs it covers. Efficiency
// follows hwloc's convention: higher means more performant, -1 unknown.
type CPUKind struct {
	Name       string       `json:"name"`
	Efficiency int          `json:"efficiency"`
	CPUSet     hwloc.Bitmap `json:"cpuset"`
	NumPUs     int          `json:"num_pus"`
}

// NumPackages returns the number of processor packages (sockets).
func (t *SystemTopology) NumPackages() int {
	return len(t.Packages)
}

// NumCores returns the machine-wide physical core count.
func (t *SystemTopology) NumCores() int {
	n := 0
	for _, p := range t.Packages {
		n += len(p.Cores)
	}
	return n
}

// NumPUs returns the machine-wide processing unit count.
func (t *SystemTopology) NumPUs() int {
	n := 0
	for _, p := range t.Packages {
		n += p.NumPUs()
	}
	return n
}

// Cores returns every core of every package, in document order.
func (t *SystemTopology) Cores() []*Core {
	var out []*Core
	for _, p := range t.Packages {
		out = append(out, p.Cores...)
	}
	return out
}

// PUs returns every processing unit of every package, in document order.
func (t *SystemTopology) PUs() []*PU {
	var out []*PU
	for _, p := range t.Packages {
		out = append(out, p.PUs()...)
	}
	return out
}

// AllEqualNumPUsPerCore reports whether every core of the machine holds
// the same number of PUs. An empty topology reports true.
func (t *SystemTopology) AllEqualNumPUsPerCore() bool {
	want := -1
	for _, c := range t.Cores() {
		if want == -1 {
			want = c.NumPUs()
		} else if c.NumPUs() != want {
			return false
		}
	}
	return true
}

// PackageByOSIndex returns the package with the given physical index, or
// nil when absent.
func (t *SystemTopology) PackageByOSIndex(i int) *Package {
	for _, p := range t.Packages {
		if p.OSIndex == i {
			return p
		}
	}
	return nil
}

// PUByOSIndex returns the processing unit with the given physical index,
// or nil when absent.
func (t *SystemTopology) PUByOSIndex(i int) *PU {
	for _, pu := range t.PUs() {
		if pu.OSIndex == i {
			return pu
		}
	}
	return nil
}

// PCIDevices returns every PCI device, both those reachable through the
// bridge tree and those attached straight to the machine, in document
// order.
func (t *SystemTopology) PCIDevices() []*PCIDevice {
	var out []*PCIDevice
	var walk func(*PCIBridge)
	walk = func(b *PCIBridge) {
		out = append(out, b.Devices...)
		for _, child := range b.Bridges {
			walk(child)
		}
	}
	for _, b := range t.Bridges {
		walk(b)
	}
	out = append(out, t.Devices...)
	return out
}

func (p *Package) NumCores() int {
	return len(p.Cores)
}

func (p *Package) NumPUs() int {
	n := 0
	for _, c := range p.Cores {
		n += len(c.PUs)
	}
	return n
}

// PUs returns the package's processing units in document order.
func (p *Package) PUs() []*PU {
	var out []*PU
	for _, c := range p.Cores {
		out = append(out, c.PUs...)
	}
	return out
}

// AllEqualNumPUsPerCore reports whether every core of this package holds
// the same number of PUs.
func (p *Package) AllEqualNumPUsPerCore() bool {
	want := -1
	for _, c := range p.Cores {
		if want == -1 {
			want = c.NumPUs()
		} else if c.NumPUs() != want {
			return false
		}
	}
	return true
}

// CoreByOSIndex returns the core with the given physical index within
// this package, or nil when absent.
func (p *Package) CoreByOSIndex(i int) *Core {
	for _, c := range p.Cores {
		if c.OSIndex == i {
			return c
		}
	}
	return nil
}

func (c *Core) NumPUs() int {
	return len(c.PUs)
}

// String renders the topology as an indented tree, one object per line,
// with P# marking physical indexes and L# logical ones.
func (t *SystemTopology) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Machine %q (%s, arch %s, hwloc %s)\n",
		t.Machine.Hostname, memString(t.Machine.TotalMemoryBytes),
		t.Machine.Architecture, t.Machine.HwlocVersion)
	for _, k := range t.CPUKinds {
		fmt.Fprintf(&b, "  CPUKind %q (%d PUs, efficiency %d)\n", k.Name, k.NumPUs, k.Efficiency)
	}
	for _, p := range t.Packages {
		model := ""
		if p.Model != "" {
			model = fmt.Sprintf(" %q", p.Model)
		}
		fmt.Fprintf(&b, "  Package P#%d L#%d%s\n", p.OSIndex, p.LogicalIndex, model)
		for _, n := range p.NUMANodes {
			fmt.Fprintf(&b, "    NUMANode P#%d (%s)\n", n.OSIndex, memString(n.LocalMemoryBytes))
		}
		for _, c := range p.Caches {
			fmt.Fprintf(&b, "    %s (%s)\n", c.Label(), memString(uint64(c.SizeBytes)))
		}
		for _, c := range p.Cores {
			fmt.Fprintf(&b, "    Core P#%d L#%d%s\n", c.OSIndex, c.LogicalIndex, cacheSuffix(c.Caches))
			for _, pu := range c.PUs {
				kind := ""
				if pu.Kind != "" {
					kind = fmt.Sprintf(" (%s)", pu.Kind)
				}
				fmt.Fprintf(&b, "      PU P#%d L#%d%s\n", pu.OSIndex, pu.LogicalIndex, kind)
			}
		}
	}
	for _, n := range t.machineOnlyNUMANodes() {
		fmt.Fprintf(&b, "  NUMANode P#%d (%s)\n", n.OSIndex, memString(n.LocalMemoryBytes))
	}
	for _, br := range t.Bridges {
		writeBridge(&b, br, 1)
	}
	return b.String()
}

// machineOnlyNUMANodes returns nodes that did not land under any package,
// e.g. interleaved nodes spanning several sockets.
func (t *SystemTopology) machineOnlyNUMANodes() []*NUMANode {
	var out []*NUMANode
	for _, n := range t.Machine.NUMANodes {
		owned := false
		for _, p := range t.Packages {
			for _, pn := range p.NUMANodes {
				if pn == n {
					owned = true
				}
			}
		}
		if !owned {
			out = append(out, n)
		}
	}
	return out
}

// Label renders a cache the way lstopo names levels: L1d, L1i, L2, L3.
func (c Cache) Label() string {
	switch c.Kind {
	case "Data":
		return fmt.Sprintf("L%dd", c.Level)
	case "Instruction":
		return fmt.Sprintf("L%di", c.Level)
	default:
		return fmt.Sprintf("L%d", c.Level)
	}
}

func cacheSuffix(caches []Cache) string {
	if len(caches) == 0 {
		return ""
	}
	parts := make([]string, 0, len(caches))
	for _, c := range caches {
		parts = append(parts, fmt.Sprintf("%s %s", c.Label(), memString(uint64(c.SizeBytes))))
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

func writeBridge(b *strings.Builder, br *PCIBridge, depth int) {
	indent := strings.Repeat("  ", depth)
	if br.BusID == "" {
		fmt.Fprintf(b, "%sHostBridge\n", indent)
	} else {
		fmt.Fprintf(b, "%sPCIBridge %s\n", indent, br.BusID)
	}
	for _, d := range br.Devices {
		fmt.Fprintf(b, "%s  PCI %s %s\n", indent, d.BusID, d.Description())
		for _, os := range d.OSDevices {
			fmt.Fprintf(b, "%s    %s %q\n", indent, os.Type, os.Name)
		}
	}
	for _, child := range br.Bridges {
		writeBridge(b, child, depth+1)
	}
}

// memString renders byte sizes the way lstopo does, binary units with
// integer truncation.
func memString(b uint64) string {
	const k = 1024
	switch {
	case b >= k*k*k*k:
		return fmt.Sprintf("%dTB", b/(k*k*k*k))
	case b >= k*k*k:
		return fmt.Sprintf("%dGB", b/(k*k*k))
	case b >= k*k:
		return fmt.Sprintf("%dMB", b/(k*k))
	case b >= k:
		return fmt.Sprintf("%dKB", b/k)
	default:
		return fmt.Sprintf("%dB", b)
	}
}
