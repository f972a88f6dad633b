/*
 * Copyright 2024 Comcast Cable Communications Management, LLC
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

package exporter

import (
	"fmt"
	"strconv"

	"github.com/comcast/topometrics/hwloc"
	"github.com/comcast/topometrics/topology"
)

// exportTopology decodes a raw XML topology export, builds the structured
// model from it and sets the prometheus gauges for the requested groups.
func (e *Exporter) exportTopology(body []byte, groups []Group) error {
	doc, err := hwloc.DecodeBytes(body)
	if err != nil {
		return fmt.Errorf("Error Decoding Topology Export - " + err.Error())
	}

	t, err := topology.New(doc)
	if err != nil {
		return fmt.Errorf("Error Building Topology Model - " + err.Error())
	}

	if wantGroup(groups, GroupPCI) {
		t.ResolvePCINames()
	}

	e.topo = t
	e.export(t, groups)

	return nil
}

// export sets the gauges for every requested metric group. An empty group
// list means all of them.
func (e *Exporter) export(t *topology.SystemTopology, groups []Group) {
	if wantGroup(groups, GroupMachine) {
		e.exportMachineMetrics(t)
	}
	if wantGroup(groups, GroupPackages) {
		e.exportPackageMetrics(t)
	}
	if wantGroup(groups, GroupNUMA) {
		e.exportNUMAMetrics(t)
	}
	if wantGroup(groups, GroupCaches) {
		e.exportCacheMetrics(t)
	}
	if wantGroup(groups, GroupPUs) {
		e.exportPUMetrics(t)
	}
	if wantGroup(groups, GroupKinds) {
		e.exportKindMetrics(t)
	}
	if wantGroup(groups, GroupPCI) {
		e.exportPCIMetrics(t)
	}
}

// exportMachineMetrics sets the machine identity and machine-wide count gauges
func (e *Exporter) exportMachineMetrics(t *topology.SystemTopology) {
	var mm = (*e.topologyMetrics)["machine"]
	m := t.Machine

	(*mm)["machineInfo"].WithLabelValues(m.Hostname, m.Architecture, m.OSName, m.OSRelease, m.HwlocVersion, m.Product).Set(OK)
	(*mm)["machineMemory"].WithLabelValues(m.Hostname).Set(float64(m.TotalMemoryBytes))
	(*mm)["packageCount"].WithLabelValues().Set(float64(t.NumPackages()))
	(*mm)["coreCount"].WithLabelValues().Set(float64(t.NumCores()))
	(*mm)["puCount"].WithLabelValues().Set(float64(t.NumPUs()))

	var uniform float64
	if t.AllEqualNumPUsPerCore() {
		uniform = OK
	}
	(*mm)["uniformSMT"].WithLabelValues().Set(uniform)
}

// exportPackageMetrics sets the per-package core and PU count gauges
func (e *Exporter) exportPackageMetrics(t *topology.SystemTopology) {
	var pm = (*e.topologyMetrics)["packages"]

	for _, p := range t.Packages {
		id := strconv.Itoa(p.OSIndex)
		(*pm)["packageCores"].WithLabelValues(id).Set(float64(p.NumCores()))
		(*pm)["packagePUs"].WithLabelValues(id).Set(float64(p.NumPUs()))
	}
}

// exportNUMAMetrics sets the local memory gauge per NUMA node
func (e *Exporter) exportNUMAMetrics(t *topology.SystemTopology) {
	var nm = (*e.topologyMetrics)["numa"]

	for _, node := range t.Machine.NUMANodes {
		(*nm)["numaNodeMemory"].WithLabelValues(strconv.Itoa(node.OSIndex)).Set(float64(node.LocalMemoryBytes))
	}
}

// exportCacheMetrics aggregates cache sizes and counts by level, kind and
// the scope the cache is attached at
func (e *Exporter) exportCacheMetrics(t *topology.SystemTopology) {
	var cm = (*e.topologyMetrics)["caches"]

	add := func(c topology.Cache, scope string) {
		level := strconv.Itoa(c.Level)
		(*cm)["cacheBytes"].WithLabelValues(level, c.Kind, scope).Add(float64(c.SizeBytes))
		(*cm)["cacheCount"].WithLabelValues(level, c.Kind).Add(1)
	}

	for _, p := range t.Packages {
		for _, c := range p.Caches {
			add(c, "package")
		}
		for _, core := range p.Cores {
			for _, c := range core.Caches {
				add(c, "core")
			}
		}
	}
}

// exportPUMetrics sets one placement gauge per processing unit
func (e *Exporter) exportPUMetrics(t *topology.SystemTopology) {
	var pm = (*e.topologyMetrics)["pus"]

	for _, p := range t.Packages {
		for _, core := range p.Cores {
			for _, pu := range core.PUs {
				(*pm)["puInfo"].WithLabelValues(
					strconv.Itoa(p.OSIndex),
					strconv.Itoa(core.OSIndex),
					strconv.Itoa(pu.OSIndex),
					strconv.Itoa(pu.LogicalIndex),
					pu.Kind).Set(OK)
			}
		}
	}
}

// exportKindMetrics sets the PU count gauge per hybrid CPU kind
func (e *Exporter) exportKindMetrics(t *topology.SystemTopology) {
	var km = (*e.topologyMetrics)["kinds"]

	for _, kind := range t.CPUKinds {
		(*km)["cpuKindPUs"].WithLabelValues(kind.Name).Set(float64(kind.NumPUs))
	}
}

// exportPCIMetrics sets one identity gauge per PCI device, falling back to
// raw hex ids when no name was resolved
func (e *Exporter) exportPCIMetrics(t *topology.SystemTopology) {
	var pm = (*e.topologyMetrics)["pci"]

	for _, d := range t.PCIDevices() {
		vendor := d.Vendor
		if vendor == "" {
			vendor = d.VendorID
		}
		device := d.Device
		if device == "" {
			device = d.DeviceID
		}
		class := d.ClassName
		if class == "" {
			class = d.ClassID
		}
		(*pm)["pciDeviceInfo"].WithLabelValues(d.BusID, vendor, device, class).Set(OK)
	}
}
