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

// New builds the object model from a decoded lstopo document. Logical
// indexes are assigned by document-order rank per object type, which is
// hwloc's own numbering rule; a Loader can afterwards replace them with
// hwloc-calc answers.
func New(doc *hwloc.Topology) (*SystemTopology, error) {
	machine := doc.Machine()
	if machine == nil {
		return nil, hwloc.ErrNoMachine
	}
	t := &SystemTopology{}
	if err := t.buildMachine(machine); err != nil {
		return nil, err
	}
	if err := t.buildPackages(machine); err != nil {
		return nil, err
	}
	if err := t.buildCPUKinds(doc); err != nil {
		return nil, err
	}
	if err := t.buildIO(machine); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *SystemTopology) buildMachine(machine *hwloc.Object) error {
	cpuset, err := machine.CPUSetBitmap()
	if err != nil {
		return fmt.Errorf("machine cpuset: %w", err)
	}
	infos := machine.InfoMap()
	t.Machine = Machine{
		Hostname:     infos["HostName"],
		Architecture: infos["Architecture"],
		OSName:       infos["OSName"],
		OSRelease:    infos["OSRelease"],
		HwlocVersion: infos["hwlocVersion"],
		Product:      infos["DMIProductName"],
		Infos:        infos,
		CPUSet:       cpuset,
	}
	if t.Machine.Product == "" {
		t.Machine.Product = infos["DarwinModel"]
	}
	for _, obj := range machine.Descendants(hwloc.TypeNUMANode) {
		node, err := buildNUMANode(obj)
		if err != nil {
			return err
		}
		t.Machine.NUMANodes = append(t.Machine.NUMANodes, node)
		t.Machine.TotalMemoryBytes += node.LocalMemoryBytes
	}
	return nil
}

func buildNUMANode(obj *hwloc.Object) (*NUMANode, error) {
	cpuset, err := obj.CPUSetBitmap()
	if err != nil {
		return nil, fmt.Errorf("NUMA node P#%d cpuset: %w", obj.OSIndex, err)
	}
	node := &NUMANode{
		OSIndex:          obj.OSIndex,
		LocalMemoryBytes: obj.LocalMemory,
		CPUSet:           cpuset,
	}
	for _, pt := range obj.PageTypes {
		node.PageTypes = append(node.PageTypes, PageType{SizeBytes: pt.Size, Count: pt.Count})
	}
	return node, nil
}

func (t *SystemTopology) buildPackages(machine *hwloc.Object) error {
	nextCore, nextPU := 0, 0
	for i, pkgObj := range machine.Descendants(hwloc.TypePackage) {
		if pkgObj.OSIndex < 0 {
			return fmt.Errorf("package object without os_index")
		}
		cpuset, err := pkgObj.CPUSetBitmap()
		if err != nil {
			return fmt.Errorf("package P#%d cpuset: %w", pkgObj.OSIndex, err)
		}
		infos := pkgObj.InfoMap()
		pkg := &Package{
			OSIndex:           pkgObj.OSIndex,
			LogicalIndex:      i,
			HierarchicalIndex: fmt.Sprintf("Package:%d", pkgObj.OSIndex),
			Vendor:            infos["CPUVendor"],
			Model:             infos["CPUModel"],
			Infos:             infos,
			CPUSet:            cpuset,
		}
		for _, n := range t.Machine.NUMANodes {
			if !n.CPUSet.IsEmpty() && cpuset.Contains(n.CPUSet) {
				pkg.NUMANodes = append(pkg.NUMANodes, n)
			}
		}
		for _, coreObj := range pkgObj.Descendants(hwloc.TypeCore) {
			core, err := buildCore(pkg, coreObj, nextCore, &nextPU)
			if err != nil {
				return err
			}
			nextCore++
			pkg.Cores = append(pkg.Cores, core)
		}
		if err := attachCaches(pkg, pkgObj); err != nil {
			return err
		}
		t.Packages = append(t.Packages, pkg)
	}
	return nil
}

func buildCore(pkg *Package, coreObj *hwloc.Object, logical int, nextPU *int) (*Core, error) {
	if coreObj.OSIndex < 0 {
		return nil, fmt.Errorf("core object under package P#%d without os_index", pkg.OSIndex)
	}
	cpuset, err := coreObj.CPUSetBitmap()
	if err != nil {
		return nil, fmt.Errorf("core P#%d cpuset: %w", coreObj.OSIndex, err)
	}
	core := &Core{
		OSIndex:           coreObj.OSIndex,
		LogicalIndex:      logical,
		HierarchicalIndex: fmt.Sprintf("%s.Core:%d", pkg.HierarchicalIndex, coreObj.OSIndex),
		CPUSet:            cpuset,
	}
	for _, puObj := range coreObj.ChildrenOfType(hwloc.TypePU) {
		if puObj.OSIndex < 0 {
			return nil, fmt.Errorf("PU object under core P#%d without os_index", coreObj.OSIndex)
		}
		puSet, err := puObj.CPUSetBitmap()
		if err != nil {
			return nil, fmt.Errorf("PU P#%d cpuset: %w", puObj.OSIndex, err)
		}
		core.PUs = append(core.PUs, &PU{
			OSIndex:           puObj.OSIndex,
			LogicalIndex:      *nextPU,
			HierarchicalIndex: fmt.Sprintf("%s.PU:%d", core.HierarchicalIndex, puObj.OSIndex),
			CPUSet:            puSet,
		})
		*nextPU++
	}
	return core, nil
}

// attachCaches walks the cache objects inside one package and hangs each
// on the narrowest scope it covers: the single core sharing its mask, or
// the package itself when several cores do.
func attachCaches(pkg *Package, pkgObj *hwloc.Object) error {
	var walk func(*hwloc.Object) error
	walk = func(o *hwloc.Object) error {
		for _, child := range o.Children {
			if child.Type.IsCache() {
				cpuset, err := child.CPUSetBitmap()
				if err != nil {
					return fmt.Errorf("%s cpuset in package P#%d: %w", child.Type, pkg.OSIndex, err)
				}
				cache := Cache{
					Level:         child.Type.CacheLevel(),
					Kind:          cacheKind(child),
					SizeBytes:     child.CacheSize,
					LineSize:      child.CacheLineSize,
					Associativity: child.CacheAssociativity,
				}
				var covered []*Core
				for _, core := range pkg.Cores {
					if core.CPUSet.Intersects(cpuset) {
						covered = append(covered, core)
					}
				}
				if len(covered) == 1 {
					covered[0].Caches = append(covered[0].Caches, cache)
				} else {
					pkg.Caches = append(pkg.Caches, cache)
				}
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(pkgObj)
}

func cacheKind(obj *hwloc.Object) string {
	switch obj.CacheType {
	case 1:
		return "Data"
	case 2:
		return "Instruction"
	case 0:
		return "Unified"
	}
	if obj.Type.IsInstructionCache() {
		return "Instruction"
	}
	return "Unified"
}

func (t *SystemTopology) buildCPUKinds(doc *hwloc.Topology) error {
	for i, kindObj := range doc.CPUKinds {
		cpuset, err := hwloc.ParseBitmap(kindObj.CPUSet)
		if err != nil {
			return fmt.Errorf("cpukind %d cpuset: %w", i, err)
		}
		kind := &CPUKind{
			Name:       kindName(kindObj, i),
			Efficiency: kindObj.ForcedEfficiency,
			CPUSet:     cpuset,
			NumPUs:     cpuset.Weight(),
		}
		for _, pu := range t.PUs() {
			if cpuset.Test(pu.OSIndex) {
				pu.Kind = kind.Name
			}
		}
		t.CPUKinds = append(t.CPUKinds, kind)
	}
	return nil
}

func kindName(k *hwloc.CPUKind, i int) string {
	if v := k.Info("CoreType"); v != "" {
		return v
	}
	// Darwin compatibility strings look like "apple,blizzard;ARM,v8".
	if v := k.Info("DarwinCompatible"); v != "" {
		v, _, _ = strings.Cut(v, ";")
		if _, name, ok := strings.Cut(v, ","); ok {
			return name
		}
		return v
	}
	return fmt.Sprintf("kind%d", i)
}

func (t *SystemTopology) buildIO(machine *hwloc.Object) error {
	var walk func(*hwloc.Object) error
	walk = func(o *hwloc.Object) error {
		for _, child := range o.Children {
			switch {
			case child.Type == hwloc.TypeBridge:
				bridge, err := buildBridge(child)
				if err != nil {
					return err
				}
				t.Bridges = append(t.Bridges, bridge)
			case child.Type == hwloc.TypePCIDev:
				dev, err := buildPCIDevice(child)
				if err != nil {
					return err
				}
				t.Devices = append(t.Devices, dev)
			case child.Type.IsIO():
				// OSDev outside a PCI device, nothing to hang it on.
			default:
				if err := walk(child); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(machine)
}

func buildBridge(obj *hwloc.Object) (*PCIBridge, error) {
	bridge := &PCIBridge{
		BusID: obj.PCIBusID,
		Buses: obj.BridgePCI,
	}
	for _, child := range obj.Children {
		switch child.Type {
		case hwloc.TypeBridge:
			sub, err := buildBridge(child)
			if err != nil {
				return nil, err
			}
			bridge.Bridges = append(bridge.Bridges, sub)
		case hwloc.TypePCIDev:
			dev, err := buildPCIDevice(child)
			if err != nil {
				return nil, err
			}
			bridge.Devices = append(bridge.Devices, dev)
		}
	}
	return bridge, nil
}

func buildPCIDevice(obj *hwloc.Object) (*PCIDevice, error) {
	dev := &PCIDevice{
		BusID:     obj.PCIBusID,
		Vendor:    obj.Info("PCIVendor"),
		Device:    obj.Info("PCIDevice"),
		LinkSpeed: obj.PCILinkSpeed,
	}
	ids, ok, err := obj.PCIIDs()
	if err != nil {
		return nil, fmt.Errorf("PCI device %s: %w", obj.PCIBusID, err)
	}
	if ok {
		dev.ClassID = ids.Class
		dev.VendorID = ids.Vendor
		dev.DeviceID = ids.Device
		dev.Revision = ids.Revision
	}
	for _, child := range obj.ChildrenOfType(hwloc.TypeOSDev) {
		osdev := OSDevice{
			Name: child.Name,
			Type: hwloc.OSDevTypeName(child.OSDevType),
		}
		if len(child.Infos) > 0 {
			osdev.Infos = child.InfoMap()
		}
		dev.OSDevices = append(dev.OSDevices, osdev)
	}
	return dev, nil
}
