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

package topology

import (
	"os"
	"strings"
	"testing"

	"github.com/comcast/topometrics/hwloc"

	"github.com/stretchr/testify/assert"
)

func loadFixture(t *testing.T, name string) *SystemTopology {
	t.Helper()

	raw, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("reading fixture %s: %v", name, err)
	}
	doc, err := hwloc.DecodeBytes(raw)
	if err != nil {
		t.Fatalf("decoding fixture %s: %v", name, err)
	}
	topo, err := New(doc)
	if err != nil {
		t.Fatalf("building topology from %s: %v", name, err)
	}
	return topo
}

func Test_Build_Counts(t *testing.T) {

	assert := assert.New(t)

	tests := []struct {
		name        string
		fixture     string
		packages    int
		cores       int
		pus         int
		totalMemory uint64
	}{
		{
			name:        "Quad Core Desktop",
			fixture:     "single-intel-core-i7-4790.xml",
			packages:    1,
			cores:       4,
			pus:         8,
			totalMemory: 16725782528,
		},
		{
			name:        "Dual Socket Server",
			fixture:     "dual-intel-xeon-gold-6126.xml",
			packages:    2,
			cores:       24,
			pus:         48,
			totalMemory: 206158430208,
		},
		{
			name:        "Hybrid ARM Desktop",
			fixture:     "single-apple-m2.xml",
			packages:    1,
			cores:       8,
			pus:         8,
			totalMemory: 17179869184,
		},
		{
			name:        "ARM SoC Core Clusters",
			fixture:     "single-nvidia-jetson-xavier-agx.xml",
			packages:    4,
			cores:       8,
			pus:         8,
			totalMemory: 33401040896,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			topo := loadFixture(t, test.fixture)

			assert.Equal(test.packages, topo.NumPackages())
			assert.Equal(test.cores, topo.NumCores())
			assert.Equal(test.pus, topo.NumPUs())
			assert.Equal(test.totalMemory, topo.Machine.TotalMemoryBytes)
			assert.True(topo.AllEqualNumPUsPerCore())
			assert.Equal(test.pus, topo.Machine.CPUSet.Weight())
		})
	}
}

func Test_Build_MachineInfo(t *testing.T) {

	assert := assert.New(t)

	topo := loadFixture(t, "single-intel-core-i7-4790.xml")

	assert.Equal("optiplex-9020", topo.Machine.Hostname)
	assert.Equal("x86_64", topo.Machine.Architecture)
	assert.Equal("Linux", topo.Machine.OSName)
	assert.Equal("5.15.0-91-generic", topo.Machine.OSRelease)
	assert.Equal("OptiPlex 9020", topo.Machine.Product)
	assert.Equal("2.9.0", topo.Machine.HwlocVersion)
	assert.Equal("0x000000ff", topo.Machine.CPUSet.String())
	assert.Equal("Dell Inc.", topo.Machine.Infos["DMISysVendor"])

	pkg := topo.Packages[0]
	assert.Equal("GenuineIntel", pkg.Vendor)
	assert.Equal("Intel(R) Core(TM) i7-4790 CPU @ 3.60GHz", pkg.Model)

	// Darwin exports carry no DMI block, the model name stands in.
	m2 := loadFixture(t, "single-apple-m2.xml")
	assert.Equal("Mac14,3", m2.Machine.Product)
	assert.Equal("Darwin", m2.Machine.OSName)
	assert.Equal("arm64", m2.Machine.Architecture)
}

func Test_Build_LogicalIndexes(t *testing.T) {

	assert := assert.New(t)

	topo := loadFixture(t, "dual-intel-xeon-gold-6126.xml")

	pkg0 := topo.PackageByOSIndex(0)
	pkg1 := topo.PackageByOSIndex(1)
	if pkg0 == nil || pkg1 == nil {
		t.Fatal("expected packages P#0 and P#1")
	}
	assert.Equal(0, pkg0.LogicalIndex)
	assert.Equal(1, pkg1.LogicalIndex)
	assert.Equal("Package:1", pkg1.HierarchicalIndex)
	assert.Nil(topo.PackageByOSIndex(5))

	// Physical core numbering has holes on these parts, logical
	// numbering ranks document order and stays dense.
	cores := topo.Cores()
	assert.Equal(24, len(cores))
	assert.Equal(0, cores[12].OSIndex)
	assert.Equal(12, cores[12].LogicalIndex)
	assert.Equal(13, cores[23].OSIndex)
	assert.Equal(23, cores[23].LogicalIndex)
	assert.Equal("Package:1.Core:13", cores[23].HierarchicalIndex)
	assert.Nil(pkg0.CoreByOSIndex(9))
	assert.Nil(pkg1.CoreByOSIndex(12))
	assert.NotNil(pkg1.CoreByOSIndex(13))

	// SMT siblings sit 24 apart, so logical PU order interleaves them.
	assert.Equal(1, topo.PUByOSIndex(24).LogicalIndex)
	assert.Equal(24, topo.PUByOSIndex(12).LogicalIndex)
	assert.Equal(47, topo.PUByOSIndex(47).LogicalIndex)
	assert.Equal("Package:1.Core:13.PU:47", topo.PUByOSIndex(47).HierarchicalIndex)
	assert.Nil(topo.PUByOSIndex(99))
}

func Test_Build_NUMANodes(t *testing.T) {

	assert := assert.New(t)

	tests := []struct {
		name         string
		fixture      string
		machineNodes int
		packageOwned bool
	}{
		{
			name:         "One Node Per Socket",
			fixture:      "dual-intel-xeon-gold-6126.xml",
			machineNodes: 2,
			packageOwned: true,
		},
		{
			name:         "Single Node Inside Package",
			fixture:      "single-apple-m2.xml",
			machineNodes: 1,
			packageOwned: true,
		},
		{
			name:         "Node Spanning All Clusters",
			fixture:      "single-nvidia-jetson-xavier-agx.xml",
			machineNodes: 1,
			packageOwned: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			topo := loadFixture(t, test.fixture)

			assert.Equal(test.machineNodes, len(topo.Machine.NUMANodes))

			owned := 0
			for _, p := range topo.Packages {
				owned += len(p.NUMANodes)
			}
			if test.packageOwned {
				assert.Equal(test.machineNodes, owned)
				assert.Empty(topo.machineOnlyNUMANodes())
			} else {
				assert.Equal(0, owned)
				assert.Equal(test.machineNodes, len(topo.machineOnlyNUMANodes()))
			}
		})
	}

	xeon := loadFixture(t, "dual-intel-xeon-gold-6126.xml")
	node := xeon.PackageByOSIndex(1).NUMANodes[0]
	assert.Equal(1, node.OSIndex)
	assert.Equal(uint64(103079215104), node.LocalMemoryBytes)

	jetson := loadFixture(t, "single-nvidia-jetson-xavier-agx.xml")
	soc := jetson.Machine.NUMANodes[0]
	assert.Equal(uint64(33401040896), soc.LocalMemoryBytes)
	assert.Equal(3, len(soc.PageTypes))
	assert.Equal(PageType{SizeBytes: 4096, Count: 8154551}, soc.PageTypes[0])
}

func Test_Build_CacheScopes(t *testing.T) {

	assert := assert.New(t)

	topo := loadFixture(t, "dual-intel-xeon-gold-6126.xml")

	// The L3 mask covers all twelve cores of its socket, so it lands on
	// the package. L2 and both L1 masks match one core each.
	for _, pkg := range topo.Packages {
		if assert.Equal(1, len(pkg.Caches)) {
			l3 := pkg.Caches[0]
			assert.Equal(3, l3.Level)
			assert.Equal("Unified", l3.Kind)
			assert.Equal(int64(20185088), l3.SizeBytes)
			assert.Equal(64, l3.LineSize)
			assert.Equal(11, l3.Associativity)
			assert.Equal("L3", l3.Label())
		}
	}
	for _, core := range topo.Cores() {
		if !assert.Equal(3, len(core.Caches)) {
			continue
		}
		assert.Equal("L2", core.Caches[0].Label())
		assert.Equal(int64(1048576), core.Caches[0].SizeBytes)
		assert.Equal("L1d", core.Caches[1].Label())
		assert.Equal("Data", core.Caches[1].Kind)
		assert.Equal(int64(32768), core.Caches[1].SizeBytes)
		assert.Equal("L1i", core.Caches[2].Label())
		assert.Equal("Instruction", core.Caches[2].Kind)
		assert.Equal(int64(32768), core.Caches[2].SizeBytes)
	}

	// Exports produced with caches filtered out build clean trees.
	jetson := loadFixture(t, "single-nvidia-jetson-xavier-agx.xml")
	for _, pkg := range jetson.Packages {
		assert.Empty(pkg.Caches)
		for _, core := range pkg.Cores {
			assert.Empty(core.Caches)
		}
	}
}

func Test_Build_CPUKinds(t *testing.T) {

	assert := assert.New(t)

	topo := loadFixture(t, "single-apple-m2.xml")

	if !assert.Equal(2, len(topo.CPUKinds)) {
		t.FailNow()
	}
	blizzard := topo.CPUKinds[0]
	assert.Equal("Blizzard", blizzard.Name)
	assert.Equal(0, blizzard.Efficiency)
	assert.Equal(4, blizzard.NumPUs)

	avalanche := topo.CPUKinds[1]
	assert.Equal("Avalanche", avalanche.Name)
	assert.Equal(1, avalanche.Efficiency)
	assert.Equal(4, avalanche.NumPUs)

	assert.Equal("Blizzard", topo.PUByOSIndex(0).Kind)
	assert.Equal("Blizzard", topo.PUByOSIndex(3).Kind)
	assert.Equal("Avalanche", topo.PUByOSIndex(4).Kind)
	assert.Equal("Avalanche", topo.PUByOSIndex(7).Kind)

	uniform := loadFixture(t, "single-intel-core-i7-4790.xml")
	assert.Empty(uniform.CPUKinds)
	for _, pu := range uniform.PUs() {
		assert.Equal("", pu.Kind)
	}
}

func Test_Build_PCIDevices(t *testing.T) {

	assert := assert.New(t)

	topo := loadFixture(t, "single-intel-core-i7-4790-io.xml")

	if !assert.Equal(1, len(topo.Bridges)) {
		t.FailNow()
	}
	host := topo.Bridges[0]
	assert.Equal("", host.BusID)
	assert.Equal("0000:[00-03]", host.Buses)
	assert.Equal(3, len(host.Devices))
	if assert.Equal(1, len(host.Bridges)) {
		assert.Equal("0000:00:1c.4", host.Bridges[0].BusID)
	}

	devices := topo.PCIDevices()
	busIDs := make([]string, 0, len(devices))
	for _, d := range devices {
		busIDs = append(busIDs, d.BusID)
	}
	assert.Equal([]string{"0000:00:02.0", "0000:00:19.0", "0000:00:1f.2", "0000:03:00.0"}, busIDs)

	gpu := devices[0]
	assert.Equal("0300", gpu.ClassID)
	assert.Equal("8086", gpu.VendorID)
	assert.Equal("0412", gpu.DeviceID)
	assert.Equal("06", gpu.Revision)
	assert.Equal("Intel Corporation", gpu.Vendor)
	assert.Equal("[8086:0412] Intel Corporation Xeon E3-1200 v3/4th Gen Core Processor Integrated Graphics Controller", gpu.Description())
	if assert.Equal(1, len(gpu.OSDevices)) {
		assert.Equal("card0", gpu.OSDevices[0].Name)
		assert.Equal("GPU", gpu.OSDevices[0].Type)
	}

	// The SATA controller carries no name infos, only raw ids.
	sata := devices[2]
	assert.Equal("0106", sata.ClassID)
	assert.Equal("", sata.Vendor)
	assert.Equal("", sata.Device)
	assert.Equal("[8086:8c02]", sata.Description())
	if assert.Equal(1, len(sata.OSDevices)) {
		assert.Equal("sda", sata.OSDevices[0].Name)
		assert.Equal("Block", sata.OSDevices[0].Type)
		assert.Equal("ST500DM002-1BD142", sata.OSDevices[0].Infos["Model"])
	}

	nic := devices[3]
	assert.Equal("10ec", nic.VendorID)
	assert.Equal(0.5, nic.LinkSpeed)
	if assert.Equal(1, len(nic.OSDevices)) {
		assert.Equal("eth1", nic.OSDevices[0].Name)
		assert.Equal("Network", nic.OSDevices[0].Type)
	}

	bare := loadFixture(t, "single-intel-core-i7-4790.xml")
	assert.Empty(bare.Bridges)
	assert.Empty(bare.PCIDevices())
}

func Test_Topology_String(t *testing.T) {

	assert := assert.New(t)

	m2 := loadFixture(t, "single-apple-m2.xml")
	expected := `Machine "m2-mini.local" (16GB, arch arm64, hwloc 2.12.0)
  CPUKind "Blizzard" (4 PUs, efficiency 0)
  CPUKind "Avalanche" (4 PUs, efficiency 1)
  Package P#0 L#0 "Apple M2"
    NUMANode P#0 (16GB)
    Core P#0 L#0
      PU P#0 L#0 (Blizzard)
    Core P#1 L#1
      PU P#1 L#1 (Blizzard)
    Core P#2 L#2
      PU P#2 L#2 (Blizzard)
    Core P#3 L#3
      PU P#3 L#3 (Blizzard)
    Core P#4 L#4
      PU P#4 L#4 (Avalanche)
    Core P#5 L#5
      PU P#5 L#5 (Avalanche)
    Core P#6 L#6
      PU P#6 L#6 (Avalanche)
    Core P#7 L#7
      PU P#7 L#7 (Avalanche)
`
	assert.Equal(expected, m2.String())

	xeon := loadFixture(t, "dual-intel-xeon-gold-6126.xml").String()
	for _, line := range []string{
		"Machine \"sm-x11dph\" (192GB, arch x86_64, hwloc 2.12.0)\n",
		"  Package P#1 L#1 \"Intel(R) Xeon(R) Gold 6126 CPU @ 2.60GHz\"\n",
		"    NUMANode P#1 (96GB)\n",
		"    L3 (19MB)\n",
		"    Core P#0 L#12 [L2 1MB, L1d 32KB, L1i 32KB]\n",
		"      PU P#47 L#47\n",
	} {
		assert.True(strings.Contains(xeon, line), "missing line %q", line)
	}

	ioTree := loadFixture(t, "single-intel-core-i7-4790-io.xml").String()
	for _, line := range []string{
		"  HostBridge\n",
		"    PCI 0000:00:1f.2 [8086:8c02]\n",
		"      Block \"sda\"\n",
		"    PCIBridge 0000:00:1c.4\n",
		"      PCI 0000:03:00.0 [10ec:8168] Realtek Semiconductor Co., Ltd. RTL8111/8168/8411 PCI Express Gigabit Ethernet Controller\n",
		"        Network \"eth1\"\n",
	} {
		assert.True(strings.Contains(ioTree, line), "missing line %q", line)
	}
}

func Test_MemString(t *testing.T) {

	assert := assert.New(t)

	tests := []struct {
		in       uint64
		expected string
	}{
		{512, "512B"},
		{2048, "2KB"},
		{32768, "32KB"},
		{20185088, "19MB"},
		{16725782528, "15GB"},
		{206158430208, "192GB"},
		{2199023255552, "2TB"},
	}

	for _, test := range tests {
		assert.Equal(test.expected, memString(test.in))
	}
}
