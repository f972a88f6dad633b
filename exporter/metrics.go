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
	"github.com/prometheus/client_golang/prometheus"
)

type metrics map[string]*prometheus.GaugeVec

func newTopologyMetric(metricName string, docString string, constLabels prometheus.Labels, labelNames []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        metricName,
			Help:        docString,
			ConstLabels: constLabels,
		},
		labelNames,
	)
}

func NewTopologyMetrics() *map[string]*metrics {
	var (
		UpMetric = &metrics{
			"up":             newTopologyMetric("topometrics_up", "Was the last topology scrape successful. 1 = OK, 0 = BAD, 2 = ignored host", nil, []string{"target"}),
			"scrapeDuration": newTopologyMetric("topometrics_scrape_duration_seconds", "Time taken to obtain and parse the topology", nil, []string{"target"}),
		}

		MachineMetrics = &metrics{
			"machineInfo":   newTopologyMetric("topometrics_machine_info", "Static machine identity from the topology export", nil, []string{"hostname", "architecture", "os_name", "os_release", "hwloc_version", "product"}),
			"machineMemory": newTopologyMetric("topometrics_machine_memory_bytes", "Total physical memory reported by the topology", nil, []string{"hostname"}),
			"packageCount":  newTopologyMetric("topometrics_package_count", "Number of processor packages (sockets)", nil, []string{}),
			"coreCount":     newTopologyMetric("topometrics_core_count", "Number of physical cores across all packages", nil, []string{}),
			"puCount":       newTopologyMetric("topometrics_pu_count", "Number of processing units (logical CPUs)", nil, []string{}),
			"uniformSMT":    newTopologyMetric("topometrics_uniform_smt", "1 when every core carries the same number of PUs", nil, []string{}),
		}

		PackageMetrics = &metrics{
			"packageCores": newTopologyMetric("topometrics_package_cores", "Cores per package, labeled by package os index", nil, []string{"package"}),
			"packagePUs":   newTopologyMetric("topometrics_package_pus", "PUs per package, labeled by package os index", nil, []string{"package"}),
		}

		NUMAMetrics = &metrics{
			"numaNodeMemory": newTopologyMetric("topometrics_numa_node_memory_bytes", "Local memory per NUMA node", nil, []string{"node"}),
		}

		CacheMetrics = &metrics{
			"cacheBytes": newTopologyMetric("topometrics_cache_bytes", "Total cache size per level, kind and attachment scope", nil, []string{"level", "kind", "scope"}),
			"cacheCount": newTopologyMetric("topometrics_cache_count", "Number of caches per level and kind", nil, []string{"level", "kind"}),
		}

		PUMetrics = &metrics{
			"puInfo": newTopologyMetric("topometrics_pu_info", "One series per PU with its physical and logical placement", nil, []string{"package", "core", "pu", "logical", "kind"}),
		}

		KindMetrics = &metrics{
			"cpuKindPUs": newTopologyMetric("topometrics_cpu_kind_pus", "PUs covered by each hybrid CPU kind", nil, []string{"kind"}),
		}

		PCIMetrics = &metrics{
			"pciDeviceInfo": newTopologyMetric("topometrics_pci_device_info", "One series per PCI device discovered in the topology", nil, []string{"busid", "vendor", "device", "class"}),
		}

		Metrics = &map[string]*metrics{
			"up":       UpMetric,
			"machine":  MachineMetrics,
			"packages": PackageMetrics,
			"numa":     NUMAMetrics,
			"caches":   CacheMetrics,
			"pus":      PUMetrics,
			"kinds":    KindMetrics,
			"pci":      PCIMetrics,
		}
	)

	return Metrics
}
