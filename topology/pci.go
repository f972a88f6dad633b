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
	"sync"

	"github.com/jaypipes/pcidb"
)

type PCIBridge struct {
	// BusID is empty on host bridges.
	BusID   string       `json:"bus_id,omitempty"`
	Buses   string       `json:"buses,omitempty"`
	Bridges []*PCIBridge `json:"bridges,omitempty"`
	Devices []*PCIDevice `json:"devices,omitempty"`
}

type PCIDevice struct {
	BusID     string  `json:"bus_id"`
	ClassID   string  `json:"class_id,omitempty"`
	ClassName string  `json:"class_name,omitempty"`
	VendorID  string  `json:"vendor_id,omitempty"`
	DeviceID  string  `json:"device_id,omitempty"`
	Vendor    string  `json:"vendor,omitempty"`
	Device    string  `json:"device,omitempty"`
	Revision  string  `json:"revision,omitempty"`
	LinkSpeed float64 `json:"link_speed_gbs,omitempty"`

	OSDevices []OSDevice `json:"os_devices,omitempty"`
}

// OSDevice is an operating system handle hanging off a PCI device, such
// as a network interface or block device name.
type OSDevice struct {
	Name  string            `json:"name"`
	Type  string            `json:"type"`
	Infos map[string]string `json:"infos,omitempty"`
}

// Description renders ids and resolved names for one device line.
func (d *PCIDevice) Description() string {
	ids := fmt.Sprintf("[%s:%s]", d.VendorID, d.DeviceID)
	if d.Vendor == "" && d.Device == "" {
		return ids
	}
	return fmt.Sprintf("%s %s %s", ids, d.Vendor, d.Device)
}

var (
	pciDBOnce sync.Once
	pciDB     *pcidb.PCIDB
)

// pciDatabase loads the shared PCI id database once. A nil return means
// no usable pci.ids file exists on this host; callers fall back to the
// names carried in the topology document, or to raw hex ids.
func pciDatabase() *pcidb.PCIDB {
	pciDBOnce.Do(func() {
		db, err := pcidb.New()
		if err == nil {
			pciDB = db
		}
	})
	return pciDB
}

// ResolvePCINames fills in vendor, device and class names that the
// topology document itself did not provide, using the host's PCI id
// database. Missing database entries leave the raw ids in place.
func (t *SystemTopology) ResolvePCINames() {
	db := pciDatabase()
	if db == nil {
		return
	}
	for _, d := range t.PCIDevices() {
		if d.ClassName == "" && len(d.ClassID) >= 2 {
			if class, ok := db.Classes[d.ClassID[:2]]; ok {
				d.ClassName = class.Name
			}
		}
		vendor, ok := db.Vendors[d.VendorID]
		if !ok {
			continue
		}
		if d.Vendor == "" {
			d.Vendor = vendor.Name
		}
		if d.Device == "" {
			for _, product := range vendor.Products {
				if product.ID == d.DeviceID {
					d.Device = product.Name
					break
				}
			}
		}
	}
}
