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

package hwloc

import (
	"fmt"
	"strings"
)

// PCIID is the decoded pci_type attribute of a PCIDev object. All fields
// are lowercase hex without a 0x prefix, as hwloc prints them.
type PCIID struct {
	Class     string
	Vendor    string
	Device    string
	SubVendor string
	SubDevice string
	Revision  string
}

// PCIIDs decodes the pci_type attribute, which hwloc packs as
// "class [vendor:device] [subvendor:subdevice] revision", e.g.
// "0300 [10de:2684] [10de:16b8] a1". The second false return means the
// object carries no pci_type attribute.
func (o *Object) PCIIDs() (PCIID, bool, error) {
	if o.PCIType == "" {
		return PCIID{}, false, nil
	}
	fields := strings.Fields(o.PCIType)
	if len(fields) != 4 {
		return PCIID{}, true, fmt.Errorf("malformed pci_type %q", o.PCIType)
	}
	id := PCIID{Class: fields[0], Revision: fields[3]}
	var err error
	if id.Vendor, id.Device, err = splitPCIPair(fields[1]); err != nil {
		return PCIID{}, true, fmt.Errorf("malformed pci_type %q: %w", o.PCIType, err)
	}
	if id.SubVendor, id.SubDevice, err = splitPCIPair(fields[2]); err != nil {
		return PCIID{}, true, fmt.Errorf("malformed pci_type %q: %w", o.PCIType, err)
	}
	return id, true, nil
}

func splitPCIPair(s string) (string, string, error) {
	s, ok := strings.CutPrefix(s, "[")
	if !ok {
		return "", "", fmt.Errorf("missing [ in %q", s)
	}
	s, ok = strings.CutSuffix(s, "]")
	if !ok {
		return "", "", fmt.Errorf("missing ] in %q", s)
	}
	vendor, device, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", fmt.Errorf("missing : in %q", s)
	}
	return vendor, device, nil
}

// OSDev type attribute values, as encoded by hwloc.
const (
	OSDevBlock       = 0
	OSDevGPU         = 1
	OSDevNetwork     = 2
	OSDevOpenFabrics = 3
	OSDevDMA         = 4
	OSDevCoProc      = 5
)

// OSDevTypeName renders the numeric osdev_type attribute the way lstopo
// labels it. Unknown values render as the number itself.
func OSDevTypeName(t int) string {
	switch t {
	case OSDevBlock:
		return "Block"
	case OSDevGPU:
		return "GPU"
	case OSDevNetwork:
		return "Network"
	case OSDevOpenFabrics:
		return "OpenFabrics"
	case OSDevDMA:
		return "DMA"
	case OSDevCoProc:
		return "CoProc"
	default:
		return fmt.Sprintf("OSDev(%d)", t)
	}
}
