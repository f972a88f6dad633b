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
	"encoding/xml"
	"fmt"
	"strconv"
)

// Topology is a decoded lstopo XML export. Elements the model does not
// depend on (distances2, memattr, support) are skipped so that documents
// from any hwloc 2.x release decode cleanly.
type Topology struct {
	Version  string     `xml:"version,attr"`
	Objects  []*Object  `xml:"object"`
	CPUKinds []*CPUKind `xml:"cpukind"`
}

// Machine returns the root Machine object. Decode guarantees exactly one.
func (t *Topology) Machine() *Object {
	for _, o := range t.Objects {
		if o.Type == TypeMachine {
			return o
		}
	}
	return nil
}

// Info is a name/value pair attached to an object.
type Info struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// PageType describes one page size supported by a NUMA node.
type PageType struct {
	Size  uint64 `xml:"size,attr"`
	Count uint64 `xml:"count,attr"`
}

// CPUKind is one hybrid-CPU kind: the mask of PUs it covers plus
// descriptive infos such as CoreType or FrequencyMaxMHz.
type CPUKind struct {
	CPUSet string
	// ForcedEfficiency is -1 when the attribute is absent.
	ForcedEfficiency int
	Infos            []Info
}

func (k *CPUKind) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	k.ForcedEfficiency = -1
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "cpuset":
			k.CPUSet = a.Value
		case "forced_efficiency":
			v, err := strconv.Atoi(a.Value)
			if err != nil {
				return fmt.Errorf("bad forced_efficiency %q: %w", a.Value, err)
			}
			k.ForcedEfficiency = v
		}
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "info" {
				var info Info
				if err := d.DecodeElement(&info, &el); err != nil {
					return err
				}
				k.Infos = append(k.Infos, info)
			} else if err := d.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

// Info returns the value of the named info, or "" when absent.
func (k *CPUKind) Info(name string) string {
	for _, i := range k.Infos {
		if i.Name == name {
			return i.Value
		}
	}
	return ""
}

// Object is one <object> element. Numeric attributes that may legitimately
// be absent default to -1 so that absence stays distinguishable from zero.
type Object struct {
	Type    ObjectType
	OSIndex int
	GPIndex uint64
	Name    string
	Subtype string

	CPUSet         string
	CompleteCPUSet string
	AllowedCPUSet  string
	NodeSet        string
	CompleteNodeSet string
	AllowedNodeSet  string

	// LocalMemory is set on NUMANode objects, in bytes.
	LocalMemory uint64

	CacheSize          int64
	CacheLineSize      int
	CacheAssociativity int
	// CacheType holds the numeric cache_type attribute: 0 unified,
	// 1 data, 2 instruction. -1 when absent.
	CacheType int
	Depth     int

	BridgeType   string
	BridgePCI    string
	PCIBusID     string
	PCIType      string
	PCILinkSpeed float64
	OSDevType    int

	Infos     []Info
	PageTypes []PageType
	Children  []*Object
}

func (o *Object) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	o.OSIndex = -1
	o.CacheSize = -1
	o.CacheType = -1
	o.Depth = -1
	o.OSDevType = -1
	for _, a := range start.Attr {
		var err error
		switch a.Name.Local {
		case "type":
			o.Type = ObjectType(a.Value)
		case "os_index":
			o.OSIndex, err = strconv.Atoi(a.Value)
		case "gp_index":
			o.GPIndex, err = strconv.ParseUint(a.Value, 10, 64)
		case "name":
			o.Name = a.Value
		case "subtype":
			o.Subtype = a.Value
		case "cpuset":
			o.CPUSet = a.Value
		case "complete_cpuset":
			o.CompleteCPUSet = a.Value
		case "allowed_cpuset":
			o.AllowedCPUSet = a.Value
		case "nodeset":
			o.NodeSet = a.Value
		case "complete_nodeset":
			o.CompleteNodeSet = a.Value
		case "allowed_nodeset":
			o.AllowedNodeSet = a.Value
		case "local_memory":
			o.LocalMemory, err = strconv.ParseUint(a.Value, 10, 64)
		case "cache_size":
			o.CacheSize, err = strconv.ParseInt(a.Value, 10, 64)
		case "cache_linesize":
			o.CacheLineSize, err = strconv.Atoi(a.Value)
		case "cache_associativity":
			o.CacheAssociativity, err = strconv.Atoi(a.Value)
		case "cache_type":
			o.CacheType, err = strconv.Atoi(a.Value)
		case "depth":
			o.Depth, err = strconv.Atoi(a.Value)
		case "bridge_type":
			o.BridgeType = a.Value
		case "bridge_pci":
			o.BridgePCI = a.Value
		case "pci_busid":
			o.PCIBusID = a.Value
		case "pci_type":
			o.PCIType = a.Value
		case "pci_link_speed":
			o.PCILinkSpeed, err = strconv.ParseFloat(a.Value, 64)
		case "osdev_type":
			o.OSDevType, err = strconv.Atoi(a.Value)
		}
		if err != nil {
			return fmt.Errorf("bad %s attribute %q: %w", a.Name.Local, a.Value, err)
		}
	}
	if o.Type == "" {
		return fmt.Errorf("object element without a type attribute")
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "info":
				var info Info
				if err := d.DecodeElement(&info, &el); err != nil {
					return err
				}
				o.Infos = append(o.Infos, info)
			case "object":
				child := &Object{}
				if err := d.DecodeElement(child, &el); err != nil {
					return err
				}
				o.Children = append(o.Children, child)
			case "page_type":
				var pt PageType
				if err := d.DecodeElement(&pt, &el); err != nil {
					return err
				}
				o.PageTypes = append(o.PageTypes, pt)
			default:
				// The Machine object is the anchor everything else hangs
				// off; a stray element there means a document this schema
				// does not understand. Elsewhere unknown elements are
				// skipped for forward compatibility.
				if o.Type == TypeMachine {
					return fmt.Errorf("unexpected element <%s> under Machine object", el.Name.Local)
				}
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			return nil
		}
	}
}

// Info returns the value of the named info, or "" when absent.
func (o *Object) Info(name string) string {
	for _, i := range o.Infos {
		if i.Name == name {
			return i.Value
		}
	}
	return ""
}

// InfoMap copies the object's infos into a map. Later duplicates win, which
// matches how hwloc itself resolves repeated names.
func (o *Object) InfoMap() map[string]string {
	m := make(map[string]string, len(o.Infos))
	for _, i := range o.Infos {
		m[i.Name] = i.Value
	}
	return m
}

// CPUSetBitmap parses the object's cpuset attribute. Objects without one
// (Misc, some I/O objects) yield the empty mask.
func (o *Object) CPUSetBitmap() (Bitmap, error) {
	return ParseBitmap(o.CPUSet)
}

// NodeSetBitmap parses the object's nodeset attribute.
func (o *Object) NodeSetBitmap() (Bitmap, error) {
	return ParseBitmap(o.NodeSet)
}

// ChildrenOfType returns direct children of the given type, in document
// order.
func (o *Object) ChildrenOfType(t ObjectType) []*Object {
	var out []*Object
	for _, c := range o.Children {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// Descendants returns every descendant of the given type, depth first in
// document order. The receiver itself is not included.
func (o *Object) Descendants(t ObjectType) []*Object {
	var out []*Object
	var walk func(*Object)
	walk = func(n *Object) {
		for _, c := range n.Children {
			if c.Type == t {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(o)
	return out
}

// Walk visits the receiver and every descendant depth first in document
// order, stopping early when fn returns false.
func (o *Object) Walk(fn func(*Object) bool) {
	var walk func(*Object) bool
	walk = func(n *Object) bool {
		if !fn(n) {
			return false
		}
		for _, c := range n.Children {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(o)
}
