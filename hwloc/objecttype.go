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

// ObjectType is the value of the "type" attribute on an <object> element.
// The set below covers every type emitted by hwloc 2.9.0 through 2.12.0.
type ObjectType string

const (
	TypeMachine  ObjectType = "Machine"
	TypePackage  ObjectType = "Package"
	TypeDie      ObjectType = "Die"
	TypeGroup    ObjectType = "Group"
	TypeNUMANode ObjectType = "NUMANode"
	TypeMemCache ObjectType = "MemCache"
	TypeCore     ObjectType = "Core"
	TypePU       ObjectType = "PU"
	TypeBridge   ObjectType = "Bridge"
	TypePCIDev   ObjectType = "PCIDev"
	TypeOSDev    ObjectType = "OSDev"
	TypeMisc     ObjectType = "Misc"

	TypeL1Cache  ObjectType = "L1Cache"
	TypeL1iCache ObjectType = "L1iCache"
	TypeL2Cache  ObjectType = "L2Cache"
	TypeL2iCache ObjectType = "L2iCache"
	TypeL3Cache  ObjectType = "L3Cache"
	TypeL3iCache ObjectType = "L3iCache"
	TypeL4Cache  ObjectType = "L4Cache"
	TypeL5Cache  ObjectType = "L5Cache"
)

// IsCache reports whether t is a CPU-side cache level. MemCache objects sit
// on the memory side and are not included.
func (t ObjectType) IsCache() bool {
	return t.CacheLevel() > 0
}

// CacheLevel returns the level of a cache type (1 for L1Cache and L1iCache,
// and so on) or 0 when t is not a CPU cache.
func (t ObjectType) CacheLevel() int {
	s := string(t)
	if len(s) < 7 || s[0] != 'L' {
		return 0
	}
	lvl := int(s[1] - '0')
	if lvl < 1 || lvl > 9 {
		return 0
	}
	rest := s[2:]
	if rest == "Cache" || rest == "iCache" {
		return lvl
	}
	return 0
}

// IsInstructionCache reports whether t is an instruction-only cache level.
func (t ObjectType) IsInstructionCache() bool {
	s := string(t)
	return t.IsCache() && len(s) > 2 && s[2] == 'i'
}

// IsMemory reports whether t lives on the memory side of the hierarchy.
func (t ObjectType) IsMemory() bool {
	return t == TypeNUMANode || t == TypeMemCache
}

// IsIO reports whether t belongs to the I/O subtree.
func (t ObjectType) IsIO() bool {
	return t == TypeBridge || t == TypePCIDev || t == TypeOSDev
}

// IsNormal reports whether t sits on the main CPU hierarchy, as opposed to
// memory, I/O and Misc objects.
func (t ObjectType) IsNormal() bool {
	return !t.IsMemory() && !t.IsIO() && t != TypeMisc
}
