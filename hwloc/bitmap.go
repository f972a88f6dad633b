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
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// infinitePrefix marks a mask whose upper bits are all set, e.g. the
// allowed_nodeset="0xf...f" emitted for unrestricted topologies.
const infinitePrefix = "0xf...f"

// Bitmap is an hwloc cpuset/nodeset mask. The textual form is a
// comma-separated list of 32-bit hex words, most significant first,
// optionally preceded by the infinite prefix.
type Bitmap struct {
	// words[0] holds bits 0-31.
	words    []uint32
	infinite bool
}

// ParseBitmap parses the hwloc mask syntax, e.g. "0x000000ff",
// "0x0000000f,0xff000fff" or "0xf...f,0xfffffff0". An empty string parses
// as the empty mask.
func ParseBitmap(s string) (Bitmap, error) {
	var b Bitmap
	if s == "" {
		return b, nil
	}
	tokens := strings.Split(s, ",")
	if tokens[0] == infinitePrefix {
		b.infinite = true
		tokens = tokens[1:]
	}
	// Tokens run most significant word first.
	b.words = make([]uint32, len(tokens))
	for i, tok := range tokens {
		hex := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
		if hex == tok || hex == "" || len(hex) > 8 {
			return Bitmap{}, fmt.Errorf("malformed bitmap word %q in %q", tok, s)
		}
		w, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return Bitmap{}, fmt.Errorf("malformed bitmap word %q in %q", tok, s)
		}
		b.words[len(tokens)-1-i] = uint32(w)
	}
	b.trim()
	return b, nil
}

func (b *Bitmap) trim() {
	// High zero words below an infinite run are a gap, not padding.
	if b.infinite {
		return
	}
	for len(b.words) > 0 && b.words[len(b.words)-1] == 0 {
		b.words = b.words[:len(b.words)-1]
	}
}

// IsInfinite reports whether all bits above the stored words are set.
func (b Bitmap) IsInfinite() bool { return b.infinite }

// IsEmpty reports whether no bit is set.
func (b Bitmap) IsEmpty() bool {
	if b.infinite {
		return false
	}
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Weight returns the number of set bits, or -1 for an infinite mask.
func (b Bitmap) Weight() int {
	if b.infinite {
		return -1
	}
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount32(w)
	}
	return n
}

// Test reports whether bit i is set.
func (b Bitmap) Test(i int) bool {
	if i < 0 {
		return false
	}
	word := i / 32
	if word >= len(b.words) {
		return b.infinite
	}
	return b.words[word]&(1<<uint(i%32)) != 0
}

// First returns the lowest set bit, or -1 when the mask is empty.
func (b Bitmap) First() int {
	for i, w := range b.words {
		if w != 0 {
			return i*32 + bits.TrailingZeros32(w)
		}
	}
	if b.infinite {
		return len(b.words) * 32
	}
	return -1
}

// Last returns the highest set bit. It returns -1 when the mask is empty
// or infinite.
func (b Bitmap) Last() int {
	if b.infinite {
		return -1
	}
	for i := len(b.words) - 1; i >= 0; i-- {
		if w := b.words[i]; w != 0 {
			return i*32 + 31 - bits.LeadingZeros32(w)
		}
	}
	return -1
}

// Bits returns the set bits in ascending order. Infinite masks return nil.
func (b Bitmap) Bits() []int {
	if b.infinite {
		return nil
	}
	var out []int
	for i, w := range b.words {
		for w != 0 {
			bit := bits.TrailingZeros32(w)
			out = append(out, i*32+bit)
			w &^= 1 << uint(bit)
		}
	}
	return out
}

func (b Bitmap) word(i int) uint32 {
	if i < len(b.words) {
		return b.words[i]
	}
	if b.infinite {
		return ^uint32(0)
	}
	return 0
}

// Contains reports whether every bit of other is also set in b.
func (b Bitmap) Contains(other Bitmap) bool {
	if other.infinite && !b.infinite {
		return false
	}
	n := len(b.words)
	if len(other.words) > n {
		n = len(other.words)
	}
	for i := 0; i < n; i++ {
		if other.word(i)&^b.word(i) != 0 {
			return false
		}
	}
	return true
}

// Intersects reports whether b and other share at least one set bit.
func (b Bitmap) Intersects(other Bitmap) bool {
	if b.infinite && other.infinite {
		return true
	}
	n := len(b.words)
	if len(other.words) > n {
		n = len(other.words)
	}
	for i := 0; i < n; i++ {
		if b.word(i)&other.word(i) != 0 {
			return true
		}
	}
	return false
}

// Equal reports whether both masks hold exactly the same bits.
func (b Bitmap) Equal(other Bitmap) bool {
	if b.infinite != other.infinite {
		return false
	}
	n := len(b.words)
	if len(other.words) > n {
		n = len(other.words)
	}
	for i := 0; i < n; i++ {
		if b.word(i) != other.word(i) {
			return false
		}
	}
	return true
}

// MarshalJSON renders the mask as its canonical hwloc string.
func (b Bitmap) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// String renders the canonical hwloc form: most significant word first,
// non-zero words zero-padded to 8 digits, zero words shortened to 0x0.
func (b Bitmap) String() string {
	if b.IsEmpty() {
		return "0x0"
	}
	var sb strings.Builder
	needComma := false
	if b.infinite {
		sb.WriteString(infinitePrefix)
		needComma = true
	}
	for i := len(b.words) - 1; i >= 0; i-- {
		w := b.words[i]
		switch {
		case w == 0 && needComma:
			sb.WriteString(",0x0")
		case w == 0:
			// Leading zero words are dropped from finite masks.
			continue
		case needComma:
			fmt.Fprintf(&sb, ",0x%08x", w)
		default:
			fmt.Fprintf(&sb, "0x%08x", w)
		}
		needComma = true
	}
	return sb.String()
}
