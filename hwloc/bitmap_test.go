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

package hwloc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustParseBitmap(t *testing.T, s string) Bitmap {
	t.Helper()

	b, err := ParseBitmap(s)
	if err != nil {
		t.Fatalf("ParseBitmap(%q): %v", s, err)
	}
	return b
}

func Test_ParseBitmap(t *testing.T) {

	assert := assert.New(t)

	tests := []struct {
		name     string
		in       string
		weight   int
		first    int
		last     int
		rendered string
	}{
		{
			name:     "Empty String",
			in:       "",
			weight:   0,
			first:    -1,
			last:     -1,
			rendered: "0x0",
		},
		{
			name:     "Single Word",
			in:       "0x000000ff",
			weight:   8,
			first:    0,
			last:     7,
			rendered: "0x000000ff",
		},
		{
			name:     "Two Words",
			in:       "0x0000000f,0xff000fff",
			weight:   24,
			first:    0,
			last:     35,
			rendered: "0x0000000f,0xff000fff",
		},
		{
			name:     "High Bit With Zero Low Word",
			in:       "0x00004000,0x0",
			weight:   1,
			first:    46,
			last:     46,
			rendered: "0x00004000,0x0",
		},
		{
			name:     "Unpadded Word",
			in:       "0xff",
			weight:   8,
			first:    0,
			last:     7,
			rendered: "0x000000ff",
		},
		{
			name:     "Infinite",
			in:       "0xf...f",
			weight:   -1,
			first:    0,
			last:     -1,
			rendered: "0xf...f",
		},
		{
			name:     "Infinite With Hole",
			in:       "0xf...f,0xfffffff0",
			weight:   -1,
			first:    4,
			last:     -1,
			rendered: "0xf...f,0xfffffff0",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b, err := ParseBitmap(test.in)
			if err != nil {
				t.Fatalf("ParseBitmap(%q): %v", test.in, err)
			}
			assert.Equal(test.weight, b.Weight())
			assert.Equal(test.first, b.First())
			assert.Equal(test.last, b.Last())
			assert.Equal(test.rendered, b.String())
		})
	}
}

func Test_ParseBitmap_Malformed(t *testing.T) {

	assert := assert.New(t)

	for _, in := range []string{
		"ff",          // missing 0x prefix
		"0x",          // empty word
		"0xgg",        // not hex
		"0x123456789", // more than 32 bits per word
		"0x1,,0x2",    // empty token
	} {
		_, err := ParseBitmap(in)
		assert.ErrorContains(err, "malformed bitmap word", "input %q", in)
	}
}

func Test_Bitmap_Queries(t *testing.T) {

	assert := assert.New(t)

	smt := mustParseBitmap(t, "0x01000001")
	assert.Equal([]int{0, 24}, smt.Bits())
	assert.True(smt.Test(0))
	assert.True(smt.Test(24))
	assert.False(smt.Test(1))
	assert.False(smt.Test(-1))
	assert.False(smt.IsEmpty())

	byteMask := mustParseBitmap(t, "0x000000ff")
	assert.False(byteMask.Contains(smt))
	assert.True(byteMask.Contains(mustParseBitmap(t, "0x00000011")))
	assert.True(byteMask.Intersects(smt))
	assert.False(byteMask.Intersects(mustParseBitmap(t, "0x00000f00")))

	// Word counts do not matter once high zero words are trimmed.
	assert.True(mustParseBitmap(t, "0x0,0x00000001").Equal(mustParseBitmap(t, "0x1")))
	assert.False(mustParseBitmap(t, "0x2").Equal(mustParseBitmap(t, "0x1")))

	infinite := mustParseBitmap(t, "0xf...f")
	assert.True(infinite.IsInfinite())
	assert.False(infinite.IsEmpty())
	assert.True(infinite.Test(100000))
	assert.True(infinite.Contains(mustParseBitmap(t, "0x80000000,0x00000001")))
	assert.False(byteMask.Contains(infinite))
	assert.True(infinite.Intersects(byteMask))
	assert.Nil(infinite.Bits())

	empty := mustParseBitmap(t, "")
	assert.True(empty.IsEmpty())
	assert.False(empty.Intersects(byteMask))
	assert.True(byteMask.Contains(empty))
}

func Test_Bitmap_String(t *testing.T) {

	assert := assert.New(t)

	// Zero words between set words stay as placeholders, leading zero
	// words are dropped.
	b := mustParseBitmap(t, "0x1,0x0,0xffffffff")
	assert.Equal("0x00000001,0x0,0xffffffff", b.String())

	b = mustParseBitmap(t, "0x0,0x0,0x00000010")
	assert.Equal("0x00000010", b.String())

	out, err := json.Marshal(mustParseBitmap(t, "0x000000ff"))
	assert.Nil(err)
	assert.Equal(`"0x000000ff"`, string(out))
}
