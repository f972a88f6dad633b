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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/comcast/topometrics/hwloc"

	"github.com/stretchr/testify/assert"
)

// stubRunner substitutes canned hwloc CLI behavior. The calc map answers
// hwloc-calc per object type, export lands in the file lstopo is asked to
// write. Index resolution fans out over a worker pool, so call recording
// takes a lock.
type stubRunner struct {
	mu      sync.Mutex
	calls   [][]string
	export  []byte
	calc    map[string]string
	missing map[string]bool
}

func (r *stubRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	if r.missing[name] {
		return nil, fmt.Errorf("%s: %w", name, ErrToolMissing)
	}
	switch name {
	case "lstopo-no-graphics":
		path := args[len(args)-1]
		if err := os.WriteFile(path, r.export, 0o644); err != nil {
			return nil, err
		}
		return nil, nil
	case "hwloc-calc":
		for i, a := range args {
			if a == "-I" && i+1 < len(args) {
				return []byte(r.calc[args[i+1]] + "\n"), nil
			}
		}
	}
	return nil, fmt.Errorf("unexpected command %s", name)
}

func (r *stubRunner) LookPath(name string) (string, error) {
	if r.missing[name] {
		return "", fmt.Errorf("%s: %w", name, exec.ErrNotFound)
	}
	return "/usr/bin/" + name, nil
}

func (r *stubRunner) commands(name string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out [][]string
	for _, c := range r.calls {
		if c[0] == name {
			out = append(out, c[1:])
		}
	}
	return out
}

func Test_LstopoArgs(t *testing.T) {

	assert := assert.New(t)

	tests := []struct {
		name     string
		opts     LoadOptions
		expected []string
	}{
		{
			name:     "Skeleton Export",
			opts:     LoadOptions{},
			expected: []string{"--no-collapse", "--no-caches", "--no-io", "--no-bridges", "--force", "/tmp/topo.xml"},
		},
		{
			name:     "Caches Enabled",
			opts:     LoadOptions{Caches: true},
			expected: []string{"--no-collapse", "--no-io", "--no-bridges", "--force", "/tmp/topo.xml"},
		},
		{
			name:     "IO Without Bridges",
			opts:     LoadOptions{Caches: true, IO: true},
			expected: []string{"--no-collapse", "--no-bridges", "--force", "/tmp/topo.xml"},
		},
		{
			name:     "Everything Enabled",
			opts:     LoadOptions{Caches: true, IO: true, Bridges: true},
			expected: []string{"--no-collapse", "--force", "/tmp/topo.xml"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(test.expected, lstopoArgs(test.opts, "/tmp/topo.xml"))
		})
	}
}

func Test_CalcArgs(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(
		[]string{"-I", "Package", "--physical-input", "--logical-output", "Package:0", "Package:1"},
		calcArgs(hwloc.TypePackage, []string{"Package:0", "Package:1"}, ""))

	assert.Equal(
		[]string{"--input", "/tmp/topo.xml", "-I", "PU", "--physical-input", "--logical-output", "Package:0.Core:0.PU:0"},
		calcArgs(hwloc.TypePU, []string{"Package:0.Core:0.PU:0"}, "/tmp/topo.xml"))
}

func Test_ParseCalcOutput(t *testing.T) {

	assert := assert.New(t)

	tests := []struct {
		name      string
		out       string
		want      int
		expected  []int
		expectErr string
	}{
		{
			name:     "Single Index",
			out:      "  7  \n",
			want:     1,
			expected: []int{7},
		},
		{
			name:     "Comma List",
			out:      "3,2,1,0\n",
			want:     4,
			expected: []int{3, 2, 1, 0},
		},
		{
			name:      "Empty Output",
			out:       "\n",
			want:      2,
			expectErr: "hwloc-calc returned no indexes",
		},
		{
			name:      "Short Answer",
			out:       "0,1\n",
			want:      3,
			expectErr: "hwloc-calc returned 2 indexes, expected 3",
		},
		{
			name:      "Garbage",
			out:       "a,b\n",
			want:      2,
			expectErr: "hwloc-calc returned \"a\"",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			indexes, err := parseCalcOutput([]byte(test.out), test.want)
			if test.expectErr != "" {
				assert.ErrorContains(err, test.expectErr)
				return
			}
			assert.Nil(err)
			assert.Equal(test.expected, indexes)
		})
	}
}

func Test_Snapshot(t *testing.T) {

	assert := assert.New(t)

	export, err := os.ReadFile("testdata/single-apple-m2.xml")
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}

	// hwloc-calc stays unavailable so auto mode keeps document order.
	runner := &stubRunner{
		export:  export,
		missing: map[string]bool{"hwloc-calc": true},
	}
	loader := NewLoader(LoadOptions{})
	loader.Runner = runner
	assert.Equal(IndexAuto, loader.Options.LogicalIndexes)

	topo, raw, err := loader.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	assert.Equal(export, raw)
	assert.Equal("m2-mini.local", topo.Machine.Hostname)
	assert.Equal(8, topo.NumCores())
	assert.Equal(7, topo.PUByOSIndex(7).LogicalIndex)

	exports := runner.commands("lstopo-no-graphics")
	if !assert.Equal(1, len(exports)) {
		t.FailNow()
	}
	args := exports[0]
	assert.Equal([]string{"--no-collapse", "--no-caches", "--no-io", "--no-bridges", "--force"}, args[:len(args)-1])
	assert.True(strings.Contains(args[len(args)-1], "topometrics-"))
	assert.Empty(runner.commands("hwloc-calc"))
}

func Test_Discover_ToolMissing(t *testing.T) {

	assert := assert.New(t)

	loader := NewLoader(LoadOptions{})
	loader.Runner = &stubRunner{missing: map[string]bool{"lstopo-no-graphics": true}}

	_, err := loader.Discover(context.Background())
	assert.True(errors.Is(err, ErrToolMissing))
}

func Test_LoadFile_CalcIndexes(t *testing.T) {

	assert := assert.New(t)

	path := "testdata/single-nvidia-jetson-xavier-agx.xml"
	runner := &stubRunner{
		calc: map[string]string{
			"Package": "3,2,1,0",
			"Core":    "7,6,5,4,3,2,1,0",
			"PU":      "7,6,5,4,3,2,1,0",
		},
	}
	loader := NewLoader(LoadOptions{LogicalIndexes: IndexCalc})
	loader.Runner = runner

	topo, err := loader.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	assert.Equal(3, topo.PackageByOSIndex(0).LogicalIndex)
	assert.Equal(0, topo.PackageByOSIndex(3).LogicalIndex)
	assert.Equal(7, topo.Cores()[0].LogicalIndex)
	assert.Equal(7, topo.PUByOSIndex(0).LogicalIndex)
	assert.Equal(0, topo.PUByOSIndex(7).LogicalIndex)

	// One invocation per object type, each against the export file.
	calls := runner.commands("hwloc-calc")
	if !assert.Equal(3, len(calls)) {
		t.FailNow()
	}
	for _, args := range calls {
		assert.Equal([]string{"--input", path}, args[:2])
		assert.Contains(args, "--physical-input")
		assert.Contains(args, "--logical-output")
	}
}

func Test_LoadFile_CalcOutputMismatch(t *testing.T) {

	assert := assert.New(t)

	runner := &stubRunner{
		calc: map[string]string{
			"Package": "0,1,2,3",
			"Core":    "0,1",
			"PU":      "0,1,2,3,4,5,6,7",
		},
	}
	loader := NewLoader(LoadOptions{LogicalIndexes: IndexCalc})
	loader.Runner = runner

	_, err := loader.LoadFile(context.Background(), "testdata/single-nvidia-jetson-xavier-agx.xml")
	assert.ErrorContains(err, "Core indexes")
	assert.ErrorContains(err, "expected 8")
}

func Test_Load_ForcedCalcRoundTrip(t *testing.T) {

	assert := assert.New(t)

	raw, err := os.ReadFile("testdata/single-apple-m2.xml")
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	runner := &stubRunner{
		calc: map[string]string{
			"Package": "0",
			"Core":    "0,1,2,3,4,5,6,7",
			"PU":      "0,1,2,3,4,5,6,7",
		},
	}
	loader := NewLoader(LoadOptions{LogicalIndexes: IndexCalc})
	loader.Runner = runner

	topo, err := loader.Load(context.Background(), bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	assert.Equal(8, topo.NumPUs())
	assert.Equal(2, len(topo.CPUKinds))

	// Stream input round-trips through a temp file so --input can see it.
	calls := runner.commands("hwloc-calc")
	if !assert.Equal(3, len(calls)) {
		t.FailNow()
	}
	for _, args := range calls {
		assert.Equal("--input", args[0])
		assert.True(strings.Contains(args[1], "topometrics-"))
	}
}
