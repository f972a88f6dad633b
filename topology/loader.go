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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/comcast/topometrics/hwloc"

	"go.uber.org/zap"
)

// ErrToolMissing marks a missing hwloc binary on PATH.
var ErrToolMissing = errors.New("hwloc tool not found")

// Runner abstracts running hwloc CLI tools so tests can substitute
// canned outputs.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(name string) (string, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrToolMissing)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}

func (execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// LoadOptions mirror the lstopo export filters. All three collectors
// default to off, which keeps discovery output at the package, core and
// PU skeleton.
type LoadOptions struct {
	Caches  bool
	IO      bool
	Bridges bool

	LogicalIndexes IndexMode
	Timeout        time.Duration
}

// Loader drives the hwloc CLI tools to produce SystemTopology values.
type Loader struct {
	Options LoadOptions

	// Runner defaults to an os/exec backed implementation; tests
	// replace it.
	Runner Runner
}

func NewLoader(opts LoadOptions) *Loader {
	if opts.LogicalIndexes == "" {
		opts.LogicalIndexes = IndexAuto
	}
	return &Loader{Options: opts, Runner: execRunner{}}
}

func (l *Loader) runner() Runner {
	if l.Runner != nil {
		return l.Runner
	}
	return execRunner{}
}

func (l *Loader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.Options.Timeout > 0 {
		return context.WithTimeout(ctx, l.Options.Timeout)
	}
	return context.WithCancel(ctx)
}

// lstopoArgs builds the export command line. Each collector that stays
// disabled turns into the matching --no-* filter.
func lstopoArgs(opts LoadOptions, path string) []string {
	args := []string{"--no-collapse"}
	if !opts.Caches {
		args = append(args, "--no-caches")
	}
	if !opts.IO {
		args = append(args, "--no-io")
	}
	if !opts.Bridges {
		args = append(args, "--no-bridges")
	}
	return append(args, "--force", path)
}

// Discover exports the local machine's topology through
// lstopo-no-graphics, parses it and resolves logical indexes.
func (l *Loader) Discover(ctx context.Context) (*SystemTopology, error) {
	t, _, err := l.Snapshot(ctx)
	return t, err
}

// Snapshot is Discover plus the raw XML document lstopo produced, for
// callers that re-serve the export verbatim.
func (l *Loader) Snapshot(ctx context.Context) (*SystemTopology, []byte, error) {
	log := zap.L()
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	tmp, err := os.CreateTemp("", "topometrics-*.xml")
	if err != nil {
		return nil, nil, fmt.Errorf("creating export file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	args := lstopoArgs(l.Options, path)
	log.Debug("exporting local topology", zap.Strings("args", args))
	if _, err := l.runner().Output(ctx, "lstopo-no-graphics", args...); err != nil {
		return nil, nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading export file: %w", err)
	}
	doc, err := hwloc.DecodeBytes(raw)
	if err != nil {
		return nil, nil, err
	}
	t, err := New(doc)
	if err != nil {
		return nil, nil, err
	}
	// Live machine: hwloc-calc answers questions about this host
	// directly, no --input needed.
	if err := l.applyIndexMode(ctx, t, ""); err != nil {
		return nil, nil, err
	}
	t.ResolvePCINames()
	log.Debug("discovered local topology",
		zap.Int("packages", t.NumPackages()),
		zap.Int("cores", t.NumCores()),
		zap.Int("pus", t.NumPUs()))
	return t, raw, nil
}

// LoadFile parses an existing lstopo XML export. hwloc-calc queries, when
// enabled, run against that file through --input rather than the live
// machine.
func (l *Loader) LoadFile(ctx context.Context, path string) (*SystemTopology, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	doc, err := hwloc.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	t, err := New(doc)
	if err != nil {
		return nil, err
	}
	if err := l.applyIndexMode(ctx, t, path); err != nil {
		return nil, err
	}
	t.ResolvePCINames()
	return t, nil
}

// Load parses an export from a stream. Forced hwloc-calc resolution
// round-trips the document through a temp file so --input can see it.
func (l *Loader) Load(ctx context.Context, r io.Reader) (*SystemTopology, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading topology XML: %w", err)
	}
	doc, err := hwloc.DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	t, err := New(doc)
	if err != nil {
		return nil, err
	}
	if l.Options.LogicalIndexes == IndexCalc {
		tmp, err := os.CreateTemp("", "topometrics-*.xml")
		if err != nil {
			return nil, fmt.Errorf("creating export file: %w", err)
		}
		path := tmp.Name()
		defer os.Remove(path)
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return nil, fmt.Errorf("writing export file: %w", err)
		}
		tmp.Close()
		if err := l.resolveWithCalc(ctx, t, path); err != nil {
			return nil, err
		}
	}
	t.ResolvePCINames()
	return t, nil
}

// applyIndexMode runs hwloc-calc resolution according to the configured
// mode. Document-order indexes are already in place from the builder, so
// the order mode needs no work.
func (l *Loader) applyIndexMode(ctx context.Context, t *SystemTopology, input string) error {
	switch l.Options.LogicalIndexes {
	case IndexCalc:
		return l.resolveWithCalc(ctx, t, input)
	case IndexOrder:
		return nil
	default:
		if _, err := l.runner().LookPath("hwloc-calc"); err != nil {
			zap.L().Debug("hwloc-calc not found, keeping document-order indexes")
			return nil
		}
		return l.resolveWithCalc(ctx, t, input)
	}
}
