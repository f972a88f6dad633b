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
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/comcast/topometrics/common"
	"github.com/comcast/topometrics/hwloc"
	"github.com/comcast/topometrics/middleware/logging"
	"github.com/comcast/topometrics/pool"

	"go.uber.org/zap"
)

// IndexMode selects how logical indexes are assigned to packages, cores
// and PUs.
type IndexMode string

const (
	// IndexAuto uses hwloc-calc when the binary is available and the
	// source permits it, document order otherwise.
	IndexAuto IndexMode = "auto"
	// IndexCalc always asks hwloc-calc.
	IndexCalc IndexMode = "calc"
	// IndexOrder ranks objects of each type in document order, which is
	// hwloc's own assignment rule.
	IndexOrder IndexMode = "order"
)

// indexBatch is one hwloc-calc invocation: every object of one type,
// queried in a single call.
type indexBatch struct {
	typ    hwloc.ObjectType
	hier   []string
	assign func(i, logical int)
}

func (t *SystemTopology) indexBatches() []indexBatch {
	var batches []indexBatch
	if len(t.Packages) > 0 {
		hier := make([]string, len(t.Packages))
		for i, p := range t.Packages {
			hier[i] = p.HierarchicalIndex
		}
		batches = append(batches, indexBatch{hwloc.TypePackage, hier, func(i, logical int) {
			t.Packages[i].LogicalIndex = logical
		}})
	}
	if cores := t.Cores(); len(cores) > 0 {
		hier := make([]string, len(cores))
		for i, c := range cores {
			hier[i] = c.HierarchicalIndex
		}
		batches = append(batches, indexBatch{hwloc.TypeCore, hier, func(i, logical int) {
			cores[i].LogicalIndex = logical
		}})
	}
	if pus := t.PUs(); len(pus) > 0 {
		hier := make([]string, len(pus))
		for i, pu := range pus {
			hier[i] = pu.HierarchicalIndex
		}
		batches = append(batches, indexBatch{hwloc.TypePU, hier, func(i, logical int) {
			pus[i].LogicalIndex = logical
		}})
	}
	return batches
}

// calcArgs builds the hwloc-calc argument list for one object type. The
// physical hierarchical indexes go in, logical indexes come out. When
// input is non-empty the query runs against that XML export instead of
// the live machine.
func calcArgs(typ hwloc.ObjectType, hier []string, input string) []string {
	var args []string
	if input != "" {
		args = append(args, "--input", input)
	}
	args = append(args, "-I", string(typ), "--physical-input", "--logical-output")
	return append(args, hier...)
}

func parseCalcOutput(out []byte, want int) ([]int, error) {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return nil, fmt.Errorf("hwloc-calc returned no indexes")
	}
	fields := strings.Split(trimmed, ",")
	if len(fields) != want {
		return nil, fmt.Errorf("hwloc-calc returned %d indexes, expected %d", len(fields), want)
	}
	indexes := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("hwloc-calc returned %q: %w", f, err)
		}
		indexes[i] = v
	}
	return indexes, nil
}

// resolveWithCalc replaces the document-order logical indexes with
// hwloc-calc answers, one invocation per object type, run concurrently
// through a worker pool.
func (l *Loader) resolveWithCalc(ctx context.Context, t *SystemTopology, input string) error {
	log := zap.L()
	batches := t.indexBatches()
	if len(batches) == 0 {
		return nil
	}
	tasks := make([]*pool.Task, 0, len(batches))
	for _, batch := range batches {
		batch := batch
		args := calcArgs(batch.typ, batch.hier, input)
		fetch := func() ([]byte, error) {
			return l.runner().Output(ctx, "hwloc-calc", args...)
		}
		handler := func(body []byte) error {
			indexes, err := parseCalcOutput(body, len(batch.hier))
			if err != nil {
				return fmt.Errorf("%s indexes: %w", batch.typ, err)
			}
			for i, logical := range indexes {
				batch.assign(i, logical)
			}
			return nil
		}
		tasks = append(tasks, pool.NewTask(fetch, []common.Handler{common.Handler(handler)}))
	}

	p := pool.NewPool(tasks, len(tasks))
	p.Run()

	for _, task := range tasks {
		if task.Err != nil {
			log.Error("hwloc-calc invocation failed",
				zap.Error(task.Err),
				zap.Any("trace_id", ctx.Value(logging.TraceIDKey("traceID"))))
			return task.Err
		}
		for _, handler := range task.Handlers {
			if err := handler(task.Body); err != nil {
				return err
			}
		}
	}
	return nil
}
