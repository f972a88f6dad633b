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

package pool

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/comcast/topometrics/common"

	"github.com/stretchr/testify/assert"
)

func Test_Pool_Run(t *testing.T) {

	assert := assert.New(t)

	var handled int32
	handler := common.Handler(func(body []byte) error {
		atomic.AddInt32(&handled, 1)
		return nil
	})

	var tasks []*Task
	for i := 0; i < 8; i++ {
		i := i
		tasks = append(tasks, NewTask(func() ([]byte, error) {
			return []byte(fmt.Sprintf("answer-%d", i)), nil
		}, []common.Handler{handler}))
	}
	failing := NewTask(func() ([]byte, error) {
		return nil, errors.New("tool exploded")
	}, nil)

	p := NewPool(tasks, 3)
	p.AddTask(failing)
	p.Run()

	for i, task := range tasks {
		assert.Nil(task.Err)
		assert.Equal(fmt.Sprintf("answer-%d", i), string(task.Body))
	}
	assert.EqualError(failing.Err, "tool exploded")
	assert.Empty(failing.Body)

	// The pool only collects results, handlers stay with each task for
	// the caller to run once the pool drains.
	assert.Equal(int32(0), atomic.LoadInt32(&handled))
	for _, task := range tasks {
		for _, h := range task.Handlers {
			assert.Nil(h(task.Body))
		}
	}
	assert.Equal(int32(8), atomic.LoadInt32(&handled))
}

func Test_Pool_SingleWorker(t *testing.T) {

	assert := assert.New(t)

	var running, maxRunning int32
	var tasks []*Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, NewTask(func() ([]byte, error) {
			n := atomic.AddInt32(&running, 1)
			if n > atomic.LoadInt32(&maxRunning) {
				atomic.StoreInt32(&maxRunning, n)
			}
			defer atomic.AddInt32(&running, -1)
			return []byte("ok"), nil
		}, nil))
	}

	NewPool(tasks, 1).Run()

	assert.Equal(int32(1), atomic.LoadInt32(&maxRunning))
	for _, task := range tasks {
		assert.Nil(task.Err)
		assert.Equal("ok", string(task.Body))
	}
}
