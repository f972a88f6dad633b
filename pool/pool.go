/*
 * Copyright 2023 Comcast Cable Communications Management, LLC
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

import "sync"

// Pool fetches a batch of agent documents with a bound on how many
// fetches are in flight at once.
type Pool struct {
	Tasks []*Task

	slots chan struct{}
}

// NewPool wraps the given tasks. Concurrency below one is raised to
// one so Run can always make progress.
func NewPool(tasks []*Task, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		Tasks: tasks,
		slots: make(chan struct{}, concurrency),
	}
}

// AddTask queues another task. Not safe to call once Run has started.
func (p *Pool) AddTask(task *Task) {
	p.Tasks = append(p.Tasks, task)
}

// Run executes every queued task and blocks until the last one has
// finished. Each Task carries its own Body and Err afterwards.
func (p *Pool) Run() {
	var wg sync.WaitGroup
	wg.Add(len(p.Tasks))

	for _, task := range p.Tasks {
		p.slots <- struct{}{}
		go func(t *Task) {
			defer wg.Done()
			t.Body, t.Err = t.fetch()
			<-p.slots
		}(task)
	}

	wg.Wait()
}
