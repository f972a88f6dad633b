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

import "github.com/comcast/topometrics/common"

// Task is one document fetch plus the handlers that will consume its
// payload. The pool only runs the fetch; handlers stay attached for
// the caller to invoke once the pool drains.
type Task struct {
	// Err is meaningful once the owning pool's Run has returned.
	Err error

	Body     []byte
	Handlers []common.Handler

	fetch func() ([]byte, error)
}

// NewTask pairs a fetch function with the handlers for its result.
func NewTask(fetch func() ([]byte, error), handlers []common.Handler) *Task {
	return &Task{
		Handlers: handlers,
		fetch:    fetch,
	}
}
