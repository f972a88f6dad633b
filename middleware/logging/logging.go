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

package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/nrednav/cuid2"
	"go.uber.org/zap"
)

// TraceIDKey is the context key type for the per request trace id.
type TraceIDKey string

// generate produces the collision resistant ids attached to each
// request context under TraceIDKey("traceID").
var generate, _ = cuid2.Init(
	cuid2.WithLength(32),
)

// LoggingHandler wraps h so every request carries a generated trace id
// in its context and emits one access log entry when it completes. The
// entry is written from a defer, so a panicking handler is still logged
// with whatever status made it onto the wire.
func LoggingHandler(h http.Handler) http.Handler {
	if h == nil {
		h = http.DefaultServeMux
	}

	log := zap.L()

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ctx := context.WithValue(req.Context(), TraceIDKey("traceID"), generate())
		req = req.WithContext(ctx)
		srw := statusResponseWriter{ResponseWriter: w}

		defer func() {
			query := req.URL.Query()
			log.Info("handled request",
				zap.String("target", query.Get("target")),
				zap.String("collect", query.Get("collect")),
				zap.String("source_addr", req.RemoteAddr),
				zap.String("method", req.Method),
				zap.String("url", req.URL.String()),
				zap.String("proto", req.Proto),
				zap.Int("status", srw.Status()),
				zap.Int("bytes", srw.size),
				zap.Float64("elapsed_time_sec", time.Since(start).Seconds()),
				zap.Any("trace_id", ctx.Value(TraceIDKey("traceID"))),
			)
		}()

		h.ServeHTTP(&srw, req)
	})
}
