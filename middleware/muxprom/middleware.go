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

package muxprom

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// reqLabels orders the label values the middleware attaches to every
// observation. Middleware builds its value slice in this same order.
var reqLabels = []string{"code", "method", "host", "target", "route"}

// Instrumentation is a mux middleware that measures every request
// served by the exporter's own HTTP endpoints.
type Instrumentation struct {
	reqTotal        *prometheus.CounterVec
	reqSizeBytes    *prometheus.SummaryVec
	reqDurationSecs *prometheus.HistogramVec
	resSizeBytes    *prometheus.SummaryVec
}

// NewDefaultInstrumentation registers the request metrics on the default
// prometheus registerer. The duration buckets span quick static pages up
// to scrapes that wait on a slow agent.
func NewDefaultInstrumentation() *Instrumentation {
	return NewInstrumentation(prometheus.DefaultRegisterer,
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30})
}

// NewInstrumentation builds the middleware and registers its collectors
// on reg.
func NewInstrumentation(reg prometheus.Registerer, durationBuckets []float64) *Instrumentation {
	i := &Instrumentation{
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topometrics",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "The total number of requests received",
		}, reqLabels),
		reqSizeBytes: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: "topometrics",
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "Summary of request bytes received",
		}, reqLabels),
		reqDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "topometrics",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of the request duration",
			Buckets:   durationBuckets,
		}, reqLabels),
		resSizeBytes: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: "topometrics",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Summary of response bytes sent",
		}, reqLabels),
	}

	reg.MustRegister(i.reqTotal, i.reqSizeBytes, i.reqDurationSecs, i.resSizeBytes)
	return i
}

// Middleware satisfies the mux middleware interface.
func (i *Instrumentation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := statusResponseWriter{ResponseWriter: w}

		next.ServeHTTP(&srw, r)

		labelVals := []string{
			strconv.Itoa(srw.Status()),
			r.Method,
			r.Host,
			r.URL.Query().Get("target"),
			r.URL.Path,
		}
		i.reqTotal.WithLabelValues(labelVals...).Inc()
		i.reqSizeBytes.WithLabelValues(labelVals...).Observe(float64(estimateRequestSize(r)))
		i.resSizeBytes.WithLabelValues(labelVals...).Observe(float64(srw.size))
		i.reqDurationSecs.WithLabelValues(labelVals...).Observe(time.Since(start).Seconds())
	})
}

// estimateRequestSize approximates the request length the way nginx
// logs it, request line plus headers plus body. The body is never read
// here, Content-Length stands in for it when the client sent one.
func estimateRequestSize(r *http.Request) int64 {
	var size int64

	// request line
	size += int64(len(r.Method))
	if r.URL != nil {
		size += int64(len(r.URL.Path))
	}
	size += int64(len(r.Proto)) + 4

	for key, vals := range r.Header {
		size += int64(len(key)) + 2
		for _, v := range vals {
			size += int64(len(v))
		}
	}

	if r.ContentLength != -1 {
		size += r.ContentLength
	}

	return size
}
