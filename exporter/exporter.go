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

package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/comcast/topometrics/common"
	"github.com/comcast/topometrics/config"
	"github.com/comcast/topometrics/middleware/logging"
	"github.com/comcast/topometrics/pool"
	"github.com/comcast/topometrics/topology"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	// OK is the float representation of a healthy scrape
	OK = 1.0
	// BAD is the float representation of a failed scrape
	BAD = 0.0
)

// Group selects one family of topology metrics for export.
type Group string

const (
	GroupMachine  Group = "machine"
	GroupPackages Group = "packages"
	GroupNUMA     Group = "numa"
	GroupCaches   Group = "caches"
	GroupPUs      Group = "pus"
	GroupKinds    Group = "kinds"
	GroupPCI      Group = "pci"
)

// ValidGroups contains all metric groups a scrape can ask for
var ValidGroups = map[Group]bool{
	GroupMachine:  true,
	GroupPackages: true,
	GroupNUMA:     true,
	GroupCaches:   true,
	GroupPUs:      true,
	GroupKinds:    true,
	GroupPCI:      true,
}

var AllGroups = []Group{
	GroupMachine, GroupPackages, GroupNUMA, GroupCaches, GroupPUs, GroupKinds, GroupPCI,
}

var (
	log *zap.Logger
)

// ParseGroups parses a comma-separated list of metric groups and validates
// them. Unknown names are silently ignored.
func ParseGroups(groupsStr string) ([]Group, error) {
	if groupsStr == "" {
		return nil, errors.New("collect parameter is empty")
	}

	parts := strings.Split(groupsStr, ",")
	groups := make([]Group, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(strings.ToLower(part))
		if trimmed == "" {
			continue
		}

		group := Group(trimmed)
		if ValidGroups[group] {
			groups = append(groups, group)
		}
	}

	if len(groups) == 0 {
		return nil, fmt.Errorf("no valid metric groups specified. Valid groups are: machine, packages, numa, caches, pus, kinds, pci")
	}

	return groups, nil
}

func wantGroup(groups []Group, g Group) bool {
	if len(groups) == 0 {
		return true
	}
	for _, have := range groups {
		if have == g {
			return true
		}
	}
	return false
}

// Exporter turns a machine topology into prometheus metrics. It either
// wraps an already-built local model or fetches the XML export from a
// remote agent on every collect.
type Exporter struct {
	ctx             context.Context
	mutex           sync.RWMutex
	pool            *pool.Pool
	host            string
	target          string
	credProfile     string
	groups          []Group
	topo            *topology.SystemTopology
	topologyMetrics *map[string]*metrics
}

// New returns an Exporter over an already-built topology model, used for
// the local machine's collector. An empty groups list exports everything.
func New(target string, topo *topology.SystemTopology, groups ...Group) *Exporter {
	return &Exporter{
		target:          target,
		topo:            topo,
		groups:          groups,
		topologyMetrics: NewTopologyMetrics(),
	}
}

// SetTopology swaps in a freshly discovered model. The refresh loop calls
// this between collects.
func (e *Exporter) SetTopology(t *topology.SystemTopology) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.topo = t
}

// NewRemote returns an initialized Exporter for a remote topometrics agent.
func NewRemote(ctx context.Context, target, uri, profile string, groups ...Group) (*Exporter, error) {
	exp := Exporter{
		ctx:             ctx,
		credProfile:     profile,
		target:          target,
		groups:          groups,
		topologyMetrics: NewTopologyMetrics(),
	}

	log = zap.L()

	retryClient := NewHTTPClient(ctx)
	retryClient.RequestLogHook = func(l retryablehttp.Logger, r *http.Request, attempt int) {
		if attempt > 0 {
			log.Error("api call "+r.URL.String()+" failed, retry #"+strconv.Itoa(attempt), zap.Any("trace_id", ctx.Value(logging.TraceIDKey("traceID"))))
		}
	}

	base := agentBaseURL(target)
	exp.host = base.String()

	// an ignored host is reported as such without ever being contacted
	if _, ok := common.IgnoredHosts[exp.host]; ok {
		var upMetric = (*exp.topologyMetrics)["up"]
		(*upMetric)["up"].WithLabelValues(exp.target).Set(float64(2))
		return &exp, nil
	}

	task := pool.NewTask(common.Fetch(base.String()+uri, target, profile, retryClient), handle(&exp, groups...))
	exp.pool = pool.NewPool([]*pool.Task{task}, 1)

	return &exp, nil
}

// agentBaseURL normalizes a scrape target into the agent's base URL. Bare
// hostnames pick up the configured agent scheme and port.
func agentBaseURL(target string) *url.URL {
	base, err := url.ParseRequestURI(target)
	if err != nil || base.Host == "" {
		base = &url.URL{
			Scheme: config.GetConfig().AgentScheme,
			Host:   target,
		}
	}
	if base.Port() == "" && config.GetConfig().AgentPort != "" {
		base.Host = net.JoinHostPort(base.Hostname(), config.GetConfig().AgentPort)
	}
	return base
}

// handle maps metric groups onto the handler that decodes the topology
// payload and exports them.
func handle(exp *Exporter, groups ...Group) []common.Handler {
	return []common.Handler{
		func(body []byte) error {
			return exp.exportTopology(body, groups)
		},
	}
}

// eachMetric visits every gauge vector across all metric families.
func (e *Exporter) eachMetric(visit func(*prometheus.GaugeVec)) {
	for _, family := range *e.topologyMetrics {
		for _, vec := range *family {
			visit(vec)
		}
	}
}

// Describe describes all the metrics ever exported by the topometrics
// exporter. It implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	e.eachMetric(func(vec *prometheus.GaugeVec) {
		vec.Describe(ch)
	})
}

// Collect renders the topology into metrics and delivers them as
// Prometheus metrics. It implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mutex.Lock() // To protect metrics from concurrent collects.
	defer e.mutex.Unlock()

	e.eachMetric(func(vec *prometheus.GaugeVec) {
		vec.Reset()
	})

	start := time.Now()

	// perform scrape if target is not on ignored list
	if _, ok := common.IgnoredHosts[e.host]; !ok {
		e.scrape()
	} else {
		var upMetric = (*e.topologyMetrics)["up"]
		(*upMetric)["up"].WithLabelValues(e.target).Set(float64(2))
	}

	var upMetric = (*e.topologyMetrics)["up"]
	(*upMetric)["scrapeDuration"].WithLabelValues(e.target).Set(time.Since(start).Seconds())

	e.eachMetric(func(vec *prometheus.GaugeVec) {
		vec.Collect(ch)
	})
}

func (e *Exporter) scrape() {
	var upMetric = (*e.topologyMetrics)["up"]

	// local mode carries a pre-built model and no fetch pool
	if e.pool == nil {
		if e.topo == nil {
			(*upMetric)["up"].WithLabelValues(e.target).Set(BAD)
			return
		}
		e.export(e.topo, e.groups)
		(*upMetric)["up"].WithLabelValues(e.target).Set(OK)
		return
	}

	trace := zap.Any("trace_id", e.ctx.Value(logging.TraceIDKey("traceID")))

	e.pool.Run()

	state := OK
	for _, task := range e.pool.Tasks {
		if task.Err != nil {
			state = BAD
			// A credential failure sidelines the host until an operator
			// clears it from the ignored list.
			if errors.Is(task.Err, common.ErrInvalidCredential) {
				common.IgnoredHosts[e.host] = common.IgnoredHost{
					Name:              e.host,
					Endpoint:          e.host + config.GetConfig().AgentPath,
					CredentialProfile: e.credProfile,
				}
				log.Info("added host "+e.host+" to ignored list", trace)
				state = 2
			}
			log.Error("error fetching topology from agent", zap.Error(task.Err), trace)
			continue
		}

		for _, handler := range task.Handlers {
			if err := handler(task.Body); err != nil {
				log.Error("error exporting topology metrics", zap.Error(err), trace)
				state = BAD
			}
		}
	}

	(*upMetric)["up"].WithLabelValues(e.target).Set(state)
}
