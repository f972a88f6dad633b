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

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/comcast/topometrics/common"
	"github.com/comcast/topometrics/config"
	"github.com/comcast/topometrics/exporter"
	"github.com/comcast/topometrics/middleware/logging"
	topo_vault "github.com/comcast/topometrics/vault"
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScrapeConfig holds configuration for scrape handlers
type ScrapeConfig struct {
	Vault *topo_vault.Vault
}

// ScrapeHandler handles GET /scrape requests
func ScrapeHandler(cfg *ScrapeConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := zap.L()
		trace := zap.Any("trace_id", ctx.Value(logging.TraceIDKey("traceID")))
		query := r.URL.Query()

		target := query.Get("target")
		if len(query["target"]) != 1 || target == "" {
			log.Error("'target' parameter not set correctly", zap.String("target", target), trace)
			http.Error(w, "'target' parameter not set correctly", http.StatusBadRequest)
			return
		}

		// which credential profile to use when retrieving this hosts
		// username and password
		credProf := query.Get("credential_profile")

		// comma separated list restricting the scrape to a subset of
		// metric groups
		var groups []exporter.Group
		collectStr := query.Get("collect")
		if collectStr != "" {
			parsed, err := exporter.ParseGroups(collectStr)
			if err != nil {
				log.Error("invalid collect parameter", zap.Error(err), zap.String("collect", collectStr), trace)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			groups = parsed
		}

		log.Info("started scrape",
			zap.String("target", target),
			zap.String("credential_profile", credProf),
			zap.String("collect", collectStr),
			trace)

		if cfg.Vault != nil {
			if err := primeCredentials(ctx, credProf, target); err != nil {
				log.Error("issue retrieving credentials from vault using target "+target, zap.Error(err), trace)
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		if proxyHost := query.Get("proxy_host"); proxyHost != "" {
			proxyURL, err := normalizeProxyHost(proxyHost)
			if err != nil {
				log.Error("invalid proxy_host parameter", zap.Error(err), zap.String("proxy_host", proxyHost), trace)
				http.Error(w, "invalid proxy_host parameter", http.StatusBadRequest)
				return
			}
			ctx = exporter.WithProxyURL(ctx, proxyURL)
		}

		exp, err := exporter.NewRemote(ctx, target, config.GetConfig().AgentPath, credProf, groups...)
		if err != nil {
			log.Error("failed to create topology exporter", zap.Error(err), trace)
			http.Error(w, fmt.Sprintf("failed to create topology exporter - %s", err.Error()), http.StatusInternalServerError)
			return
		}

		registry := prometheus.NewRegistry()
		registry.MustRegister(exp)

		// prometheus client serves the page, Collect runs the scrape
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	}
}

// primeCredentials makes sure the credential cache has an entry for
// target before the scrape begins.
func primeCredentials(ctx context.Context, profile, target string) error {
	if _, ok := common.AgentCreds.Get(target); ok {
		return nil
	}
	credential, err := common.AgentCreds.GetCredentials(ctx, profile, target)
	if err != nil {
		return err
	}
	common.AgentCreds.Set(target, credential)
	return nil
}

// normalizeProxyHost accepts either a bare host[:port] or a full URL.
func normalizeProxyHost(proxyHost string) (string, error) {
	if !strings.Contains(proxyHost, "://") {
		proxyHost = "http://" + proxyHost
	}
	if _, err := url.Parse(proxyHost); err != nil {
		return "", err
	}
	return proxyHost, nil
}
