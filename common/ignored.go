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

package common

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/comcast/topometrics/config"
	"go.uber.org/zap"
)

// IgnoredHosts tracks agents pulled from scrape rotation after
// credential failures, keyed by hostname.
var IgnoredHosts = make(map[string]IgnoredHost)

type IgnoredHost struct {
	Name              string
	Endpoint          string
	CredentialProfile string
}

type hostRequest struct {
	Host string `json:"host"`
}

type connResult struct {
	OK    bool   `json:"connectionTest"`
	Error string `json:"error,omitempty"`
}

func decodeHostRequest(r *http.Request) (hostRequest, error) {
	var hr hostRequest
	err := json.NewDecoder(r.Body).Decode(&hr)
	return hr, err
}

// TestConn probes an ignored agent with freshly fetched credentials to
// check whether it can rejoin the scrape rotation.
func TestConn(w http.ResponseWriter, r *http.Request) {
	log := zap.L()

	write := func(status int, result connResult) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(result)
	}

	hr, err := decodeHostRequest(r)
	if err != nil {
		log.Error("failed to decode host request body", zap.Error(err), zap.String("path", r.URL.Path))
		write(http.StatusInternalServerError, connResult{Error: err.Error()})
		return
	}

	entry, ok := IgnoredHosts[hr.Host]
	if !ok {
		log.Error("missing host from ignored hosts list", zap.String("target", hr.Host), zap.String("path", r.URL.Path))
		write(http.StatusInternalServerError, connResult{Error: "missing host from ignored hosts list"})
		return
	}

	credential, err := AgentCreds.GetCredentials(context.Background(), entry.CredentialProfile, hr.Host)
	if err != nil {
		log.Error("credential lookup failed for connection test", zap.Error(err), zap.String("target", hr.Host))
		write(http.StatusInternalServerError, connResult{Error: err.Error()})
		return
	}

	req, err := http.NewRequest(http.MethodGet, entry.Endpoint, nil)
	if err != nil {
		log.Error("failed to build connection test request", zap.Error(err), zap.String("target", hr.Host))
		write(http.StatusInternalServerError, connResult{Error: err.Error()})
		return
	}
	req.SetBasicAuth(credential.User, credential.Pass)

	res, err := connTestClient().Do(req)
	if err != nil {
		log.Error("connection test request failed", zap.Error(err), zap.String("target", hr.Host))
		write(http.StatusInternalServerError, connResult{Error: err.Error()})
		return
	}
	EmptyAndCloseBody(res)

	if res.StatusCode == http.StatusUnauthorized {
		write(http.StatusOK, connResult{Error: res.Status})
		return
	}
	write(http.StatusOK, connResult{OK: true})
}

// RemoveHost deletes an agent from the ignored list so the next scrape
// attempts it again.
func RemoveHost(w http.ResponseWriter, r *http.Request) {
	log := zap.L()

	hr, err := decodeHostRequest(r)
	if err != nil {
		log.Error("failed to decode host request body", zap.Error(err), zap.String("path", r.URL.Path))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	delete(IgnoredHosts, hr.Host)
	log.Info("removed host from ignored list", zap.String("target", hr.Host))
	w.WriteHeader(http.StatusOK)
}

func connTestClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			Dial: (&net.Dialer{
				Timeout: 3 * time.Second,
			}).Dial,
			MaxIdleConns:          1,
			MaxConnsPerHost:       1,
			MaxIdleConnsPerHost:   1,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: config.GetConfig().SSLVerify,
			},
		},
	}
}
