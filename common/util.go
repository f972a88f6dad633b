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
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/comcast/topometrics/config"

	"github.com/hashicorp/go-retryablehttp"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
)

// Handler consumes one fetched document payload.
type Handler func([]byte) error

// Fetch returns a closure that retrieves uri and hands back the raw
// body. Agents answer 404 while their first discovery pass is still
// running, and 401 once a vault managed credential has rotated
// underneath us; both get a bounded retry.
func Fetch(uri, host, profile string, client *retryablehttp.Client) func() ([]byte, error) {
	return func() ([]byte, error) {
		req, err := BuildRequest(uri, host)
		if err != nil {
			return nil, err
		}
		resp, err := DoRequest(client, req)
		if err != nil {
			return nil, err
		}

		switch {
		case is2xx(resp.StatusCode):
		case resp.StatusCode == http.StatusNotFound:
			if resp, err = awaitFirstDiscovery(client, req, resp); err != nil {
				return nil, err
			}
		case resp.StatusCode == http.StatusUnauthorized:
			if resp, err = retryWithFreshCredential(uri, host, profile, client, resp); err != nil {
				return nil, err
			}
		default:
			status := resp.StatusCode
			EmptyAndCloseBody(resp)
			return nil, fmt.Errorf("HTTP status %d", status)
		}

		defer EmptyAndCloseBody(resp)
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("error reading Response Body - %v", err)
		}
		return body, nil
	}
}

// awaitFirstDiscovery polls an agent that is still running its first
// discovery pass. It consumes resp and every intermediate response.
func awaitFirstDiscovery(client *retryablehttp.Client, req *retryablehttp.Request, resp *http.Response) (*http.Response, error) {
	for attempt := 0; attempt < 3; attempt++ {
		if resp.StatusCode != http.StatusNotFound {
			break
		}
		EmptyAndCloseBody(resp)
		time.Sleep(client.RetryWaitMin)

		var err error
		resp, err = DoRequest(client, req)
		if err != nil {
			return nil, err
		}
	}

	if !is2xx(resp.StatusCode) {
		status := resp.StatusCode
		EmptyAndCloseBody(resp)
		return nil, fmt.Errorf("HTTP status %d", status)
	}
	return resp, nil
}

// retryWithFreshCredential replays a request once after pulling the
// latest credential pair for host from vault.
func retryWithFreshCredential(uri, host, profile string, client *retryablehttp.Client, resp *http.Response) (*http.Response, error) {
	EmptyAndCloseBody(resp)

	if AgentCreds.Vault == nil {
		return nil, ErrInvalidCredential
	}

	// The cached pair is stale once the agent answers 401.
	AgentCreds.Clear(host)
	credential, err := AgentCreds.GetCredentials(context.Background(), profile, host)
	if err != nil {
		return nil, fmt.Errorf("issue retrieving credentials from vault using target: %s", host)
	}
	AgentCreds.Set(host, credential)

	req, err := BuildRequest(uri, host)
	if err != nil {
		return nil, err
	}

	time.Sleep(client.RetryWaitMin)
	resp, err = DoRequest(client, req)
	if err != nil {
		return nil, fmt.Errorf("retry DoRequest failed - %v", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		EmptyAndCloseBody(resp)
		return nil, ErrInvalidCredential
	}
	return resp, nil
}

func is2xx(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

// EmptyAndCloseBody drains the response so the transport can reuse
// the connection.
func EmptyAndCloseBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// BuildRequest attaches the cached credential pair for host, falling
// back to the statically configured one.
func BuildRequest(uri, host string) (*retryablehttp.Request, error) {
	conf := config.GetConfig()
	user, password := conf.User, conf.Pass
	if c, ok := AgentCreds.Get(host); ok {
		user, password = c.User, c.Pass
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build retryable request - %v", err)
	}
	req.SetBasicAuth(user, password)
	req.Header.Add("Accept", "application/xml")

	return req, nil
}

// DoRequest executes req on the shared retryable client.
func DoRequest(client *retryablehttp.Client, req *retryablehttp.Request) (*http.Response, error) {
	return client.Do(req)
}
