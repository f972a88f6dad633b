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

package logger

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/comcast/topometrics/config"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const vectorUserAgent = "topometrics-vector-http"

// vectorSink ships encoded log lines to a vector HTTP source.
type vectorSink struct {
	endpoint *url.URL
	client   *retryablehttp.Client
}

func newVectorSink(u *url.URL) vectorSink {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 2
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = time.Second
	client.CheckRetry = retryablehttp.ErrorPropagatedRetryPolicy
	client.HTTPClient.Timeout = 30 * time.Second
	client.HTTPClient.Transport = &http.Transport{
		Dial: (&net.Dialer{
			Timeout: 3 * time.Second,
		}).Dial,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.GetConfig().SSLVerify,
		},
	}

	// Writes happen on the logging path, retries cannot log through zap
	// without recursing into this sink.
	client.RequestLogHook = func(_ retryablehttp.Logger, r *http.Request, attempt int) {
		if attempt == 0 {
			return
		}
		fmt.Printf("vector delivery retry #%d for %s\n", attempt, r.URL)
	}

	return vectorSink{endpoint: u, client: client}
}

func initVectorSink(u *url.URL) (zap.Sink, error) {
	return newVectorSink(u), nil
}

// Write implements zap.Sink. One call delivers one batch of encoded
// log lines.
func (v vectorSink) Write(b []byte) (int, error) {
	req, err := retryablehttp.NewRequest(http.MethodPost, v.endpoint.String(), b)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", vectorUserAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("vector endpoint answered %s", resp.Status)
	}
	return len(b), nil
}

// Sync implements zap.Sink, delivery already happens per Write.
func (v vectorSink) Sync() error {
	return nil
}

// Close implements zap.Sink.
func (v vectorSink) Close() error {
	return nil
}
