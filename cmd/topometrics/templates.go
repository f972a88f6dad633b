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

package main

type indexAppData struct {
	Hostname string
	Date     string
	Revision string
	Version  string
}

const indexTmpl string = `<!DOCTYPE html>
<html>
  <head>
    <title>Topometrics Exporter</title>
    <style>
      body { font-family: sans-serif; margin: 2em; }
      .build-info span { margin-right: 2em; }
      .links a { margin-right: 1.5em; font-size: 1.1em; }
      form { margin-top: 1.5em; }
      form label { display: inline-block; width: 10em; margin: 0.4em 0; }
    </style>
  </head>
  <body>
    <h1>Topometrics Exporter</h1>
    <div class="build-info">
      <span><b>host:</b> {{ .Hostname }}</span>
      <span><b>build date:</b> {{ .Date }}</span>
      <span><b>revision:</b> {{ .Revision }}</span>
      <span><b>version:</b> {{ .Version }}</span>
    </div>
    <p class="links">
      <a href="ignored">Ignored Hosts</a>
      <a href="metrics">Metrics</a>
      <a href="topology/tree">Local Topology</a>
    </p>
    <form action="scrape">
      <label>Target:</label><input type="text" name="target" placeholder="ip or fqdn"><br>
      <label>Credential Profile:</label><input type="text" name="credential_profile" placeholder="optional"><br>
      <label>Collect:</label><input type="text" name="collect" placeholder="i.e. machine,caches,pci"><br>
      <input type="submit" value="Submit">
    </form>
  </body>
</html>
`

const ignoredTmpl string = `<!DOCTYPE html>
<html>
<head>
  <title>Topometrics Exporter</title>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <meta http-equiv="refresh" content="60">
  <style>
    body { font-family: sans-serif; margin: 2em; }
    li { margin: 0.5em 0; }
    button { margin-left: 0.5em; }
    .error-text { color: red; font-style: oblique; margin-left: 0.5em; }
    .spinner {
      display: inline-block; width: 1rem; height: 1rem; margin-left: 0.5em;
      border: 2px solid #ccc; border-top-color: #333; border-radius: 50%;
      animation: spin 0.8s linear infinite;
    }
    @keyframes spin { to { transform: rotate(360deg); } }
  </style>
</head>
<body>
  <h1>Ignored Hosts</h1>
  <h3><a href="../">Home</a></h3>
  <ul>
    {{range .}}
    <li>{{ .Name }}
      <button type="button" onclick="testConn('{{ .Name }}')">Test</button>
      <button type="button" onclick="removeHost('{{ .Name }}')">Remove</button>
      <span id="{{ .Name }}-result" hidden></span>
      <span id="{{ .Name }}-spinner" class="spinner" hidden></span>
      <span id="{{ .Name }}-error" class="error-text" hidden></span>
    </li>
    {{end}}
  </ul>
<script>
  function post(path, host) {
    return fetch(path, {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify({host: host}),
    });
  }

  function showError(host, message) {
    const errorText = document.getElementById(host + "-error");
    errorText.hidden = false;
    errorText.innerHTML = message;
  }

  function testConn(host) {
    const icon = document.getElementById(host + "-result");
    const spinner = document.getElementById(host + "-spinner");
    spinner.hidden = false;

    post("ignored/test-conn", host)
      .then((res) => res.json())
      .then((resp) => {
        spinner.hidden = true;
        icon.hidden = false;
        if (resp.connectionTest === true) {
          icon.innerHTML = "&#9989;"; // green check
        } else {
          icon.innerHTML = "&#10060;"; // red X
          showError(host, resp.error);
        }
      })
      .catch(() => {
        spinner.hidden = true;
        icon.hidden = false;
        icon.innerHTML = "&#10060;"; // red X
        showError(host, "request failed");
      });
  }

  function removeHost(host) {
    post("ignored/remove", host)
      .then((res) => {
        if (res.ok) {
          location.reload();
          return;
        }
        return res.json().then((resp) => showError(host, resp.error));
      })
      .catch(() => showError(host, "request failed"));
  }
</script>
</body>
</html>
`
