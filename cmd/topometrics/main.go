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

package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/comcast/topometrics/buildinfo"
	"github.com/comcast/topometrics/common"
	"github.com/comcast/topometrics/config"
	"github.com/comcast/topometrics/exporter"
	"github.com/comcast/topometrics/http/handlers"
	"github.com/comcast/topometrics/logger"
	"github.com/comcast/topometrics/middleware/logging"
	"github.com/comcast/topometrics/middleware/muxprom"
	"github.com/comcast/topometrics/topology"
	topo_vault "github.com/comcast/topometrics/vault"
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/alecthomas/kingpin.v2"
)

const app = "topometrics"

var (
	a                  = kingpin.New(app, "hardware topology exporter with all the bells and whistles")
	username           = a.Flag("user", "agent static username").Default("").Envar("AGENT_USERNAME").String()
	password           = a.Flag("password", "agent static password").Default("").Envar("AGENT_PASSWORD").String()
	agentTimeout       = a.Flag("timeout", "agent scrape timeout").Default("15s").Envar("AGENT_TIMEOUT").Duration()
	agentScheme        = a.Flag("scheme", "agent scheme to use").Default("http").Envar("AGENT_SCHEME").String()
	agentPort          = a.Flag("agent.port", "port remote agents listen on, applied to targets without an explicit port").Default("10023").Envar("AGENT_PORT").String()
	agentPath          = a.Flag("agent.path", "path remote agents serve their topology XML export on").Default("/topology/xml").Envar("AGENT_PATH").String()
	insecureSkipVerify = a.Flag("insecure-skip-verify", "Skip TLS verification").Default("false").Envar("INSECURE_SKIP_VERIFY").Bool()
	localCollector     = a.Flag("collector.local", "discover and export this machine's topology").Default("true").Envar("COLLECTOR_LOCAL").Bool()
	collectCaches      = a.Flag("collector.caches", "include cache objects in local discovery").Default("true").Envar("COLLECTOR_CACHES").Bool()
	collectIO          = a.Flag("collector.io", "include PCI and OS devices in local discovery").Default("true").Envar("COLLECTOR_IO").Bool()
	collectBridges     = a.Flag("collector.bridges", "include PCI bridges in local discovery").Default("true").Envar("COLLECTOR_BRIDGES").Bool()
	indexMode          = a.Flag("collector.index-mode", "how logical CPU indexes are assigned").PlaceHolder("[auto|calc|order]").Default("auto").Envar("COLLECTOR_INDEX_MODE").String()
	refreshInterval    = a.Flag("collector.refresh", "interval between local topology rediscoveries, 0 disables").Default("0s").Envar("COLLECTOR_REFRESH").Duration()
	discoveryTimeout   = a.Flag("collector.timeout", "local discovery tool timeout").Default("30s").Envar("COLLECTOR_TIMEOUT").Duration()
	logLevel           = a.Flag("log.level", "log level verbosity").PlaceHolder("[debug|info|warn|error]").Default("info").Envar("LOG_LEVEL").String()
	logMethod          = a.Flag("log.method", "extra log destination besides stdout").PlaceHolder("[file|vector]").Default("").Envar("LOG_METHOD").String()
	logFilePath        = a.Flag("log.file-path", "directory log files are written to when log.method is file").Default("/var/log/topometrics").Envar("LOG_FILE_PATH").String()
	logFileMaxSize     = a.Flag("log.file-max-size", "megabytes per log file before rotation").Default("256").Envar("LOG_FILE_MAX_SIZE").Int()
	logFileMaxBackups  = a.Flag("log.file-max-backups", "rotated log files to keep around").Default("1").Envar("LOG_FILE_MAX_BACKUPS").Int()
	logFileMaxAge      = a.Flag("log.file-max-age", "days a rotated log file is kept").Default("1").Envar("LOG_FILE_MAX_AGE").Int()
	vectorEndpoint     = a.Flag("vector.endpoint", "vector endpoint to send structured json logs to").Default("http://0.0.0.0:4444").Envar("VECTOR_ENDPOINT").String()
	exporterPort       = a.Flag("port", "exporter port").Default("10023").Envar("EXPORTER_PORT").String()
	vaultAddr          = a.Flag("vault.addr", "Vault instance address to get agent credentials from").Default("https://vault.com").Envar("VAULT_ADDRESS").String()
	vaultRoleId        = a.Flag("vault.role-id", "Vault Role ID for AppRole").Default("").Envar("VAULT_ROLE_ID").String()
	vaultSecretId      = a.Flag("vault.secret-id", "Vault Secret ID for AppRole").Default("").Envar("VAULT_SECRET_ID").String()
	_                  = common.CredentialProf(a.Flag("credentials.profiles",
		`profile(s) describing where agent credentials live in the secrets backend, i.e.
  --credentials.profiles="
    profiles:
      - name: topo-scraper
        mountPath: "kv2"
        path: "agents/shared-login"
        userField: "user"
        passwordField: "password"
      ...
  "
--credentials.profiles='{"profiles":[{"name":"topo-scraper","mountPath":"kv2","path":"agents/shared-login","userField":"user","passwordField":"password"},...]}'`))

	log *zap.Logger

	vault *topo_vault.Vault

	localMu   sync.RWMutex
	localTopo *topology.SystemTopology
	localXML  []byte
)

var wg = sync.WaitGroup{}

func main() {
	ctx := context.Background()
	doneRenew := make(chan bool, 1)
	tokenLifecycle := make(chan bool, 1)
	doneRefresh := make(chan bool, 1)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}

	a.HelpFlag.Short('h')

	_, err = a.Parse(os.Args[1:])
	if err != nil {
		panic(fmt.Errorf("error parsing argument flags - %s", err.Error()))
	}

	var idxMode topology.IndexMode
	switch topology.IndexMode(*indexMode) {
	case topology.IndexAuto, topology.IndexCalc, topology.IndexOrder:
		idxMode = topology.IndexMode(*indexMode)
	default:
		panic(fmt.Errorf("invalid --collector.index-mode %q, must be one of auto, calc, order", *indexMode))
	}

	if *logMethod == "file" {
		fd, err := os.Stat(*logFilePath)
		if err != nil {
			panic(err)
		}
		if !fd.IsDir() {
			panic(fmt.Errorf("%s is not a directory", *logFilePath))
		}
	}

	config.NewConfig(&config.Config{
		AgentScheme:  *agentScheme,
		AgentPort:    *agentPort,
		AgentPath:    *agentPath,
		AgentTimeout: *agentTimeout,
		SSLVerify:    *insecureSkipVerify,
		User:         *username,
		Pass:         *password,
	})

	err = logger.Initialize(app, hostname, logger.LoggerConfig{
		LogLevel:  *logLevel,
		LogMethod: *logMethod,
		LogFile: logger.LogFile{
			Path:       *logFilePath,
			MaxSize:    *logFileMaxSize,
			MaxBackups: *logFileMaxBackups,
			MaxAge:     *logFileMaxAge,
		},
		VectorEndpoint: *vectorEndpoint,
	})
	if err != nil {
		panic(fmt.Errorf("error initializing logger - log_method=%s vector_endpoint=%s log_file_path=%s - err=%s",
			*logMethod, *vectorEndpoint, *logFilePath, err.Error()))
	}

	log = zap.L()
	defer logger.Flush()

	if *logMethod != "" {
		fields := []zap.Field{zap.String("log_method", *logMethod)}
		if *logMethod == "vector" {
			fields = append(fields, zap.String("vector_endpoint", *vectorEndpoint))
		} else {
			fields = append(fields,
				zap.String("log_file_path", *logFilePath),
				zap.Int("log_file_max_size", *logFileMaxSize),
				zap.Int("log_file_max_backups", *logFileMaxBackups),
				zap.Int("log_file_max_age", *logFileMaxAge))
		}
		log.Info("successfully initialized logger", fields...)
	}

	// configure vault client if vaultRoleId & vaultSecretId are set
	if *vaultRoleId != "" && *vaultSecretId != "" {
		var err error
		vault, err = topo_vault.NewVaultAppRoleClient(
			ctx,
			topo_vault.Parameters{
				Address:         *vaultAddr,
				ApproleRoleID:   *vaultRoleId,
				ApproleSecretID: *vaultSecretId,
			},
		)
		if err != nil {
			log.Error("failed initializing vault client", zap.Error(err),
				zap.String("vault_address", *vaultAddr),
				zap.String("vault_role_id", *vaultRoleId))
		} else {
			// agents that reject a cached pair get fresh credentials
			// through this client
			common.AgentCreds.Vault = vault

			wg.Add(1)
			go vault.RenewToken(ctx, doneRenew, tokenLifecycle, &wg)
		}
	}

	// discover this machine's topology in the background so the http
	// endpoints come up right away
	if *localCollector {
		loader := topology.NewLoader(topology.LoadOptions{
			Caches:         *collectCaches,
			IO:             *collectIO,
			Bridges:        *collectBridges,
			LogicalIndexes: idxMode,
			Timeout:        *discoveryTimeout,
		})

		localExp := exporter.New(hostname, nil)
		prometheus.MustRegister(localExp)

		wg.Add(1)
		go func() {
			defer wg.Done()
			runLocalCollector(ctx, loader, localExp, *refreshInterval, doneRefresh)
		}()
	}

	srv := &http.Server{
		Addr:    ":" + *exporterPort,
		Handler: newRouter(hostname),
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	listener, err := net.Listen("tcp4", ":"+*exporterPort)
	if err != nil {
		log.Error("starting "+app+" service failed", zap.Error(err))
		signals <- syscall.SIGTERM
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
				log.Error("http server received an error", zap.Error(err))
				signals <- syscall.SIGTERM
			}
		}()

		log.Info("started " + app + " service")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s := <-signals
		log.Info("caught signal, stopping app", zap.String("signal", s.String()))
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("http server shutdown failed", zap.Error(err))
		}

		if vault != nil && vault.IsLoggedIn() {
			// the token watcher only runs after a successful login
			tokenLifecycle <- true
		}
		doneRenew <- true
		doneRefresh <- true
	}()

	wg.Wait()
}

// newRouter wires every endpoint the exporter serves and wraps the mux
// with request logging and prometheus instrumentation.
func newRouter(hostname string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		buildinfo.JSON(w)
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /scrape", handlers.ScrapeHandler(&handlers.ScrapeConfig{
		Vault: vault,
	}))

	mux.HandleFunc("GET /topology", func(w http.ResponseWriter, r *http.Request) {
		localMu.RLock()
		t := localTopo
		localMu.RUnlock()
		if t == nil {
			http.Error(w, "local topology not discovered", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(t)
	})

	mux.HandleFunc("GET /topology/tree", func(w http.ResponseWriter, r *http.Request) {
		localMu.RLock()
		t := localTopo
		localMu.RUnlock()
		if t == nil {
			http.Error(w, "local topology not discovered", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(t.String()))
	})

	mux.HandleFunc("GET /topology/xml", func(w http.ResponseWriter, r *http.Request) {
		// agents scrape each other through this endpoint, static
		// credentials gate it when they are configured
		if *username != "" || *password != "" {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(*username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(*password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="topometrics"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		localMu.RLock()
		raw := localXML
		localMu.RUnlock()
		if raw == nil {
			http.Error(w, "local topology not discovered", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write(raw)
	})

	tmplIndex := template.Must(template.New("index").Parse(indexTmpl))
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		err := tmplIndex.Execute(w, indexAppData{
			Hostname: hostname,
			Date:     buildinfo.Info.Date,
			Revision: buildinfo.Info.GitRevision,
			Version:  buildinfo.Info.GitVersion,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	tmplIgnored := template.Must(template.New("ignored").Parse(ignoredTmpl))
	mux.HandleFunc("GET /ignored", func(w http.ResponseWriter, r *http.Request) {
		err := tmplIgnored.Execute(w, common.IgnoredHosts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	mux.HandleFunc("POST /ignored/test-conn", common.TestConn)
	mux.HandleFunc("POST /ignored/remove", common.RemoveHost)

	mux.HandleFunc("GET /verbosity", logger.Verbosity)
	mux.HandleFunc("PUT /verbosity", logger.SetVerbosity)

	instrumentation := muxprom.NewDefaultInstrumentation()
	return logging.LoggingHandler(instrumentation.Middleware(mux))
}

// runLocalCollector performs the initial discovery pass and, when a refresh
// interval is set, keeps rediscovering until told to stop.
func runLocalCollector(ctx context.Context, loader *topology.Loader, exp *exporter.Exporter, interval time.Duration, done chan bool) {
	discover := func() {
		t, raw, err := loader.Snapshot(ctx)
		if err != nil {
			if errors.Is(err, topology.ErrToolMissing) {
				log.Error("local topology discovery failed, hwloc tools are not installed", zap.Error(err))
			} else {
				log.Error("local topology discovery failed", zap.Error(err))
			}
			return
		}

		exp.SetTopology(t)

		localMu.Lock()
		localTopo = t
		localXML = raw
		localMu.Unlock()

		log.Info("discovered local topology",
			zap.Int("packages", t.NumPackages()),
			zap.Int("cores", t.NumCores()),
			zap.Int("pus", t.NumPUs()))
	}

	discover()

	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			discover()
		case <-done:
			return
		}
	}
}
