// Package main starts a NanoTenant orchestration tenant.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/micromdm/nanotenant/coordinator"
	"github.com/micromdm/nanotenant/engine"
	enginehttp "github.com/micromdm/nanotenant/engine/http"
	httptenant "github.com/micromdm/nanotenant/http"
	"github.com/micromdm/nanotenant/logkeys"
	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/tenant"
	"github.com/micromdm/nanotenant/utils/uuid"
	"github.com/micromdm/nanotenant/workflow"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/envflag"
	nanohttp "github.com/micromdm/nanolib/http"
	"github.com/micromdm/nanolib/http/trace"
	"github.com/micromdm/nanolib/log/stdlogfmt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// overridden by -ldflags -X
var version = "unknown"

const (
	apiUsername = "nanotenant"
	apiRealm    = "nanotenant"
)

func main() {
	var (
		flDebug    = flag.Bool("debug", false, "log debug messages")
		flVersion  = flag.Bool("version", false, "print version and exit")
		flURL      = flag.String("url", "", "base URL of the coordination service")
		flUsername = flag.String("username", "", "coordination service username")
		flPassword = flag.String("password", "", "coordination service password")
		flTenant   = flag.String("tenant-uuid", "", "UUID of this tenant")
		flPipeline = flag.String("pipeline", "", "path to pipeline YAML (default embedded pipeline)")
		flStorage  = flag.String("storage", "file", "name of storage backend")
		flDSN      = flag.String("storage-dsn", "", "data source name (e.g. connection string or path)")
		flInterval = flag.Uint("interval", uint(engine.DefaultInterval/time.Second), "interval for the loop in seconds")
		flPace     = flag.Uint("pace", 0, "minimum spacing between request submissions in milliseconds")
		flEnd      = flag.String("end", "", "stop the loop at this RFC 3339 time or after this duration")
		flRetries  = flag.Int("retries", 3, "retries of transient coordination service failures")
		flListen   = flag.String("listen", ":9004", "HTTP listen address (empty disables)")
		flAPIKey   = flag.String("api", "", "API key for admin API endpoints")
		flDump     = flag.Bool("dump", false, "dump coordination service traffic")
		flExport   = flag.String("export-tenant", "", "write tenant registration document to path and exit")
	)
	envflag.Parse("NANOTENANT_", []string{"version"})

	if *flVersion {
		fmt.Println(version)
		return
	}

	logger := stdlogfmt.New(stdlogfmt.WithDebugFlag(*flDebug))

	p, err := loadPipeline(*flPipeline)
	if err != nil {
		logger.Info(logkeys.Message, "loading pipeline", logkeys.Error, err)
		os.Exit(1)
	}

	if *flExport != "" {
		if err = exportTenant(p, *flExport); err != nil {
			logger.Info(logkeys.Message, "exporting tenant", logkeys.Error, err)
			os.Exit(1)
		}
		logger.Info(logkeys.Message, "exported tenant", "path", *flExport)
		return
	}

	if *flURL == "" || *flUsername == "" || *flPassword == "" {
		logger.Info(logkeys.Error, "coordination service URL, username, and password required")
		os.Exit(1)
	}
	if !uuid.Valid(*flTenant) {
		logger.Info(logkeys.Error, "valid tenant UUID required", "tenant_uuid", *flTenant)
		os.Exit(1)
	}

	end, err := parseEnd(*flEnd, time.Now())
	if err != nil {
		logger.Info(logkeys.Message, "parsing end", logkeys.Error, err)
		os.Exit(1)
	}

	// configure storage
	storage, err := parseStorage(*flStorage, *flDSN)
	if err != nil {
		logger.Info(logkeys.Message, "parse storage", logkeys.Error, err)
		os.Exit(1)
	}

	// configure the coordination service client
	cOpts := []coordinator.Option{
		coordinator.WithLogger(logger.With("service", "coordinator")),
		coordinator.WithPacing(time.Millisecond * time.Duration(*flPace)),
	}
	if *flRetries > 0 {
		cOpts = append(cOpts, coordinator.WithRetry(coordinator.NewBackoff(*flRetries, time.Second, time.Second*30)))
	}
	if *flDump {
		cOpts = append(cOpts, coordinator.WithHTTPClient(&http.Client{
			Timeout:   coordinator.DefaultTimeout,
			Transport: httptenant.NewDumpTransport(nil, os.Stdout),
		}))
	}
	client, err := coordinator.New(*flURL, *flUsername, *flPassword, cOpts...)
	if err != nil {
		logger.Info(logkeys.Message, "creating coordinator client", logkeys.Error, err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// configure the orchestration engine
	eOpts := []engine.Option{
		engine.WithLogger(logger.With("service", "engine")),
		engine.WithMetrics(engine.NewMetrics(registry)),
		engine.WithTenantUUID(*flTenant),
		engine.WithEnd(end),
	}
	if *flInterval > 0 {
		eOpts = append(eOpts, engine.WithInterval(time.Second*time.Duration(*flInterval)))
	}
	e, err := engine.New(p, client, storage, eOpts...)
	if err != nil {
		logger.Info(logkeys.Message, "creating engine", logkeys.Error, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = e.Load(ctx); err != nil {
		logger.Info(logkeys.Message, "loading checkpoint", logkeys.Error, err)
		os.Exit(1)
	}

	var srv *http.Server
	if *flListen != "" {
		mux := flow.New()

		mux.Handle("/version", nanohttp.NewJSONVersionHandler(version))
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), "GET")

		mux.Group(func(mux *flow.Mux) {
			if *flAPIKey != "" {
				mux.Use(func(h http.Handler) http.Handler {
					return nanohttp.NewSimpleBasicAuthHandler(h, apiUsername, *flAPIKey, apiRealm)
				})
			}

			enginehttp.HandleAPIv1("/v1", mux, logger, storage, e.Capabilities())
		})

		srv = &http.Server{
			Addr:    *flListen,
			Handler: trace.NewTraceLoggingHandler(mux, logger.With("handler", "log"), newTraceID),
		}
		go func() {
			logger.Info(logkeys.Message, "starting server", "listen", *flListen)
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Info(logkeys.Message, "server shutdown", logkeys.Error, err)
				stop()
			}
		}()
	}

	err = e.Run(ctx)
	logs := []interface{}{logkeys.Message, "engine stopped"}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Info(append(logs, logkeys.Error, err)...)
	} else {
		logger.Info(logs...)
		err = nil
	}

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		if serr := srv.Shutdown(sctx); serr != nil {
			logger.Info(logkeys.Message, "server shutdown", logkeys.Error, serr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func loadPipeline(path string) (*workflow.Pipeline, error) {
	if path == "" {
		return workflow.DefaultPipeline()
	}
	return workflow.LoadPipeline(path)
}

// exportTenant writes the registration document of the pipeline tenant to path.
func exportTenant(p *workflow.Pipeline, path string) error {
	caps, err := tenant.New(p.Tenant)
	if err != nil {
		return err
	}
	raw, err := payload.MarshalIndent(caps.RegistrationDocument())
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0644)
}

// parseEnd parses s as either an RFC 3339 time or a duration from now.
// An empty s never ends.
func parseEnd(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return t, fmt.Errorf("invalid end %q: not a duration or RFC 3339 time", s)
	}
	return t, nil
}

// newTraceID generates a new HTTP trace ID for context logging.
func newTraceID(_ *http.Request) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
