// Command guard-demo serves a small facility directory behind the call
// guard, over net/http or hertz.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/goliatone/go-call-guard/config"
	"github.com/goliatone/go-call-guard/guard"
	"github.com/goliatone/go-call-guard/pkg/di"
	"github.com/goliatone/go-call-guard/stats"
	"github.com/goliatone/go-call-guard/transport/hertzguard"
	"github.com/goliatone/go-call-guard/transport/httpguard"
)

type facility struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

var directory = map[int]facility{
	1: {ID: 1, Name: "Alpha Care", City: "Oslo"},
	2: {ID: 2, Name: "Beta Clinic", City: "Bergen"},
	3: {ID: 3, Name: "Gamma Home", City: "Oslo"},
}

// findFacility simulates a slow lookup so single-flight is observable.
func findFacility(ctx context.Context, id int) (*facility, error) {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f, ok := directory[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func searchFacilities(city string) []facility {
	out := []facility{}
	for id := 1; id <= len(directory); id++ {
		if f := directory[id]; city == "" || f.City == city {
			out = append(out, f)
		}
	}
	return out
}

func demoConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	perUser := true
	cfg := config.Default()
	cfg.Operations = map[string]config.OperationConfig{
		"facility.search": {Throttle: &config.ThrottleConfig{Requests: 5, WindowSeconds: 10, PerUser: &perUser}},
		"facility.get":    {Cache: &config.CachePolicyConfig{TTLSeconds: 30, Namespace: "careFacility"}},
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	addr := flag.String("addr", ":8080", "listen address")
	transport := flag.String("transport", "http", "http or hertz")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, *addr, *transport, logger); err != nil {
		logger.Error("guard-demo failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, addr, transport string, logger *slog.Logger) error {
	cfg, err := demoConfig(configPath)
	if err != nil {
		return err
	}

	c, err := di.NewContainer(cfg, di.WithLogger(logger))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c.Start(ctx)

	switch transport {
	case "http":
		return serveHTTP(ctx, c, addr, logger)
	case "hertz":
		serveHertz(c, addr)
		return nil
	default:
		return fmt.Errorf("unknown transport %q", transport)
	}
}

func serveHTTP(ctx context.Context, c *di.Container, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()

	mux.Handle("GET /facilities", c.HTTPMiddleware("facility.search")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, searchFacilities(r.URL.Query().Get("city")))
	})))

	mux.HandleFunc("GET /facilities/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
			return
		}
		ctx := r.Context()
		f, err := guard.Call(ctx, c.Guard(), "facility.get", func(ctx context.Context) (*facility, error) {
			return findFacility(ctx, id)
		}, id)
		switch {
		case err != nil:
			httpguard.WriteError(w, err, logger)
		case f == nil:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "facility not found"})
		default:
			writeJSON(w, http.StatusOK, f)
		}
	})

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statsSnapshot(c))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", addr, "transport", "http")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func serveHertz(c *di.Container, addr string) {
	h := server.Default(server.WithHostPorts(addr))

	h.GET("/facilities", hertzguard.Middleware(c.Guard(), "facility.search"), func(ctx context.Context, rc *app.RequestContext) {
		rc.JSON(consts.StatusOK, searchFacilities(rc.Query("city")))
	})
	h.GET("/stats", func(ctx context.Context, rc *app.RequestContext) {
		rc.JSON(consts.StatusOK, statsSnapshot(c))
	})
	h.GET("/facilities/:id", func(ctx context.Context, rc *app.RequestContext) {
		id, err := strconv.Atoi(rc.Param("id"))
		if err != nil {
			rc.JSON(consts.StatusBadRequest, utils.H{"error": "invalid id"})
			return
		}
		f, err := guard.Call(ctx, c.Guard(), "facility.get", func(ctx context.Context) (*facility, error) {
			return findFacility(ctx, id)
		}, id)
		switch {
		case err != nil:
			rc.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		case f == nil:
			rc.JSON(consts.StatusNotFound, utils.H{"error": "facility not found"})
		default:
			rc.JSON(consts.StatusOK, f)
		}
	})

	h.Spin()
}

func statsSnapshot(c *di.Container) any {
	if m, ok := c.Recorder().(*stats.Memory); ok {
		return map[string]any{"total": m.Total(), "operations": m.Snapshot()}
	}
	return map[string]string{"backend": c.Config().Stats.Backend}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
