// Package diag collects the diagnostic sections from a server.
//
// Sections are fetched one at a time in catalog order. A failing section
// records its error and collection moves on. The config, providers, tools
// and tool-ids sections share a single /config fetch per run, and a failure
// of that fetch is reported by each of them.
package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	neturl "net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcusrbrown/ocdiag/internal/observability"
	"github.com/marcusrbrown/ocdiag/internal/options"
	"github.com/marcusrbrown/ocdiag/internal/supervisor"
	"github.com/marcusrbrown/ocdiag/internal/tree"
)

const tracerName = "github.com/marcusrbrown/ocdiag/internal/diag"

// API is the subset of the server client used by sections.
type API interface {
	Get(ctx context.Context, path string, query neturl.Values) (any, error)
}

// Result is the outcome of one section. Exactly one of Data and Err is
// meaningful: Err is non-empty for a failed section.
type Result struct {
	Key   string
	Label string
	Data  any
	Err   string
}

// Failed reports whether the section failed.
func (r Result) Failed() bool {
	return r.Err != ""
}

// MarshalJSON encodes {"label": ..., "data": ...} or {"label": ..., "error": ...}.
func (r Result) MarshalJSON() ([]byte, error) {
	obj := tree.NewObject().Set("label", r.Label)
	if r.Failed() {
		obj.Set("error", r.Err)
	} else {
		obj.Set("data", r.Data)
	}

	return json.Marshal(obj)
}

// Server describes the server the run is attached to.
type Server struct {
	URL        string
	Port       int
	Mode       supervisor.Mode
	Version    string
	Compatible *bool
	Pid        int
}

// ServerFromHandle describes h.
func ServerFromHandle(h *supervisor.Handle) Server {
	s := Server{
		URL:        h.URL,
		Port:       h.Port,
		Mode:       h.Mode,
		Version:    h.Version,
		Compatible: h.Compatible,
	}

	if p := h.Process(); p != nil {
		s.Pid = p.Pid()
	}

	return s
}

func (s Server) data() *tree.Object {
	obj := tree.NewObject().
		Set("url", s.URL).
		Set("port", json.Number(strconv.Itoa(s.Port))).
		Set("mode", string(s.Mode))

	if s.Pid > 0 {
		obj.Set("pid", json.Number(strconv.Itoa(s.Pid)))
	}

	if s.Version != "" {
		obj.Set("version", s.Version)
	}

	if s.Compatible != nil {
		obj.Set("compatible", *s.Compatible)
	}

	return obj
}

// Collector gathers sections from one server.
type Collector struct {
	api    API
	server Server
	tracer trace.Tracer
}

// NewCollector creates a Collector.
func NewCollector(api API, server Server) *Collector {
	return &Collector{
		api:    api,
		server: server,
		tracer: observability.Tracer(tracerName),
	}
}

// Collect fetches every section opts selects, in catalog order. Section
// failures are recorded in their Result. The only error returned is the
// context's, in which case no results are returned.
func (c *Collector) Collect(ctx context.Context, opts options.Options) ([]Result, error) {
	logger := observability.FromContext(ctx)

	r := &run{
		api:    c.api,
		opts:   opts,
		server: c.server,
	}
	r.sharedConfig = sync.OnceValues(func() (any, error) {
		return c.api.Get(ctx, "/config", nil)
	})

	results := make([]Result, 0, len(catalog))

	for _, section := range catalog {
		if !opts.Includes(section.Key) {
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := c.collectOne(ctx, r, section)

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if result.Failed() {
			logger.Info("section failed", slog.String("section.key", section.Key), slog.String("error", result.Err))
		}

		results = append(results, result)
	}

	return results, nil
}

func (c *Collector) collectOne(ctx context.Context, r *run, section Section) Result {
	ctx, span := c.tracer.Start(ctx, "diag.section",
		trace.WithAttributes(attribute.String("section.key", section.Key)))
	defer span.End()

	start := time.Now()
	data, err := sectionFetchers[section.Key](ctx, r)

	observability.FromContext(ctx).Debug("section collected",
		slog.String("section.key", section.Key),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("failed", err != nil),
	)

	result := Result{Key: section.Key, Label: section.Label}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		result.Err = err.Error()

		return result
	}

	result.Data = data

	return result
}

// run is the per-Collect state. Sections run sequentially, so only the
// shared config fetch needs a guard.
type run struct {
	api          API
	opts         options.Options
	server       Server
	sharedConfig func() (any, error)
}

func (r *run) get(ctx context.Context, path string) (any, error) {
	return r.api.Get(ctx, path, nil)
}

type fetcher func(ctx context.Context, r *run) (any, error)

var sectionFetchers = map[string]fetcher{
	"server": func(_ context.Context, r *run) (any, error) {
		return r.server.data(), nil
	},
	"health": fetchHealth,
	"config": func(_ context.Context, r *run) (any, error) {
		return r.sharedConfig()
	},
	"providers":      requiresConfig(endpoint("/config/providers")),
	"project":        endpoint("/project/current"),
	"projects":       endpoint("/project"),
	"path":           endpoint("/path"),
	"vcs":            endpoint("/vcs"),
	"agents":         endpoint("/agent"),
	"commands":       endpoint("/command"),
	"tools":          fetchTools,
	"tool-ids":       requiresConfig(endpoint("/experimental/tool/ids")),
	"mcp":            endpoint("/mcp"),
	"lsp":            endpoint("/lsp"),
	"formatter":      endpoint("/formatter"),
	"sessions":       endpoint("/session"),
	"session-status": endpoint("/session/status"),
}

func endpoint(path string) fetcher {
	return func(ctx context.Context, r *run) (any, error) {
		return r.get(ctx, path)
	}
}

// fetchHealth never fails the section. The answer gains a latencyMs field,
// and a failed probe is reported as {healthy: false, error}.
func fetchHealth(ctx context.Context, r *run) (any, error) {
	start := time.Now()

	data, err := r.get(ctx, "/global/health")
	if err != nil {
		return tree.NewObject().Set("healthy", false).Set("error", err.Error()), nil
	}

	latency := json.Number(strconv.FormatInt(time.Since(start).Milliseconds(), 10))

	obj, ok := data.(*tree.Object)
	if !ok {
		return tree.NewObject().Set("response", data).Set("latencyMs", latency), nil
	}

	out := tree.NewObject()
	obj.Range(func(key string, value any) bool {
		out.Set(key, value)
		return true
	})

	return out.Set("latencyMs", latency), nil
}

// requiresConfig reports the shared config failure instead of calling next.
func requiresConfig(next fetcher) fetcher {
	return func(ctx context.Context, r *run) (any, error) {
		if _, err := r.sharedConfig(); err != nil {
			return nil, err
		}

		return next(ctx, r)
	}
}

const (
	toolsWarning = "Unable to determine provider/model for tool listing"
	toolsHint    = "Set \"model\" to \"provider/model\" in the server config, or pass --tools-provider and --tools-model"
)

func fetchTools(ctx context.Context, r *run) (any, error) {
	cfg, err := r.sharedConfig()
	if err != nil {
		return nil, err
	}

	provider, model := r.opts.ToolsProvider, r.opts.ToolsModel

	if provider == "" || model == "" {
		if p, m, ok := ParseModel(configModel(cfg)); ok {
			if provider == "" {
				provider = p
			}

			if model == "" {
				model = m
			}
		}
	}

	if provider == "" || model == "" {
		return tree.NewObject().
			Set("warning", toolsWarning).
			Set("hint", toolsHint), nil
	}

	return r.api.Get(ctx, "/experimental/tool", neturl.Values{
		"provider": {provider},
		"model":    {model},
	})
}

func configModel(cfg any) string {
	obj, ok := cfg.(*tree.Object)
	if !ok {
		return ""
	}

	v, _ := obj.Get("model")
	s, _ := v.(string)

	return s
}

// ParseModel splits "provider/model" on the first slash. Both sides must be
// non-empty.
func ParseModel(s string) (provider, model string, ok bool) {
	provider, model, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found || provider == "" || model == "" {
		return "", "", false
	}

	return provider, model, true
}
