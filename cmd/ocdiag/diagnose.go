package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/marcusrbrown/ocdiag/internal/auth"
	"github.com/marcusrbrown/ocdiag/internal/client"
	"github.com/marcusrbrown/ocdiag/internal/config"
	"github.com/marcusrbrown/ocdiag/internal/diag"
	clierrors "github.com/marcusrbrown/ocdiag/internal/errors"
	"github.com/marcusrbrown/ocdiag/internal/lifecycle"
	"github.com/marcusrbrown/ocdiag/internal/observability"
	"github.com/marcusrbrown/ocdiag/internal/options"
	"github.com/marcusrbrown/ocdiag/internal/output"
	"github.com/marcusrbrown/ocdiag/internal/report"
	"github.com/marcusrbrown/ocdiag/internal/supervisor"
)

// diagnoseFlags are the report flags of the root command.
type diagnoseFlags struct {
	host          string
	port          int
	dir           string
	format        string
	json          bool
	only          []string
	full          bool
	limit         int
	toolsProvider string
	toolsModel    string
	noTUI         bool
}

func (f *diagnoseFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.host, "host", config.DefaultHost, "Server host")
	fl.IntVar(&f.port, "port", config.DefaultPort, "Attach to a running server on this port instead of starting one")
	fl.StringVar(&f.dir, "dir", "", "Project directory to report on (default: current directory)")
	fl.StringVar(&f.format, "format", string(options.FormatText), "Output format: text, json")
	fl.BoolVar(&f.json, "json", false, "Shorthand for --format json")
	fl.StringSliceVar(&f.only, "only", nil, "Comma-separated section keys to include (see 'ocdiag sections')")
	fl.BoolVar(&f.full, "full", false, "Do not truncate lists in text output")
	fl.IntVar(&f.limit, "limit", config.DefaultLimit, "Maximum entries per list in text output")
	fl.StringVar(&f.toolsProvider, "tools-provider", "", "Provider for the tools section (default: from config model)")
	fl.StringVar(&f.toolsModel, "tools-model", "", "Model for the tools section (default: from config model)")
	fl.BoolVar(&f.noTUI, "no-tui", false, "Plain output: no bold headers or colors")
}

// input merges flags with configuration; a flag given on the command line wins.
func (f *diagnoseFlags) input(cmd *cobra.Command, cfg *config.Config) options.Input {
	fl := cmd.Flags()

	host := f.host
	if !fl.Changed("host") {
		host = cfg.Host()
	}

	limit := f.limit
	if !fl.Changed("limit") {
		limit = cfg.ReportLimit()
	}

	return options.Input{
		Host:          host,
		Port:          f.port,
		PortProvided:  fl.Changed("port"),
		Directory:     f.dir,
		Format:        f.format,
		JSON:          f.json,
		Only:          f.only,
		NoTUI:         f.noTUI,
		Full:          f.full,
		Limit:         limit,
		ToolsProvider: f.toolsProvider,
		ToolsModel:    f.toolsModel,
	}
}

func runDiagnose(cmd *cobra.Command, flags *diagnoseFlags) (err error) {
	out := output.FromContext(cmd.Context())
	logger := observability.FromContext(cmd.Context())
	cfg := config.Load()

	opts, err := options.Resolve(flags.input(cmd, cfg), diag.Keys())
	if err != nil {
		return err
	}

	if opts.Format == options.FormatJSON {
		out.Quiet = true
	}

	if !opts.TUI {
		out.SetNoColor(true)
	}

	creds := auth.GetCredentials()

	var sup *supervisor.Supervisor

	ctl := lifecycle.New(func() error {
		if sup == nil {
			return nil
		}

		return sup.Release()
	}, lifecycle.WithLogger(logger), lifecycle.WithStderr(out.Err))

	defer ctl.Recover()

	sup = supervisor.New(supervisor.SettingsFromConfig(cfg, creds), out, supervisor.WithRunner(ctl.Go))

	ctx, stop := ctl.Watch(cmd.Context())

	// stop releases the server while the signal handlers are still installed.
	defer func() {
		stop()

		if code, ok := ctl.Interrupted(); ok {
			err = clierrors.New(code, "Interrupted")
		}
	}()

	handle, err := sup.Acquire(ctx, opts)
	if err != nil {
		return err
	}

	logger.Info("server acquired",
		slog.String("server.url", handle.URL),
		slog.String("server.mode", string(handle.Mode)),
	)

	api := client.New(handle.URL,
		client.WithDirectory(opts.Directory),
		client.WithCredentials(creds),
		client.WithTimeout(cfg.HTTPTimeout()),
	)

	results, err := diag.NewCollector(api, diag.ServerFromHandle(handle)).Collect(ctx, opts)
	if err != nil {
		return err
	}

	// Bold headers need a color-capable terminal; --no-color and NO_COLOR turn them off too.
	return report.Render(out.Out, results, opts, out.Terminal().ColorEnabled())
}
