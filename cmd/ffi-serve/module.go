package main

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/bridge/httpapi"
	"github.com/wippyai/ffi-bridge/bridge/wasmhost"
	"github.com/wippyai/ffi-bridge/config"
	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/examples/todolist"
	"github.com/wippyai/ffi-bridge/internal/logging"
	"github.com/wippyai/ffi-bridge/metrics"
)

// configPath is the file the service was started with; empty means
// defaults plus FFI_* environment overrides, without hot reload.
type configPath string

// Module returns the complete service. Add fx.Populate or fx.Invoke options
// alongside to reach into it.
func Module(path string) fx.Option {
	return fx.Options(
		fx.Supply(configPath(path)),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideRegistry,
			provideMetrics,
			provideTable,
			provideServer,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(registerReload, registerGuest, registerHTTP),
	)
}

type configResult struct {
	fx.Out
	Config *config.Config
	// Holder is nil without a config file.
	Holder *config.Holder
}

func provideConfig(path configPath) (configResult, error) {
	if path == "" {
		cfg, err := config.LoadOrDefault("")
		return configResult{Config: cfg}, err
	}
	h, err := config.NewHolder(string(path), nil)
	if err != nil {
		return configResult{}, err
	}
	return configResult{Config: h.Get(), Holder: h}, nil
}

func provideLogger(lc fx.Lifecycle, cfg *config.Config) (*logging.Logger, *zap.Logger, error) {
	l, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	l.Install()
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = l.Close()
			return nil
		},
	})
	return l, l.Logger, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Collector {
	return metrics.NewWithRegistry(reg)
}

func provideTable(lc fx.Lifecycle, cfg *config.Config, m *metrics.Collector, log *zap.Logger) (*dispatch.Table, error) {
	opts := dispatch.DefaultOptions()
	opts.Observer = m
	opts.Logger = log.Named("dispatch")
	opts.Codec.MaxLength = cfg.Limits.MaxLength

	table, err := todolist.NewTable(opts)
	if err != nil {
		return nil, err
	}
	table.Registry().Subscribe(m)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return table.Registry().Close()
		},
	})
	log.Info("dispatch table ready", zap.Int("operations", len(table.Descriptors())))
	return table, nil
}

func provideServer(cfg *config.Config, table *dispatch.Table, reg *prometheus.Registry, log *zap.Logger) *httpapi.Server {
	opts := httpapi.Options{
		Logger:       log.Named("http"),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		MetricsPath:  cfg.Metrics.Path,
	}
	if cfg.Metrics.Enabled {
		opts.Gatherer = reg
	}
	return httpapi.New(table, opts)
}

type reloadDeps struct {
	fx.In
	Holder  *config.Holder
	Logger  *logging.Logger
	Metrics *metrics.Collector
}

// registerReload applies reloadable settings when the config file changes
// or the process receives SIGHUP.
func registerReload(lc fx.Lifecycle, d reloadDeps) {
	if d.Holder == nil {
		return
	}
	d.Holder.SetLogger(d.Logger.Named("config"))
	d.Holder.OnChange(func(c *config.Config) {
		if err := d.Logger.SetLevel(c.Logging.Level); err != nil {
			d.Logger.Error("apply log level", zap.Error(err))
		}
		d.Metrics.ConfigReloaded(nil)
	})
	d.Holder.OnError(d.Metrics.ConfigReloaded)

	hup := make(chan os.Signal, 1)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			signal.Notify(hup, syscall.SIGHUP)
			go func() {
				for range hup {
					_ = d.Holder.Reload()
				}
			}()
			return d.Holder.WatchFile()
		},
		OnStop: func(context.Context) error {
			signal.Stop(hup)
			close(hup)
			d.Holder.Stop()
			return nil
		},
	})
}

func registerGuest(lc fx.Lifecycle, cfg *config.Config, table *dispatch.Table, log *zap.Logger) {
	if cfg.Wasm.Module == "" {
		return
	}
	var host *wasmhost.Host
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			data, err := os.ReadFile(cfg.Wasm.Module)
			if err != nil {
				return err
			}
			host, err = wasmhost.New(ctx, table, &wasmhost.Config{MemoryLimitPages: cfg.Wasm.MemoryLimitPages})
			if err != nil {
				return err
			}
			if _, err := host.Load(ctx, "guest", data); err != nil {
				return err
			}
			log.Info("guest module loaded", zap.String("module", cfg.Wasm.Module))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if host == nil {
				return nil
			}
			return host.Close(ctx)
		},
	})
}

func registerHTTP(lc fx.Lifecycle, cfg *config.Config, s *httpapi.Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("server starting", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("server stopping")
			return srv.Shutdown(ctx)
		},
	})
}
