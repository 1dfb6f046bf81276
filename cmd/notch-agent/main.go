// Command notch-agent runs the Notch device-access proxy: it loads an
// agent configuration, wires the configured registry providers and
// credential store into a Controller, and serves the JSON-RPC API over
// HTTP (spec.md §6 "CLI surface").
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nanoncore/notch/controller"
	"github.com/nanoncore/notch/credentials"
	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/internal/config"
	"github.com/nanoncore/notch/internal/logging"
	"github.com/nanoncore/notch/registry"
	"github.com/nanoncore/notch/rpcserver"

	_ "github.com/nanoncore/notch/device/vendors/ftos"
	_ "github.com/nanoncore/notch/device/vendors/ios"
	_ "github.com/nanoncore/notch/device/vendors/junos"
	_ "github.com/nanoncore/notch/device/vendors/netscreen"
	_ "github.com/nanoncore/notch/device/vendors/nortel"
	_ "github.com/nanoncore/notch/device/vendors/omniswitch"
	_ "github.com/nanoncore/notch/device/vendors/timos"
)

// Exit codes, per spec.md §6 "CLI surface".
const (
	exitNormal            = 0
	exitConfigError       = 1
	exitBindError         = 2
	exitKeyboardInterrupt = 3
)

// Sentinel errors, mapped to exit codes in main after Execute returns
// (aldrin-isaac-newtron/cmd/newtrun/main.go's pattern of returning
// sentinels from RunE rather than calling os.Exit mid-handler, so
// deferred cleanup still runs).
var (
	errConfig = errors.New("configuration error")
	errBind   = errors.New("bind error")
	errSignal = errors.New("keyboard interrupt")
)

func main() {
	var configPath string
	var port int

	rootCmd := &cobra.Command{
		Use:           "notch-agent",
		Short:         "Notch device access proxy agent",
		Long:          "notch-agent proxies JSON-RPC requests to network device CLI sessions over SSH/Telnet.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, port)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "path to the agent's YAML configuration file")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "TCP port to listen on (overrides options.port in the config file)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "notch-agent:", err)
		switch {
		case errors.Is(err, errConfig):
			os.Exit(exitConfigError)
		case errors.Is(err, errBind):
			os.Exit(exitBindError)
		case errors.Is(err, errSignal):
			os.Exit(exitKeyboardInterrupt)
		default:
			os.Exit(exitConfigError)
		}
	}
	os.Exit(exitNormal)
}

func run(configPath string, portFlag int) error {
	if configPath == "" {
		return fmt.Errorf("%w: --config (or %s) must be set", errConfig, config.EnvConfigPath)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}

	if cfg.Options.LogLevel != "" {
		if err := logging.SetLevel(cfg.Options.LogLevel); err != nil {
			return fmt.Errorf("%w: invalid log_level %q: %v", errConfig, cfg.Options.LogLevel, err)
		}
	}
	if cfg.Options.JSONLogs {
		logging.SetJSONFormat()
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}

	var credStore *credentials.Store
	if cfg.Options.Credentials != "" {
		credStore, err = credentials.Load(cfg.Options.Credentials)
		if err != nil {
			return fmt.Errorf("%w: loading credentials: %v", errConfig, err)
		}
	}

	ctrl := controller.New(reg, credStore, device.DefaultTimeouts())
	ctrl.SetSessionMaintPeriod(cfg.SessionMaintPeriod())

	maintCtx, cancelMaint := context.WithCancel(context.Background())
	go ctrl.RunMaintenance(maintCtx)
	defer cancelMaint()
	defer ctrl.Stop()

	port := portFlag
	if port == 0 {
		port = cfg.Options.Port
	}
	if port == 0 {
		port = 8800
	}

	mux := http.NewServeMux()
	mux.Handle(rpcserver.Path, rpcserver.New(ctrl, true, rpcserver.DefaultAsyncWorkers))
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		go func() { shutdownCh <- syscall.SIGTERM }()
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: listening on %s: %v", errBind, addr, err)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logging.Log.WithField("addr", addr).Info("notch-agent listening")
		serveErrCh <- srv.Serve(ln)
	}()

	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	select {
	case sig := <-shutdownCh:
		logging.Log.WithField("signal", sig).Info("shutting down")
		_ = srv.Shutdown(context.Background())
		if sig == os.Interrupt {
			return errSignal
		}
		return nil
	case err := <-serveErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%w: %v", errBind, err)
		}
		return nil
	}
}

// shutdownCh receives both OS signals and /shutdown-endpoint requests,
// per spec.md §6 "A shutdown endpoint exists for operator control."
var shutdownCh = make(chan os.Signal, 1)

func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()
	for name, src := range cfg.DeviceSources {
		switch src.Provider {
		case "router.db":
			if src.Root == "" {
				return nil, fmt.Errorf("device source %q: router.db provider requires root", name)
			}
			reg.AddProvider(src.Priority, registry.NewRouterDBProvider(src.Root, src.IgnoreDownDevices))
		case "dnstxt":
			reg.AddProvider(src.Priority, registry.NewDNSTXTProvider())
		default:
			return nil, fmt.Errorf("device source %q: unknown provider %q", name, src.Provider)
		}
	}
	return reg, nil
}
