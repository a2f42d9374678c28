package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etherlabsio/healthcheck/v2"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	multiaddr "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/urfave/cli/v2"

	"github.com/keyhaven-io/wallet-agent/api"
	"github.com/keyhaven-io/wallet-agent/cmds"
	"github.com/keyhaven-io/wallet-agent/config"
	"github.com/keyhaven-io/wallet-agent/connect"
	"github.com/keyhaven-io/wallet-agent/events"
	"github.com/keyhaven-io/wallet-agent/metrics"
	"github.com/keyhaven-io/wallet-agent/prompt"
	"github.com/keyhaven-io/wallet-agent/registry"
	"github.com/keyhaven-io/wallet-agent/session"
	"github.com/keyhaven-io/wallet-agent/types"
	"github.com/keyhaven-io/wallet-agent/version"
	"github.com/keyhaven-io/wallet-agent/walletstore"
)

var log = logging.Logger("main")

func main() {
	_ = logging.SetLogLevel("*", "INFO")

	app := &cli.App{
		Name:  "wallet-agent",
		Usage: "wallet agent arbitrating per-app account authorization",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "host address and port the agent api will listen on",
				Value: "/ip4/127.0.0.1/tcp/45780",
			},
			&cli.StringFlag{
				Name:  "app-id",
				Usage: "app identity to present when acting as a client",
			},
		},
		Commands: []*cli.Command{
			runCmd, cmds.AccountCmds, cmds.SessionCmds,
		},
	}
	app.Version = version.UserVersion
	if err := app.Run(os.Args); err != nil {
		log.Warn(err)
		os.Exit(1)
	}
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "start wallet-agent daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "path to config.toml, built-in defaults when absent"},
		&cli.StringFlag{Name: "store", Usage: "badger directory for persisted accounts and grants, in-memory when empty"},
		&cli.StringFlag{Name: "wallet-name", Value: "keyhaven"},
	},
	Action: func(cctx *cli.Context) error {
		var cfg *config.Config
		if path := cctx.String("config"); len(path) > 0 {
			var err error
			if cfg, err = config.ReadConfig(path); err != nil {
				return fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			cfg = config.DefaultConfig()
		}
		if cctx.IsSet("listen") {
			cfg.API.ListenAddress = cctx.String("listen")
		}
		if cctx.IsSet("store") {
			cfg.Store.Path = cctx.String("store")
		}
		if cctx.IsSet("wallet-name") {
			cfg.Wallet.Name = cctx.String("wallet-name")
		}
		return RunMain(cctx.Context, cfg)
	},
}

func RunMain(ctx context.Context, cfg *config.Config) error {
	log.Infof("wallet-agent current version %s, listen %s", version.UserVersion, cfg.API.ListenAddress)

	var store walletstore.Store
	if len(cfg.Store.Path) > 0 {
		var err error
		store, err = walletstore.NewBadgerStore(cfg.Store.Path)
		if err != nil {
			return err
		}
	} else {
		log.Warn("no store path configured, accounts and grants will not survive restarts")
		store = walletstore.NewMemStore()
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("close wallet store: %s", err)
		}
	}()

	bus := events.NewBus()

	// accounts come back first so restored grants are validated against
	// the real account set, not an empty registry
	reg, err := registry.NewPersistentRegistry(bus, store)
	if err != nil {
		return fmt.Errorf("restore account registry: %w", err)
	}

	sessionMgr := session.NewSessionMgr(store)
	err = sessionMgr.Restore(func(id types.AccountID) bool {
		has, err := reg.Has(id)
		return err == nil && has
	})
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	requestCfg := &types.RequestConfig{
		RequestQueueSize: cfg.Prompt.RequestQueueSize,
		RequestTimeout:   cfg.Prompt.RequestTimeout,
		ClearInterval:    cfg.Prompt.ClearInterval,
	}
	prompts := prompt.NewStream(ctx, requestCfg)

	negotiator := connect.NewNegotiator(reg, sessionMgr, prompts, bus, connect.AgentInfo{
		Name:    cfg.Wallet.Name,
		Icon:    cfg.Wallet.Icon,
		Version: version.UserVersion,
	})

	agentAPI := api.NewAgentAPIImpl(negotiator, reg, prompts, bus, cfg.Prompt.RequestQueueSize)

	if err := metrics.SetupMetrics(ctx, cfg.Metrics, agentAPI); err != nil {
		return fmt.Errorf("setup metrics: %w", err)
	}

	router := mux.NewRouter()
	rpcServer := jsonrpc.NewServer()
	rpcServer.Register("Agent", agentAPI)
	router.Handle("/rpc/v1", rpcServer)
	router.Handle("/healthcheck", healthcheck.Handler())
	router.PathPrefix("/").Handler(http.DefaultServeMux)

	handler := appIdentityMiddleware(router)

	srv := &http.Server{Handler: handler}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Warnw("received shutdown", "signal", sig)
		case <-ctx.Done():
			log.Warn("received shutdown")
		}

		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutting down RPC server failed: %s", err)
		}
	}()

	addr, err := multiaddr.NewMultiaddr(cfg.API.ListenAddress)
	if err != nil {
		return err
	}

	nl, err := manet.Listen(addr)
	if err != nil {
		return err
	}

	metrics.ApiState.Set(ctx, 1)
	log.Infof("start to rpc listen %s", nl.Addr())
	if err = srv.Serve(manet.NetListener(nl)); err != nil && err != http.ErrServerClosed {
		return err
	}
	metrics.ApiState.Set(ctx, 0)

	log.Info("Graceful shutdown successful")
	return nil
}

// appIdentityMiddleware tags each request's context with the caller's
// app identity. Transport authentication is a collaborator concern; the
// header is the minimal stand-in the negotiation core keys sessions by.
func appIdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if appID := r.Header.Get("X-App-Id"); len(appID) > 0 {
			r = r.WithContext(types.CtxWithApp(r.Context(), appID))
		}
		next.ServeHTTP(w, r)
	})
}
