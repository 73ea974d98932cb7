package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codexgate/codexgate/internal/api"
	codexauth "github.com/codexgate/codexgate/internal/auth/codex"
	"github.com/codexgate/codexgate/internal/browser"
	"github.com/codexgate/codexgate/internal/config"
	"github.com/codexgate/codexgate/internal/cookies"
	"github.com/codexgate/codexgate/internal/fingerprint"
	"github.com/codexgate/codexgate/internal/logging"
	"github.com/codexgate/codexgate/internal/pool"
	"github.com/codexgate/codexgate/internal/session"
	"github.com/codexgate/codexgate/internal/transport"
	"github.com/codexgate/codexgate/internal/updater"
	"github.com/codexgate/codexgate/internal/upstream"
	"github.com/codexgate/codexgate/internal/util"
	"github.com/codexgate/codexgate/internal/watcher"
)

const (
	drainTimeout = 5 * time.Second
	hardTimeout  = 10 * time.Second
)

func main() {
	var login bool
	var configPath string
	flag.BoolVar(&login, "login", false, "log in an account and exit")
	flag.StringVar(&configPath, "config", "config.yaml", "configuration file path")
	flag.Parse()

	logging.Setup()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetLogLevel(cfg.Debug)
	logging.ConfigureOutput(cfg.LoggingToFile)

	if err = os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("cannot create data directory %s: %v", cfg.DataDir, err)
	}

	fingerprints, err := config.NewFingerprintStore(cfg.Update.ClientConfigPath)
	if err != nil {
		log.Fatalf("failed to load fingerprint file: %v", err)
	}
	headers := fingerprint.NewBuilder(fingerprints)

	tr, err := transport.New(&cfg.TLS)
	if err != nil {
		log.Fatalf("failed to initialize transport: %v", err)
	}

	jar, err := cookies.NewJar(filepath.Join(cfg.DataDir, "cookies.json"))
	if err != nil {
		log.Fatalf("failed to load cookie store: %v", err)
	}

	accountPool, err := pool.NewPool(cfg)
	if err != nil {
		log.Fatalf("failed to initialize account pool: %v", err)
	}

	auth := codexauth.NewAuth(cfg)
	oauthSessions := codexauth.NewSessionStore()
	callback := codexauth.NewCallbackServer(auth, oauthSessions, cfg.Auth.CallbackPort)

	if login {
		runLogin(cfg, auth, oauthSessions, callback, accountPool)
		return
	}

	scheduler := pool.NewRefreshScheduler(accountPool, auth, time.Duration(cfg.Auth.RefreshMarginSeconds)*time.Second)
	scheduler.Start()

	sessions := session.NewCache(
		time.Duration(cfg.Session.TTLMinutes)*time.Minute,
		time.Duration(cfg.Session.CleanupIntervalMinutes)*time.Minute,
		cfg.Session.MaxEntries,
	)

	client := upstream.NewClient(cfg, tr, headers, jar)

	updates := updater.NewWatcher(cfg, tr, headers, fingerprints, nil)
	updates.Start()

	server := api.NewServer(api.Deps{
		Cfg:           cfg,
		Pool:          accountPool,
		Scheduler:     scheduler,
		Upstream:      client,
		Sessions:      sessions,
		Jar:           jar,
		Auth:          auth,
		OAuthSessions: oauthSessions,
		Callback:      callback,
		Fingerprints:  fingerprints,
		Headers:       headers,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configWatcher, err := watcher.NewWatcher(configPath, server.UpdateConfig)
	if err != nil {
		log.Warnf("config hot reload unavailable: %v", err)
		configWatcher = nil
	} else if err = configWatcher.Start(ctx); err != nil {
		log.Warnf("config hot reload unavailable: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	}

	// Force exit if the drain plus destructor phases hang.
	hardTimer := time.AfterFunc(hardTimeout, func() {
		log.Error("shutdown timed out; forcing exit")
		os.Exit(1)
	})
	defer hardTimer.Stop()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err = server.Stop(drainCtx); err != nil {
		log.Warnf("server shutdown: %v", err)
	}

	if configWatcher != nil {
		_ = configWatcher.Stop()
	}
	updates.Stop()
	scheduler.Destroy()
	oauthSessions.Close()
	sessions.Close()
	jar.Close()
	accountPool.Close()
	_ = tr.Close()
	log.Info("shutdown complete")
}

// runLogin drives the CLI login flow: print the authorization URL, open the
// browser, and wait for the callback to land the account in the pool.
func runLogin(cfg *config.Config, auth *codexauth.Auth, sessions *codexauth.SessionStore, callback *codexauth.CallbackServer, accountPool *pool.Pool) {
	pkce, err := codexauth.GeneratePKCECodes()
	if err != nil {
		log.Fatalf("cannot generate PKCE codes: %v", err)
	}
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/auth/callback", cfg.Auth.CallbackPort)
	state, err := sessions.Create(&codexauth.OAuthSession{
		CodeVerifier: pkce.CodeVerifier,
		RedirectURI:  redirectURI,
		Source:       "cli",
	})
	if err != nil {
		log.Fatalf("cannot create login session: %v", err)
	}

	done := make(chan *pool.Entry, 1)
	if err = callback.Start(func(td *codexauth.TokenData) {
		token := td.AccessToken
		if token == "" {
			token = td.IDToken
		}
		entry, addErr := accountPool.AddAccount(token, td.RefreshToken)
		if addErr != nil {
			log.Errorf("cannot add account: %v", addErr)
			done <- nil
			return
		}
		done <- entry
	}); err != nil {
		log.Fatalf("cannot start callback listener: %v", err)
	}

	authURL := auth.GenerateAuthURL(state, pkce, redirectURI)
	fmt.Printf("Open the following URL to log in:\n\n  %s\n\n", authURL)
	if err = browser.OpenURL(authURL); err != nil {
		log.Debugf("browser did not open automatically: %v", err)
	}

	select {
	case entry := <-done:
		if entry == nil {
			os.Exit(1)
		}
		fmt.Printf("Logged in as %s (%s plan)\n", entry.Email, entry.PlanType)
	case <-time.After(5 * time.Minute):
		log.Fatal("login timed out")
	}
	accountPool.Close()
}
