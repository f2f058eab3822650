// Package server assembles the relay from its configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go-relay/internal/api"
	"go-relay/internal/auth"
	"go-relay/internal/config"
	"go-relay/internal/message"
	"go-relay/internal/middleware"
	"go-relay/internal/relay"
	"go-relay/internal/storage"
	"go-relay/internal/user"
	"go-relay/internal/websocket"
	"go-relay/pkg/chat"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// App is a fully wired relay: HTTP API, socket hub and stores.
type App struct {
	cfg    config.Config
	log    *slog.Logger
	db     *gorm.DB
	kv     *badger.DB
	relay  relay.Relay
	hub    *websocket.Hub
	engine *gin.Engine
	issuer *auth.TokenIssuer

	Messages *message.MessageService
}

// New opens the stores, connects the relay backend and mounts every route.
// Background work started here stops when ctx is done.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	app := &App{cfg: cfg, log: log}
	ready := false
	defer func() {
		if !ready {
			app.Close()
		}
	}()

	var err error
	if app.db, err = storage.Connect(cfg.DBPath, log); err != nil {
		return nil, err
	}

	var store message.Store
	switch cfg.StoreBackend {
	case config.StoreBadger:
		if app.kv, err = storage.OpenBadger(cfg.BadgerPath, log); err != nil {
			return nil, err
		}
		store, err = message.NewBadgerStore(app.kv, log)
	default:
		store, err = message.NewGormStore(app.db)
	}
	if err != nil {
		return nil, err
	}

	app.issuer = auth.NewTokenIssuer(cfg.AppSecret, cfg.TokenTTL)
	resolver := auth.NewJWTResolver(app.issuer)

	app.relay, err = relay.Open(ctx, relay.Options{
		Backend:  cfg.RelayBackend,
		RedisURL: cfg.RedisURL,
		Topic:    cfg.RedisChannel,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open relay: %w", err)
	}

	users := user.NewUserService(app.db)
	authService := auth.NewAuthService(app.db, cfg.RefreshTTL, log)

	app.engine = api.NewEngine(ctx, log, middleware.RateLimitConfig{
		RequestsPerSecond: float64(cfg.RateLimitRPS),
		BurstSize:         cfg.RateLimitBurst,
	})
	app.engine.Use(middleware.Timeout(cfg.RequestTimeout))

	provider := websocket.NewProvider(cfg.SocketPath, func() (*websocket.Hub, error) {
		return websocket.NewHub(ctx, resolver, app.relay, websocket.Options{AllowedOrigins: cfg.AllowedOrigins}, log)
	})
	if app.hub, err = provider.GetOrCreate(app.engine); err != nil {
		return nil, fmt.Errorf("start socket hub: %w", err)
	}

	app.Messages = message.NewMessageService(store, app.hub, log)
	app.hub.SetInbound(app.sendFromSocket)

	router := api.NewRouter(
		api.NewAuthHandlers(authService, app.issuer, cfg.RefreshTTL, cfg.CookieSecure),
		api.NewMessageHandlers(app.Messages, users),
		api.NewUserHandlers(users),
		resolver,
	)
	router.RegisterRoutes(ctx, app.engine)

	log.Info("relay ready",
		"store", cfg.StoreBackend,
		"relay", cfg.RelayBackend,
		"socket_path", provider.Path(),
	)
	ready = true
	return app, nil
}

// sendFromSocket runs a client "private message" frame through the same
// write path as POST /api/messages.
func (a *App) sendFromSocket(ctx context.Context, from *websocket.Client, payload chat.SendPayload) error {
	_, err := a.Messages.Send(ctx, from.GetUserID(), payload.ReceiverID, payload.Content)
	if errors.Is(err, message.ErrInvalidMessage) {
		return err
	}
	if err != nil {
		a.log.Error("socket send failed", "user_id", from.GetUserID(), "receiver_id", payload.ReceiverID, "error", err)
		return errors.New("failed to send message")
	}
	return nil
}

func (a *App) Handler() http.Handler {
	return a.engine
}

func (a *App) Hub() *websocket.Hub {
	return a.hub
}

func (a *App) Issuer() *auth.TokenIssuer {
	return a.issuer
}

// Run serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	return api.Serve(ctx, api.ServerOptions{
		Addr:     a.cfg.Addr,
		CertFile: a.cfg.TLSCert,
		KeyFile:  a.cfg.TLSKey,
	}, a.engine, a.log)
}

// Close disconnects sockets and releases the stores.
func (a *App) Close() error {
	var errs []error
	if a.hub != nil {
		a.hub.Shutdown()
	}
	if a.relay != nil {
		errs = append(errs, a.relay.Close())
	}
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
