package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Schlossparktheater-Altrossthal/realtime/internal/authz"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/bridge"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/broadcast"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/metrics"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/server/middleware"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/session"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/config"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/state"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/state/statemanager"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

type App struct {
	logger      *slog.Logger
	state       state.Manager
	sessions    *session.Manager
	broadcaster *broadcast.Broadcaster
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

// NewApp wires the whole service. The membership store is injected so the
// authorization layer can be backed by the real membership database in
// production and by fixtures in tests.
func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, store authz.MembershipStore) *App {
	m := metrics.New()
	stateManager := statemanager.NewInMemoryManager(logger)
	resolver := authz.NewResolver(logger, store, m)
	broadcaster := broadcast.New(logger, stateManager, m)
	sessions := session.NewManager(logger, stateManager, resolver, broadcaster, m)

	app := &App{
		logger:      logger,
		state:       stateManager,
		sessions:    sessions,
		broadcaster: broadcaster,
		config:      cfg,
		ctx:         rootCtx,
	}

	// Close the oldest connection of a user who is over the limit in
	// "cycle" mode.
	connCycler := func(userID string) {
		oldest, found := stateManager.FindOldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest",
				slog.String("userID", userID),
				slog.String("connID", oldest.ID.String()),
			)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, cfg.Handshake.Secret, cfg.Server.Auth.LegacySessionSecret),
			middleware.NewConnectionLimiter(
				logger,
				stateManager.GetUserConnectionCount,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	mux.Handle(cfg.Bridge.EventPath,
		middleware.Chain(bridge.NewHandler(logger, cfg.Bridge.Token, broadcaster, m),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewRateLimiter(logger, cfg.Bridge.RatePerSecond, cfg.Bridge.Burst),
		),
	)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

// Broadcaster exposes the typed fan-out API for in-process callers.
func (a *App) Broadcaster() *broadcast.Broadcaster {
	return a.broadcaster
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)

	if _, err := a.sessions.Admit(conn, reqMeta.IP, reqMeta.UserID, reqMeta.UserName, reqMeta.Verified); err != nil {
		connLogger.Error("Failed to admit connection", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetOnMessageHandler(a.sessions.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, cause error) {
		a.sessions.HandleDisconnect(id, cause)
	})

	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, user := range a.state.GetAllUsers() {
		for _, conn := range user.Connections {
			conn.Transport.Close(errors.New("graceful shutdown"))
		}
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
