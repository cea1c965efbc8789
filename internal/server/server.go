package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/provider/ai"
	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/provider/judge0"
	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/relay"
	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/router"
	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/server/middleware"
	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/config"
	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/state"
	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/state/statemanager"
	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	eventRouter  *router.EventRouter
	relay        *relay.Relay
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	stateManager := statemanager.NewInMemoryManager(logger)
	eventRouter := router.NewEventRouter(logger, stateManager)

	execProvider := judge0.NewClient(judge0.Config(cfg.Judge0), logger)
	aiProvider := ai.NewClient(ai.Config(cfg.AI), logger)
	requestRelay := relay.New(logger, stateManager, execProvider, aiProvider, eventRouter)
	eventRouter.SetRelay(requestRelay)

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		eventRouter:  eventRouter,
		relay:        requestRelay,
		config:       cfg,
		ctx:          rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	// Create a cycler that closes over the stateManager and logger.
	connCycler := func(ip string) {
		oldest, found := stateManager.FindOldestConnectionForIP(ip)
		if found {
			logger.Info("Cycling connection: closing oldest", "ip", ip, "connID", oldest.ID)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				logger,
				stateManager.CountConnectionsForIP,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
		),
	)
	mux.Handle("/api/run-code",
		middleware.Chain(http.HandlerFunc(app.runCodeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewCORS(app.config.Server.AllowedOrigins),
		),
	)

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Handler exposes the HTTP handler, primarily for tests running against an
// httptest server.
func (a *App) Handler() http.Handler {
	return a.http.Handler
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
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	acceptOpts := &websocket.AcceptOptions{
		OriginPatterns: a.config.Server.AllowedOrigins,
	}
	if len(a.config.Server.AllowedOrigins) == 0 {
		acceptOpts.InsecureSkipVerify = true
	}
	wsConn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	// register new connection
	if _, err := a.stateManager.RegisterConnection(conn, reqMeta.IP); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Cleaning up connection due to closure", slog.String("connID", id.String()))
		a.eventRouter.HandleDisconnect(id, err)
	})

	connLogger.Info("Connection fully established", slog.String("connID", conn.ID().String()))
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
	for _, conn := range a.stateManager.GetAllConnections() {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
