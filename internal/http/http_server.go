package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

type sessionKey struct{}

// hasSession reports whether the request carried a valid session token
func hasSession(ctx context.Context) bool {
	ok, _ := ctx.Value(sessionKey{}).(bool)
	return ok
}

type HTTPServer struct {
	services *Services
	sessions *Sessions
	handlers map[RequestType]route
	upgrader websocket.Upgrader
	engine   *gin.Engine
	logger   *log.Entry
}

func NewHTTPServer(services *Services, sessions *Sessions) *HTTPServer {
	hs := &HTTPServer{
		services: services,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the UI is served from a local origin that differs from the API port
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.WithFields(log.Fields{
			"module": "http",
		}),
	}
	hs.handlers = hs.routes()

	r := gin.Default()
	r.GET("/api/v1/helloworld", handleHelloWorld)
	r.POST("/api/v1/request", hs.handleRequest)
	r.GET("/api/v1/notifications", hs.handleNotifications)
	hs.engine = r
	return hs
}

// Handler exposes the router, used by tests
func (hs *HTTPServer) Handler() http.Handler {
	return hs.engine
}

// Start serves until ctx is done, then shuts down gracefully
func (hs *HTTPServer) Start(ctx context.Context) {
	addr := ":" + config.AppConfig.HTTPPort
	srv := &http.Server{
		Addr:              addr,
		Handler:           hs.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			hs.logger.Errorf("HTTP server shutdown error: %v", err)
		}
	}()

	hs.logger.Infof("HTTP server is running on port %s", config.AppConfig.HTTPPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		hs.logger.Fatalf("Failed to start HTTP server: %v", err)
	}
	hs.logger.Info("HTTP server stopped")
}

func (hs *HTTPServer) handleRequest(c *gin.Context) {
	var req RequestEnvelope
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ResponseEnvelope{Type: RESPONSE_TYPE_ERROR, Error: errInvalidPayload.Message})
		return
	}
	rt, ok := hs.handlers[req.Type]
	if !ok {
		c.JSON(http.StatusBadRequest, ResponseEnvelope{Type: RESPONSE_TYPE_ERROR, Error: "Unknown request type"})
		return
	}
	ctx := c.Request.Context()
	if err := hs.sessions.Verify(bearerToken(c.GetHeader(AUTHORIZATION_HEADER))); err == nil {
		ctx = context.WithValue(ctx, sessionKey{}, true)
	} else if !rt.public {
		c.JSON(http.StatusUnauthorized, ResponseEnvelope{Type: RESPONSE_TYPE_ERROR, Error: "Unauthorized"})
		return
	}

	payload, err := rt.handle(ctx, req.Payload)
	if err != nil {
		hs.logger.Debugf("Request %s failed: %v", req.Type, err)
		c.JSON(http.StatusOK, ResponseEnvelope{Type: RESPONSE_TYPE_ERROR, Error: publicError(err).Message})
		return
	}
	c.JSON(http.StatusOK, ResponseEnvelope{Type: string(req.Type) + "Response", Payload: payload})
}

func handleHelloWorld(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": "hello world."})
}
