package controller

import (
	"context"
	"net/http"

	"wbuoj/internal/judge/hub"
	"wbuoj/internal/judge/model"
	"wbuoj/internal/judge/protocol"
	"wbuoj/internal/judge/session"
	appErr "wbuoj/pkg/errors"
	"wbuoj/pkg/utils/contextkey"
	"wbuoj/pkg/utils/logger"
	"wbuoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSController upgrades authenticated worker daemons onto the judge socket.
type WSController struct {
	hub         *hub.Hub
	sink        hub.ResultSink
	sessions    *session.Store
	workerToken string
	upgrader    websocket.Upgrader
}

// NewWSController creates a WSController. workerToken is the static bearer
// token accepted alongside session tokens; empty disables it.
func NewWSController(h *hub.Hub, sink hub.ResultSink, sessions *session.Store, workerToken string) *WSController {
	return &WSController{
		hub:         h,
		sink:        sink,
		sessions:    sessions,
		workerToken: workerToken,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Workers are daemons, not browsers; origin checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Connect authenticates the caller, upgrades the connection and runs it
// until the transport closes. The language descriptor table is pushed as the
// first frame so the worker can validate its toolchains before any task
// arrives.
func (h *WSController) Connect(c *gin.Context) {
	principal, ok := h.authenticate(c)
	if !ok {
		response.AbortWithErrorCode(c, appErr.WorkerUnauthorized, "")
		return
	}

	workerID := c.Query("worker_id")
	if workerID == "" {
		workerID = principal + "-" + uuid.NewString()[:8]
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.Warn(c.Request.Context(), "websocket upgrade failed",
			zap.String("worker_id", workerID), zap.Error(err))
		return
	}

	ctx := context.WithValue(c.Request.Context(), contextkey.WorkerID, workerID)

	worker := hub.NewWorker(workerID, conn)
	h.hub.Register(worker)

	langs, err := protocol.EncodeEnvelope(model.MessageTypeLanguages, model.LanguagesMessage{
		Languages: protocol.WireLanguages(),
	})
	if err != nil {
		logger.Error(ctx, "language table encode failed", zap.Error(err))
		conn.Close()
		h.hub.Unregister(ctx, worker)
		return
	}
	if err := worker.Send(langs); err != nil {
		logger.Error(ctx, "language table push failed", zap.Error(err))
		conn.Close()
		h.hub.Unregister(ctx, worker)
		return
	}

	h.hub.Serve(ctx, worker, h.sink)
}

// authenticate accepts, in order, the static worker token as a bearer, a
// session token as a bearer, or a session cookie.
func (h *WSController) authenticate(c *gin.Context) (string, bool) {
	token := sessionToken(c)
	if token == "" {
		return "", false
	}
	if h.workerToken != "" && token == h.workerToken {
		return "worker", true
	}
	if principal, ok := h.sessions.Verify(token); ok {
		return principal, true
	}
	return "", false
}
