package websocket

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard origin is configured by the embedding process; allow all by
	// default and let SetCheckOrigin narrow it.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades GET /ws/executions/{id} into a Hub-registered Client,
// grounded on the teacher's Handler, adapted to parse the execution id out
// of the URL path instead of carrying a user-scoped subscription set.
type Handler struct {
	hub       *Hub
	auth      Authenticator
	canceller Canceller
	log       zerolog.Logger
}

func NewHandler(hub *Hub, auth Authenticator, canceller Canceller, log zerolog.Logger) *Handler {
	return &Handler{hub: hub, auth: auth, canceller: canceller, log: log}
}

// ServeHTTP expects to be mounted such that the final path segment is the
// execution id, e.g. "/ws/executions/" stripped by the caller's router.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, err := h.auth.Authenticate(r)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket authentication failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	executionID, err := parseExecutionID(r.URL.Path)
	if err != nil {
		http.Error(w, "invalid execution id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.NewString()
	client := NewClient(clientID, executionID, h.hub, conn, h.canceller)
	h.log.Info().Str("client_id", clientID).Int64("execution_id", executionID).Msg("websocket client connected")
	client.Register()
}

func parseExecutionID(path string) (int64, error) {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	return strconv.ParseInt(path[idx+1:], 10, 64)
}

// SetCheckOrigin lets the embedding process narrow the upgrader's CORS check.
func SetCheckOrigin(f func(r *http.Request) bool) {
	upgrader.CheckOrigin = f
}

func SetBufferSizes(readSize, writeSize int) {
	upgrader.ReadBufferSize = readSize
	upgrader.WriteBufferSize = writeSize
}
