package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ezifydevelopers/trainingportal-chat/internal/api/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement happens in the CORS layer; the upgrade itself is
	// guarded by the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an authenticated request into a push-channel connection
// and hands it to the hub. Blocks until the connection drops.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("websocket upgrade failed")
		return
	}

	h.hub.Attach(user.ID, conn)
}
