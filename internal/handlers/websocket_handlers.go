package handlers

import (
	"log"
	"net/http"

	gorillaws "github.com/gorilla/websocket"

	"github.com/taiidzy/ren/internal/auth"
	"github.com/taiidzy/ren/internal/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced at the HTTP layer; the upgrade itself
		// is gated by the token below.
		return true
	},
}

// WebSocketHandler authenticates the upgrade request (token in query or
// header) and hands the connection to the hub.
func WebSocketHandler(hub *websocket.Hub, authService *auth.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			if header := r.Header.Get("Authorization"); len(header) > 7 && header[:7] == "Bearer " {
				token = header[7:]
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[WS] upgrade failed for user %d: %v", claims.UserID, err)
			return
		}

		client := websocket.NewClient(hub, conn, claims.UserID)
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()
	}
}
