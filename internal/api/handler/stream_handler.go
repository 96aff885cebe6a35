package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dispatchlab/dispatch/internal/api/dto"
	"github.com/dispatchlab/dispatch/internal/notify"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// jobUpdateFrame is the wire shape pushed to WebSocket clients.
type jobUpdateFrame struct {
	Type      string `json:"type"`
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updatedAt"`
}

// StreamJobUpdates handles GET /ws?user_id=...
//
// Upgrades the connection and forwards the user's job updates as they arrive
// from the store's change notifications.
func (h *JobHandler) StreamJobUpdates(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Message: "user_id query parameter is required.",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	sub := h.hub.Subscribe(userID)

	h.logger.Info("WebSocket subscriber connected",
		slog.String("user_id", userID),
	)

	// Read pump: clients never send data frames; this only detects close.
	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go h.writeUpdates(conn, sub, userID)
}

func (h *JobHandler) writeUpdates(conn *websocket.Conn, sub *notify.Subscription, userID string) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
		h.logger.Info("WebSocket subscriber disconnected",
			slog.String("user_id", userID),
		)
	}()

	for {
		select {
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}

			frame := jobUpdateFrame{
				Type:      "job_update",
				JobID:     u.JobID,
				Status:    u.Status,
				UpdatedAt: u.UpdatedAt.UTC().Format(timeFormat),
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				h.logger.Debug("Failed to write job update to WebSocket",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
