package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// commandSocketHandler upgrades to a WebSocket that carries one JSON command
// per text frame and answers each with exactly one text frame.
func commandSocketHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("command socket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ctx := r.Context()
		slog.Info("command socket opened", "remote", r.RemoteAddr)
		for {
			data, op, err := wsutil.ReadClientData(conn)
			if err != nil {
				slog.Info("command socket closed", "remote", r.RemoteAddr, "reason", err)
				return
			}
			if op != ws.OpText {
				continue
			}
			out, err := json.Marshal(svc.DispatchRaw(ctx, data))
			if err != nil {
				slog.Warn("command response encode failed", "error", err)
				return
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpText, out); err != nil {
				slog.Debug("command socket write failed", "error", err)
				return
			}
		}
	}
}
