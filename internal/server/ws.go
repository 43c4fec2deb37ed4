// ABOUTME: WebSocket handlers streaming battle-list updates and per-battle logs
// ABOUTME: Log streams replay persisted history before switching to live events

package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/agentarena/arena/internal/broadcast"
	"github.com/agentarena/arena/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleBattleListWS handles GET /ws/battles. The client receives a full
// snapshot on connect, then deltas as battles change state.
func (s *Server) handleBattleListWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(conn, cancel)

	ch, subID := s.broadcaster.SubscribeList(ctx)
	defer s.broadcaster.UnsubscribeList(subID)

	battles, err := s.store.ListBattles(ctx)
	if err != nil {
		s.logger.Error("listing battles for snapshot", "error", err)
		return
	}
	if battles == nil {
		battles = []*store.Battle{}
	}
	if err := conn.WriteJSON(&broadcast.ListMessage{Type: broadcast.ListSnapshot, Battles: battles}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// handleBattleLogsWS handles GET /ws/battles/{id}/logs. Persisted events are
// replayed in append order before the stream switches to live delivery, so a
// late subscriber sees the complete history exactly once.
func (s *Server) handleBattleLogsWS(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/ws/battles/")
	battleID, sub, _ := strings.Cut(rest, "/")
	if battleID == "" || sub != "logs" {
		http.NotFound(w, r)
		return
	}

	if _, err := s.store.GetBattle(r.Context(), battleID); err != nil {
		s.sendBattleError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(conn, cancel)

	// Subscribe before replaying so no event falls between history and live.
	ch, subID := s.broadcaster.SubscribeLogs(ctx, battleID)
	defer s.broadcaster.UnsubscribeLogs(battleID, subID)

	history, err := s.store.ListEvents(ctx, battleID)
	if err != nil {
		s.logger.Error("listing events for replay", "battle_id", battleID, "error", err)
		return
	}

	replayed := make(map[string]bool, len(history))
	for _, ev := range history {
		replayed[ev.ID] = true
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			// Events published between subscribe and replay arrive on both
			// paths; the replay copy wins.
			if replayed[ev.ID] {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// discardReads consumes client frames so pings are answered, canceling the
// stream when the peer closes.
func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
