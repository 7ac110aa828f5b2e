package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/history-deck/internal/history"
)

type wsClientMessage struct {
	Type          string `json:"type"` // search, cancel, ping
	Query         string `json:"query,omitempty"`
	Scope         string `json:"scope,omitempty"`
	Project       string `json:"project,omitempty"`
	MaxResults    int    `json:"maxResults,omitempty"`
	CaseSensitive bool   `json:"caseSensitive,omitempty"`
}

type wsServerMessage struct {
	Type      string                 `json:"type"` // status, progress, result, done, error
	Event     string                 `json:"event,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Query     string                 `json:"query,omitempty"`
	Scanned   int                    `json:"scanned,omitempty"`
	Total     int                    `json:"total,omitempty"`
	TotalHits int                    `json:"totalHits,omitempty"`
	Sessions  []*history.SessionHits `json:"sessions,omitempty"`
	Time      time.Time              `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes so the search goroutine and the reader loop
// never interleave frames.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

// handleSearchWS runs searches requested over a websocket, streaming progress
// frames while scanning. A cancel frame or the connection closing cancels the
// in-flight search. A new search frame supersedes the previous one.
func (s *Server) handleSearchWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writer := newWSConnWriter(conn)
	_ = writer.WriteJSON(wsServerMessage{
		Type:  "status",
		Event: "connected",
		Time:  time.Now().UTC(),
	})

	// Only the reader loop touches cancelSearch, so no lock is needed
	var cancelSearch context.CancelFunc
	defer func() {
		if cancelSearch != nil {
			cancelSearch()
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				webLog.Warn("websocket_closed_unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "INVALID_MESSAGE",
				Message: "invalid json payload",
				Time:    time.Now().UTC(),
			})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{
				Type:  "status",
				Event: "pong",
				Time:  time.Now().UTC(),
			})

		case "cancel":
			if cancelSearch != nil {
				cancelSearch()
				cancelSearch = nil
			}
			_ = writer.WriteJSON(wsServerMessage{
				Type:  "status",
				Event: "cancelled",
				Time:  time.Now().UTC(),
			})

		case "search":
			query := strings.TrimSpace(msg.Query)
			if query == "" {
				_ = writer.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "INVALID_REQUEST",
					Message: "query is required",
					Time:    time.Now().UTC(),
				})
				continue
			}
			scope, err := history.ParseScope(msg.Scope)
			if err != nil {
				_ = writer.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "INVALID_REQUEST",
					Message: err.Error(),
					Time:    time.Now().UTC(),
				})
				continue
			}

			if cancelSearch != nil {
				cancelSearch()
			}
			ctx, cancel := context.WithCancel(s.baseCtx)
			cancelSearch = cancel

			go s.runStreamingSearch(ctx, writer, query, scope, msg)

		default:
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "UNSUPPORTED_MESSAGE",
				Message: "supported message types: search,cancel,ping",
				Time:    time.Now().UTC(),
			})
		}
	}
}

func (s *Server) runStreamingSearch(ctx context.Context, writer *wsConnWriter, query string, scope history.DateScope, msg wsClientMessage) {
	idx, err := s.provider.Refresh(ctx, false)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "INTERNAL_ERROR",
				Message: "failed to build index",
				Query:   query,
				Time:    time.Now().UTC(),
			})
		}
		return
	}

	candidates := history.FilterCandidates(idx.Sessions, scope, msg.Project)
	opts := history.SearchOptions{
		MaxResults:    msg.MaxResults,
		CaseSensitive: msg.CaseSensitive,
	}

	res, err := history.Search(ctx, candidates, query, scope, opts,
		func(scanned, total int) {
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "progress",
				Query:   query,
				Scanned: scanned,
				Total:   total,
			})
		})
	if err != nil {
		// A superseded or cancelled search ends silently; the reader loop
		// already told the client about explicit cancels
		if !errors.Is(err, context.Canceled) {
			_ = writer.WriteJSON(wsServerMessage{
				Type:    "error",
				Code:    "INTERNAL_ERROR",
				Message: "search failed",
				Query:   query,
				Time:    time.Now().UTC(),
			})
		}
		return
	}

	_ = writer.WriteJSON(wsServerMessage{
		Type:      "result",
		Query:     res.Query,
		Scanned:   res.Scanned,
		TotalHits: res.TotalHits,
		Sessions:  res.PerSession,
	})
	_ = writer.WriteJSON(wsServerMessage{
		Type:  "done",
		Query: query,
		Time:  time.Now().UTC(),
	})
}
