package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"bkonline.net/internal/lobby"
	"bkonline.net/internal/persistence"
)

type lobbyLister interface {
	List() []string
	Lobby(id string) (*lobby.Lobby, bool)
}

// adminMux serves local-only inspection endpoints.
func adminMux(lobbies lobbyLister, pers *persistence.Persister, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	local := func(h http.HandlerFunc) http.HandlerFunc {
		return func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			h(rw, r)
		}
	}

	mux.HandleFunc("GET /admin/v1/lobbies", local(func(rw http.ResponseWriter, r *http.Request) {
		out := []lobby.Info{}
		for _, id := range lobbies.List() {
			l, ok := lobbies.Lobby(id)
			if !ok {
				continue
			}
			in, err := lobbyInfo(r.Context(), l, false)
			if err != nil {
				continue
			}
			out = append(out, in)
		}
		writeJSON(rw, http.StatusOK, out)
	}))

	mux.HandleFunc("GET /admin/v1/lobbies/{id}", local(func(rw http.ResponseWriter, r *http.Request) {
		l, ok := lobbies.Lobby(r.PathValue("id"))
		if !ok {
			writeJSON(rw, http.StatusNotFound, map[string]any{"error": "no such lobby"})
			return
		}
		in, err := lobbyInfo(r.Context(), l, true)
		if err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, in)
	}))

	mux.HandleFunc("GET /admin/v1/index/lobbies", local(func(rw http.ResponseWriter, r *http.Request) {
		idx := pers.Index()
		if idx == nil {
			writeJSON(rw, http.StatusNotFound, map[string]any{"error": "index disabled"})
			return
		}
		rows, err := idx.Lobbies(r.Context())
		if err != nil {
			logger.Warn("index query", zap.Error(err))
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, rows)
	}))

	mux.HandleFunc("GET /admin/v1/index/lobbies/{id}/updates", local(func(rw http.ResponseWriter, r *http.Request) {
		idx := pers.Index()
		if idx == nil {
			writeJSON(rw, http.StatusNotFound, map[string]any{"error": "index disabled"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 100
		}
		rows, err := idx.Updates(r.Context(), r.PathValue("id"), limit)
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, rows)
	}))

	mux.HandleFunc("GET /metrics", local(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		ids := lobbies.List()

		fmt.Fprintf(rw, "# HELP bkonline_lobbies Running lobbies.\n")
		fmt.Fprintf(rw, "# TYPE bkonline_lobbies gauge\n")
		fmt.Fprintf(rw, "bkonline_lobbies %d\n", len(ids))

		fmt.Fprintf(rw, "# HELP bkonline_lobby_peers Connected peers per lobby.\n")
		fmt.Fprintf(rw, "# TYPE bkonline_lobby_peers gauge\n")
		for _, id := range ids {
			l, ok := lobbies.Lobby(id)
			if !ok {
				continue
			}
			in, err := lobbyInfo(r.Context(), l, false)
			if err != nil {
				continue
			}
			fmt.Fprintf(rw, "bkonline_lobby_peers{lobby=%q} %d\n", id, len(in.Peers))
		}

		if idx := pers.Index(); idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "# HELP bkonline_index_queue_depth Index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE bkonline_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "bkonline_index_queue_depth %d\n", st.QueueDepth)
			fmt.Fprintf(rw, "# HELP bkonline_index_dropped_total Index writes dropped because the queue was full.\n")
			fmt.Fprintf(rw, "# TYPE bkonline_index_dropped_total counter\n")
			fmt.Fprintf(rw, "bkonline_index_dropped_total{kind=%q} %d\n", "update", st.DropUpdateTotal)
			fmt.Fprintf(rw, "bkonline_index_dropped_total{kind=%q} %d\n", "snapshot", st.DropSnapshotTotal)
		}

		if m := pers.Mirror(); m != nil {
			st := m.Stats()
			fmt.Fprintf(rw, "# HELP bkonline_mirror_uploads_total Snapshot uploads by result.\n")
			fmt.Fprintf(rw, "# TYPE bkonline_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "bkonline_mirror_uploads_total{result=%q} %d\n", "ok", st.Uploaded)
			fmt.Fprintf(rw, "bkonline_mirror_uploads_total{result=%q} %d\n", "failed", st.Failed)
			fmt.Fprintf(rw, "bkonline_mirror_uploads_total{result=%q} %d\n", "dropped", st.Dropped)
		}
	}))
	return mux
}

func lobbyInfo(ctx context.Context, l *lobby.Lobby, withStore bool) (lobby.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	in, err := l.Info(ctx, withStore)
	if errors.Is(err, lobby.ErrClosed) {
		return in, fmt.Errorf("lobby %s closed", l.ID())
	}
	return in, err
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
