package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"stibot/internal/flow"
)

func newRouter(engine *flow.Engine) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("/api/greeting", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		turn, err := engine.Greeting(r.Context())
		if err != nil {
			log.Printf("greeting: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not start a session"})
			return
		}
		writeJSON(w, http.StatusOK, turn)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req flow.TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
			return
		}
		if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.ButtonID) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "text or buttonId is required"})
			return
		}
		turn, err := engine.Handle(r.Context(), req)
		if err != nil {
			if errors.Is(err, flow.ErrUnknownConversation) {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session"})
				return
			}
			log.Printf("chat %s: %v", req.ConversationID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not process the turn"})
			return
		}
		writeJSON(w, http.StatusOK, turn)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Simple CORS middleware
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
