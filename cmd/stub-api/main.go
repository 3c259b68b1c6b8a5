// Command stub-api fakes every external service the pipeline calls, so a
// full campaign can run offline. Point the base URLs at it:
//
//	hunter.base_url:  http://localhost:8091/hunter
//	resend.base_url:  http://localhost:8091/resend
//	notion.base_url:  http://localhost:8091/notion
//	openai.base_url:  http://localhost:8091/openai
//
// Responses are hardcoded. The notion fake accepts writes and forgets
// them; queries always come back empty.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

var pageSeq atomic.Int64

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  WARNING: This is a STUB API for local testing ONLY.       ║")
	log.Println("║  All responses are HARDCODED placeholders.                 ║")
	log.Println("║                                                            ║")
	log.Println("║  Point hunter/resend/notion/openai base_url settings at    ║")
	log.Println("║  this server to run campaigns offline.                    ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")
	log.Println("")
	log.Println("Starting ProspectAI STUB API (hardcoded responses)...")

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"status":  "healthy",
			"service": "prospectai-stub-api",
			"warning": "THIS IS A STUB - responses are hardcoded",
		})
	})

	registerHunter(mux)
	registerResend(mux)
	registerNotion(mux)
	registerOpenAI(mux)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8091"
	}

	server := &http.Server{
		Addr:              "127.0.0.1:" + port,
		Handler:           stubMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Stub listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down stub...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Stub stopped")
}

// registerHunter fakes the email-finder API. The address is derived from
// the query so different prospects still get distinct emails.
func registerHunter(mux *http.ServeMux) {
	mux.HandleFunc("GET /hunter/email-finder", func(w http.ResponseWriter, r *http.Request) {
		domain := r.URL.Query().Get("domain")
		fullName := r.URL.Query().Get("full_name")
		if domain == "" || fullName == "" {
			http.Error(w, `{"errors":[{"details":"missing domain or full_name"}]}`, http.StatusBadRequest)
			return
		}
		local := strings.Join(strings.Fields(strings.ToLower(fullName)), ".")
		writeJSON(w, map[string]any{
			"data": map[string]any{
				"email": local + "@" + domain,
				"score": 85,
			},
		})
	})

	mux.HandleFunc("GET /hunter/email-verifier", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data": map[string]any{"status": "deliverable", "score": 92},
		})
	})

	mux.HandleFunc("GET /hunter/account", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data": map[string]any{
				"plan_name": "stub",
				"requests": map[string]any{
					"searches":      map[string]int{"used": 3, "available": 500},
					"verifications": map[string]int{"used": 0, "available": 500},
				},
			},
		})
	})
}

// registerResend fakes the delivery API. Every send is accepted and every
// tracked message reports delivered.
func registerResend(mux *http.ServeMux) {
	mux.HandleFunc("POST /resend/emails", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"id": fmt.Sprintf("stub-email-%d", pageSeq.Add(1)),
		})
	})

	mux.HandleFunc("GET /resend/emails/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id":         r.PathValue("id"),
			"to":         []string{"dev@example.com"},
			"last_event": "delivered",
		})
	})
}

// registerNotion fakes the document database: writes are acknowledged with
// fresh page ids and immediately forgotten, queries return nothing. Good
// enough for a pipeline pass; nothing dedupes and nothing persists.
func registerNotion(mux *http.ServeMux) {
	mux.HandleFunc("GET /notion/users/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"id": "stub-bot", "object": "user", "name": "prospectai-stub"})
	})

	mux.HandleFunc("POST /notion/pages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id":         fmt.Sprintf("stub-page-%d", pageSeq.Add(1)),
			"object":     "page",
			"properties": map[string]any{},
		})
	})

	mux.HandleFunc("PATCH /notion/pages/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": r.PathValue("id"), "object": "page"})
	})

	mux.HandleFunc("GET /notion/pages/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id":         r.PathValue("id"),
			"object":     "page",
			"properties": map[string]any{},
		})
	})

	mux.HandleFunc("POST /notion/databases/{id}/query", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"results":  []any{},
			"has_more": false,
		})
	})
}

// stubCompletion is the one answer the chat endpoint ever gives. It
// carries the union of the fields the profile, product, and email parsers
// look for, so any of the three stages can digest it.
const stubCompletion = `{
  "name": "Stub Person",
  "current_role": "Founder",
  "skills": ["Go", "Distributed Systems"],
  "summary": "Hardcoded profile from the stub API.",
  "category": "Developer Tools",
  "description": "Hardcoded product analysis from the stub API.",
  "features": ["offline development"],
  "subject": "Quick note from the stub",
  "body": "This draft is hardcoded by the local stub API. Configure real credentials to generate outreach.",
  "personalization_score": 0.5
}`

// registerOpenAI fakes the two OpenAI endpoints the pipeline touches:
// model listing (connection probe) and chat completion.
func registerOpenAI(mux *http.ServeMux) {
	mux.HandleFunc("GET /openai/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "stub-model", "object": "model", "owned_by": "stub"},
			},
		})
	})

	mux.HandleFunc("POST /openai/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id":      fmt.Sprintf("stub-cmpl-%d", pageSeq.Add(1)),
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "stub-model",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": stubCompletion,
					},
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     1,
				"completion_tokens": 1,
				"total_tokens":      2,
			},
		})
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

func stubMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Server-Identity", "prospectai-stub-api")
		w.Header().Set("X-Server-Warning", "STUB - hardcoded responses only")
		next.ServeHTTP(w, r)
	})
}
