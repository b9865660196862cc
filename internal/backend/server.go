// Package backend is a development Agent Backend. It answers POST /chat with
// the JSON contract the conversation client expects.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/joescharf/cloudvoice/internal/llm"
	"github.com/joescharf/cloudvoice/internal/tools"
)

// Searcher answers knowledge-base questions.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type chatRequest struct {
	Prompt   string `json:"prompt"`
	Approved bool   `json:"approved"`
}

type chatData struct {
	Instance  string `json:"instance"`
	Hours     int    `json:"hours"`
	Footprint string `json:"footprint"`
}

type pendingAction struct {
	Action   string `json:"action"`
	Instance string `json:"instance"`
	Hours    int    `json:"hours"`
}

type chatResponse struct {
	Response         string         `json:"response"`
	Data             *chatData      `json:"data,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	PendingAction    *pendingAction `json:"pending_action,omitempty"`
	ToolUsed         string         `json:"tool_used,omitempty"`
}

var confirmPattern = regexp.MustCompile(`(?i)^\s*confirm\s+(\S+)\s*$`)

// Server provides the chat handlers.
type Server struct {
	classifier    Classifier
	kb            Searcher
	logger        *slog.Logger
	allowedOrigin string

	mu      sync.Mutex
	pending map[string]int // instance -> hours awaiting confirmation
}

// NewServer creates a backend. kb may be nil; logger defaults to slog.Default().
func NewServer(classifier Classifier, kb Searcher, logger *slog.Logger, allowedOrigin string) *Server {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		classifier:    classifier,
		kb:            kb,
		logger:        logger,
		allowedOrigin: allowedOrigin,
		pending:       make(map[string]int),
	}
}

// Router returns an http.Handler for the backend routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.chat)
	mux.HandleFunc("GET /healthz", s.healthz)

	return s.corsMiddleware(s.requestLogger(mux))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := s.allowedOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		if origin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	resp, err := s.answer(r.Context(), req)
	if err != nil {
		s.logger.Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) answer(ctx context.Context, req chatRequest) (*chatResponse, error) {
	if m := confirmPattern.FindStringSubmatch(req.Prompt); m != nil && req.Approved {
		instance := tools.NormalizeInstance(m[1])
		return s.deploy(instance, s.takePending(instance))
	}

	intent, err := s.classifier.ClassifyIntent(ctx, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("classify prompt: %w", err)
	}
	fillDefaults(intent, req.Prompt)
	s.logger.Debug("intent", "tool", intent.Tool, "instance", intent.Instance, "hours", intent.Hours)

	switch intent.Tool {
	case tools.ToolDeployInstance:
		if tools.RequiresApproval(intent.Instance) && !req.Approved {
			return s.requestApproval(intent)
		}
		return s.deploy(intent.Instance, intent.Hours)
	case tools.ToolCarbonFootprint:
		return s.footprint(intent)
	case tools.ToolSearchKnowledge:
		query := intent.Query
		if query == "" {
			query = req.Prompt
		}
		return s.search(ctx, query), nil
	default:
		return nil, fmt.Errorf("unsupported tool %q", intent.Tool)
	}
}

func (s *Server) footprint(intent *llm.Intent) (*chatResponse, error) {
	fp, err := tools.CalculateFootprint(intent.Instance, intent.Hours)
	if err != nil {
		return nil, err
	}
	return &chatResponse{
		Response: fmt.Sprintf("I checked the MCP tool. For %s over %d hours, the carbon footprint is %s.",
			fp.Instance, fp.Hours, fp),
		ToolUsed: tools.ToolCarbonFootprint,
		Data:     &chatData{Instance: fp.Instance, Hours: fp.Hours, Footprint: fp.String()},
	}, nil
}

func (s *Server) requestApproval(intent *llm.Intent) (*chatResponse, error) {
	fp, err := tools.CalculateFootprint(intent.Instance, intent.Hours)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pending[fp.Instance] = fp.Hours
	s.mu.Unlock()

	return &chatResponse{
		Response: fmt.Sprintf("Deploying %s is a high-performance action with an estimated footprint of %s. Approval is required.",
			fp.Instance, fp),
		ToolUsed:         tools.ToolDeployInstance,
		Data:             &chatData{Instance: fp.Instance, Hours: fp.Hours, Footprint: fp.String()},
		RequiresApproval: true,
		PendingAction: &pendingAction{
			Action:   tools.ToolDeployInstance,
			Instance: fp.Instance,
			Hours:    fp.Hours,
		},
	}, nil
}

func (s *Server) takePending(instance string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	hours, ok := s.pending[instance]
	if !ok {
		return DefaultHours
	}
	delete(s.pending, instance)
	return hours
}

func (s *Server) deploy(instance string, hours int) (*chatResponse, error) {
	d, err := tools.Deploy(instance, hours)
	if err != nil {
		return nil, err
	}
	fp, err := tools.CalculateFootprint(d.Instance, d.Hours)
	if err != nil {
		return nil, err
	}
	s.logger.Info("deployment initiated", "instance", d.Instance, "hours", d.Hours)

	return &chatResponse{
		Response: fmt.Sprintf("%s: %s is being deployed for %d hours (estimated %s).",
			d.Status, d.Instance, d.Hours, fp),
		ToolUsed: tools.ToolDeployInstance,
		Data:     &chatData{Instance: d.Instance, Hours: d.Hours, Footprint: fp.String()},
	}, nil
}

func (s *Server) search(ctx context.Context, query string) *chatResponse {
	resp := &chatResponse{ToolUsed: tools.ToolSearchKnowledge}
	if s.kb == nil {
		resp.Response = "The knowledge base is not available right now."
		return resp
	}

	doc, err := s.kb.Search(ctx, query)
	switch {
	case err != nil:
		s.logger.Warn("knowledge search failed", "error", err)
		resp.Response = "I could not search the knowledge base for that."
	case doc == "":
		resp.Response = "I could not find anything relevant in the knowledge base."
	default:
		resp.Response = doc
	}
	return resp
}
