package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/randalmurphal/whatif/internal/engine"
	"github.com/randalmurphal/whatif/internal/errors"
	"github.com/randalmurphal/whatif/internal/events"
	"github.com/randalmurphal/whatif/internal/gate"
	"github.com/randalmurphal/whatif/internal/scenario"
)

// Server serves the JSON API and the websocket event stream.
type Server struct {
	store  *scenario.Store
	engine *engine.Engine
	gate   *gate.Gate
	pub    events.Publisher
	logger *slog.Logger

	httpServer *http.Server
}

// NewServer creates an API server. logger may be nil.
func NewServer(store *scenario.Store, eng *engine.Engine, g *gate.Gate, pub events.Publisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, engine: eng, gate: g, pub: pub, logger: logger}
}

// Routes returns the server's handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/requests", s.handleRequest)
	mux.HandleFunc("GET /api/scenarios", s.handleListScenarios)
	mux.HandleFunc("POST /api/scenarios", s.handleCreateScenario)
	mux.HandleFunc("DELETE /api/scenarios/{id}", s.handleDeleteScenario)
	mux.HandleFunc("GET /api/approvals", s.handleListApprovals)
	mux.HandleFunc("POST /api/approvals/{id}/resolve", s.handleResolveApproval)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.Handle("GET /ws", NewWSHandler(s.pub, s.logger))

	return mux
}

// ListenAndServe starts the server on addr and blocks until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type requestBody struct {
	ScenarioID string `json:"scenario_id"`
	Text       string `json:"text"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Text == "" {
		HandleError(w, errors.ErrValidation("request text is required"))
		return
	}

	scenarioID := body.ScenarioID
	if scenarioID == "" {
		// Fall back to the session default; core components always get an
		// explicit ID.
		current, err := s.store.Current(r.Context())
		if err != nil || current == "" {
			HandleError(w, errors.ErrValidation("no scenario_id given and no scenario active"))
			return
		}
		scenarioID = current
	}

	resp, err := s.engine.Handle(r.Context(), scenarioID, body.Text)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, resp)
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.store.List(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{"scenarios": scenarios})
}

type createScenarioBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id"`
}

func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var body createScenarioBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		HandleError(w, errors.ErrValidation("scenario name is required"))
		return
	}

	var scn any
	var err error
	if body.ParentID != "" {
		scn, err = s.store.Branch(r.Context(), body.Name, body.Description, body.ParentID)
	} else {
		scn, err = s.store.Create(r.Context(), body.Name, body.Description)
	}
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, scn, http.StatusCreated)
}

func (s *Server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.gate.Pending(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{"approvals": pending})
}

type resolveBody struct {
	Decision    string `json:"decision"`
	AmendedText string `json:"amended_text"`
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := s.engine.Resolve(r.Context(), r.PathValue("id"),
		gate.Decision(body.Decision), body.AmendedText)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	scenarioID := r.URL.Query().Get("scenario_id")
	if scenarioID == "" {
		HandleError(w, errors.ErrValidation("scenario_id query parameter is required"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil {
			HandleError(w, errors.ErrValidation("limit must be an integer"))
			return
		}
	}

	entries, err := s.store.History(r.Context(), scenarioID, limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{"history": entries})
}
