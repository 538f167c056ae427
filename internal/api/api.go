// Package api exposes the external HTTP interface: the approval
// workflow's two write endpoints, and read-only views over goals,
// projects, autonomy status, and effectiveness history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fablab/autonomy-core/internal/approval"
	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/model"
)

// Store is the subset of *store.Store the API depends on directly
// (approval writes go through approval.Workflow instead).
type Store interface {
	GetGoal(id string) (*model.Goal, error)
	ListGoals(status model.GoalStatus) ([]*model.Goal, error)
	ListProjects(status model.ProjectStatus) ([]*model.Project, error)
	EffectivenessHistory(goalType model.GoalType, limit int) ([]float64, error)
	DailyAutonomousSpend(day time.Time) (float64, error)
}

// Gate is the subset of *resourcegate.Gate the autonomy/status route reports.
type Gate interface {
	Allows(workloadClass model.WorkloadClass) error
}

type Config struct {
	Bind     string
	Security SecurityConfig
}

// Server is the autonomy core's HTTP API server.
type Server struct {
	cfg       Config
	store     Store
	workflow  *approval.Workflow
	gate      Gate
	log       *slog.Logger
	startTime time.Time
	auth      *AuthMiddleware
	http      *http.Server
}

func NewServer(cfg Config, st Store, workflow *approval.Workflow, gate Gate, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	auth, err := NewAuthMiddleware(cfg.Security, log)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, store: st, workflow: workflow, gate: gate, log: log, startTime: time.Now(), auth: auth}, nil
}

func (s *Server) Close() error {
	if s.auth != nil {
		return s.auth.Close()
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/autonomy/status", s.handleAutonomyStatus)
	r.Get("/goals", s.handleListGoals)
	r.Get("/goals/{id}", s.handleGetGoal)
	r.Get("/projects", s.handleListProjects)
	r.Get("/effectiveness", s.handleEffectiveness)

	r.With(s.auth.RequireAuth).Post("/approve-goal", s.handleApproveGoal)
	r.With(s.auth.RequireAuth).Post("/reject-goal", s.handleRejectGoal)

	return r
}

// Start blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:        s.cfg.Bind,
		Handler:     s.routes(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutCtx)
	}()

	s.log.Info("api.started", "bind", s.cfg.Bind)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var cerr *coreerr.Error
	if errors.As(err, &cerr) {
		writeError(w, statusForCode(cerr.Code), cerr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func statusForCode(code coreerr.Code) int {
	switch code {
	case coreerr.NotFound:
		return http.StatusNotFound
	case coreerr.InvalidState, coreerr.DependencyCycle, coreerr.BudgetExceeded, coreerr.ConfigInvalid:
		return http.StatusConflict
	case coreerr.AutonomyDisabled, coreerr.BudgetExhausted, coreerr.NotIdle, coreerr.ResourcePressure, coreerr.WindowClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type approveGoalRequest struct {
	GoalID   string `json:"goal_id"`
	Approver string `json:"approver"`
	Notes    string `json:"notes"`
}

func (s *Server) handleApproveGoal(w http.ResponseWriter, r *http.Request) {
	var req approveGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GoalID == "" || req.Approver == "" {
		writeError(w, http.StatusBadRequest, "goal_id and approver are required")
		return
	}
	project, err := s.workflow.Approve(r.Context(), req.GoalID, req.Approver, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleRejectGoal(w http.ResponseWriter, r *http.Request) {
	var req approveGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GoalID == "" || req.Approver == "" {
		writeError(w, http.StatusBadRequest, "goal_id and approver are required")
		return
	}
	if err := s.workflow.Reject(req.GoalID, req.Approver, req.Notes); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	status := model.GoalStatus(r.URL.Query().Get("status"))
	goals, err := s.store.ListGoals(status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	goal, err := s.store.GetGoal(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	status := model.ProjectStatus(r.URL.Query().Get("status"))
	projects, err := s.store.ListProjects(status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleEffectiveness(w http.ResponseWriter, r *http.Request) {
	goalType := model.GoalType(r.URL.Query().Get("goal_type"))
	if goalType == "" {
		writeError(w, http.StatusBadRequest, "goal_type is required")
		return
	}
	scores, err := s.store.EffectivenessHistory(goalType, 50)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	mean := 0.0
	for _, sc := range scores {
		mean += sc
	}
	if len(scores) > 0 {
		mean /= float64(len(scores))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"goal_type":         goalType,
		"sample_count":      len(scores),
		"effectiveness":     scores,
		"mean_effectiveness": mean,
	})
}

func (s *Server) handleAutonomyStatus(w http.ResponseWriter, r *http.Request) {
	spend, err := s.store.DailyAutonomousSpend(time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"uptime_seconds":   time.Since(s.startTime).Seconds(),
		"daily_spend_usd":  spend,
		"scheduled_allows": s.allowsSummary(model.WorkloadScheduled),
		"exploration_allows": s.allowsSummary(model.WorkloadExploration),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) allowsSummary(class model.WorkloadClass) map[string]any {
	if err := s.gate.Allows(class); err != nil {
		var cerr *coreerr.Error
		reason := err.Error()
		if errors.As(err, &cerr) {
			reason = string(cerr.Code)
		}
		return map[string]any{"allowed": false, "reason": reason}
	}
	return map[string]any{"allowed": true}
}
