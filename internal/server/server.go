// Package server wires every HTTP endpoint onto a go-chi/chi/v5
// router, composing handler constructors against a shared context.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/partarstu/agentic-qa-framework/internal/authn"
	"github.com/partarstu/agentic-qa-framework/internal/dashboard"
	"github.com/partarstu/agentic-qa-framework/internal/httputil"
	"github.com/partarstu/agentic-qa-framework/internal/middleware"
	"github.com/partarstu/agentic-qa-framework/internal/workflow"
)

// Context bundles every handler's dependencies: the workflow
// composition root, the dashboard aggregator, the auth gate, and the
// two bearer secrets applied as chi middleware.
type Context struct {
	Workflow  *workflow.Context
	Dashboard *dashboard.Dashboard
	Auth      *authn.Authenticator
	APIKey    string
	JWTSecret string
}

// New builds the full chi router for the orchestrator's HTTP surface.
func New(sc *Context) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	r.Get("/healthz", healthzHandler())

	r.Route("/", func(r chi.Router) {
		r.Use(middleware.APIKeyMiddleware(sc.APIKey))
		r.Post("/review-requirements", reviewRequirementsHandler(sc))
		r.Post("/generate-tests", generateTestsHandler(sc))
		r.Post("/execute-tests", executeTestsHandler(sc))
		r.Post("/update-index", updateIndexHandler(sc))
	})

	r.Post("/auth/login", loginHandler(sc))

	r.Route("/dashboard", func(r chi.Router) {
		r.Use(middleware.JWTMiddleware(sc.JWTSecret))
		r.Get("/summary", dashboardSummaryHandler(sc))
		r.Get("/agents", dashboardAgentsHandler(sc))
		r.Get("/agents/{id}", dashboardAgentDetailHandler(sc))
		r.Get("/tasks", dashboardTasksHandler(sc))
		r.Get("/errors", dashboardErrorsHandler(sc))
		r.Get("/logs", dashboardLogsHandler(sc))
	})

	return r
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, map[string]string{"status": "ok"})
	}
}

type issueKeyRequest struct {
	IssueKey string `json:"issue_key"`
}

type projectKeyRequest struct {
	ProjectKey string `json:"project_key"`
}

func reviewRequirementsHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req issueKeyRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.IssueKey == "" {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "issue_key is required")
			return
		}
		rec, err := workflow.ReviewRequirements(r.Context(), sc.Workflow, req.IssueKey)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.OkJSON(w, rec)
	}
}

func generateTestsHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req issueKeyRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.IssueKey == "" {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "issue_key is required")
			return
		}
		rec, err := workflow.GenerateTests(r.Context(), sc.Workflow, req.IssueKey)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.OkJSON(w, rec)
	}
}

func executeTestsHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req projectKeyRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.ProjectKey == "" {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "project_key is required")
			return
		}
		results, err := workflow.ExecuteTests(r.Context(), sc.Workflow, req.ProjectKey)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.OkJSON(w, results)
	}
}

func updateIndexHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req projectKeyRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if req.ProjectKey == "" {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "project_key is required")
			return
		}
		rec, err := workflow.UpdateIndex(r.Context(), sc.Workflow, req.ProjectKey)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.OkJSON(w, rec)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func loginHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		token, err := sc.Auth.Login(req.Username, req.Password)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.OkJSON(w, map[string]string{"token": token})
	}
}

func dashboardSummaryHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, sc.Dashboard.Summary())
	}
}

func dashboardAgentsHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, sc.Dashboard.Agents())
	}
}

func dashboardAgentDetailHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		detail, ok := sc.Dashboard.AgentDetail(id, httputil.QueryInt(r, "task_limit", 20))
		if !ok {
			httputil.NotFound(w, "agent not found")
			return
		}
		httputil.OkJSON(w, detail)
	}
}

func dashboardTasksHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := httputil.QueryInt(r, "limit", 50)
		httputil.OkJSON(w, sc.Dashboard.Tasks(limit))
	}
}

func dashboardErrorsHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := httputil.QueryInt(r, "limit", 50)
		httputil.OkJSON(w, sc.Dashboard.Errors(limit))
	}
}

func dashboardLogsHandler(sc *Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := dashboard.LogsQuery{
			Limit:   httputil.QueryInt(r, "limit", 200),
			Level:   httputil.QueryString(r, "level", ""),
			TaskID:  httputil.QueryString(r, "task_id", ""),
			AgentID: httputil.QueryString(r, "agent_id", ""),
		}
		httputil.OkJSON(w, sc.Dashboard.Logs(q))
	}
}
