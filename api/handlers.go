package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
	"todo-api/identity"
	"todo-api/todo"
)

const (
	maxBodySize          = 64 << 10
	headerIdempotencyKey = "Idempotency-Key"
)

// Deps are the collaborators of the HTTP handlers. Auth and Accounts are nil
// in local mode, where every request acts as domain.LocalUser. Deduper is
// optional.
type Deps struct {
	Sessions Sessions
	Auth     Authenticator
	Accounts Accounts
	Deduper  Deduper
	Logger   *log.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type textRequest struct {
	Text string `json:"text"`
}

type filterRequest struct {
	Filter string `json:"filter"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type clearCompletedResponse struct {
	Removed int `json:"removed"`
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	h := &handlers{Deps: d}

	e.GET("/healthz", h.healthz)

	if d.Auth != nil && d.Accounts != nil {
		e.POST("/api/auth/signup", h.signUp)
		e.POST("/api/auth/signin", h.signIn)
		e.POST("/api/auth/signout", h.signOut)
		e.GET("/api/auth/me", h.me)
	}

	e.GET("/api/todos", h.withStore("/api/todos", h.getTodos))
	e.PUT("/api/todos/filter", h.withStore("/api/todos/filter", h.putFilter))
	e.POST("/api/todos", h.withStore("/api/todos", h.postTodo))
	e.POST("/api/todos/clear-completed", h.withStore("/api/todos/clear-completed", h.clearCompleted))
	e.PATCH("/api/todos/:id", h.withStore("/api/todos/:id", h.patchTodo))
	e.POST("/api/todos/:id/toggle", h.withStore("/api/todos/:id/toggle", h.toggleTodo))
	e.DELETE("/api/todos/:id", h.withStore("/api/todos/:id", h.deleteTodo))
}

type handlers struct {
	Deps
}

// todoHandler handles a request against the caller's store. Store failures are
// recorded in req.failure for the request metrics.
type todoHandler func(c echo.Context, req *todoRequest) error

type todoRequest struct {
	ctx     context.Context
	user    domain.User
	store   *todo.Store
	metrics *requestMetrics
	failure error
}

func (h *handlers) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "sessions": h.Sessions.Len()})
}

// authenticate resolves the caller. In local mode it always succeeds.
func (h *handlers) authenticate(c echo.Context) (domain.User, identity.Claims, error) {
	if h.Auth == nil {
		return domain.LocalUser, identity.Claims{UserID: domain.LocalUser.ID}, nil
	}
	claims, err := h.Auth.ClaimsFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return domain.User{}, identity.Claims{}, err
	}
	if h.Accounts == nil {
		return domain.User{ID: claims.UserID, Email: claims.Email}, claims, nil
	}
	u, err := h.Accounts.CurrentUser(c.Request().Context(), claims)
	if err != nil {
		return domain.User{}, identity.Claims{}, err
	}
	return u, claims, nil
}

func (h *handlers) withStore(route string, next todoHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), h.Logger, route)
		c.SetRequest(c.Request().WithContext(ctx))
		req := &todoRequest{ctx: ctx, metrics: metrics}
		defer func() {
			failure := req.failure
			if failure == nil {
				failure = err
			}
			metrics.Log(c.Response().Status, failure)
		}()

		authStart := time.Now()
		user, _, authErr := h.authenticate(c)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return h.localizedError(c, http.StatusUnauthorized, authErr)
		}
		metrics.SetUser(user.ID)
		req.user = user

		store, acqErr := h.Sessions.Acquire(ctx, user)
		if acqErr != nil {
			req.failure = acqErr
			return storeFailure(c, metrics, "session", acqErr)
		}
		req.store = store
		return next(c, req)
	}
}

// storeFailure maps a Task Store error to its HTTP response.
func storeFailure(c echo.Context, m *requestMetrics, stage string, err error) error {
	m.SetErrorStage(stage)
	if errors.Is(err, todo.ErrNotReady) {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func badRequest(c echo.Context, m *requestMetrics, stage, msg string) error {
	m.SetErrorStage(stage)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (h *handlers) respondView(c echo.Context, req *todoRequest) error {
	view := req.store.View()
	req.metrics.SetTodosReturned(len(view.Tasks))
	return c.JSON(http.StatusOK, view)
}

func (h *handlers) getTodos(c echo.Context, req *todoRequest) error {
	if raw, ok := c.QueryParams()["filter"]; ok && len(raw) > 0 {
		f, err := domain.ParseFilter(raw[0])
		if err != nil {
			return badRequest(c, req.metrics, "invalid_filter", err.Error())
		}
		req.store.SetFilter(f)
	}
	return h.respondView(c, req)
}

func (h *handlers) putFilter(c echo.Context, req *todoRequest) error {
	var body filterRequest
	if err := decodeBody(c, &body); err != nil {
		return badRequest(c, req.metrics, "decode", "invalid body")
	}
	f, err := domain.ParseFilter(body.Filter)
	if err != nil {
		return badRequest(c, req.metrics, "invalid_filter", err.Error())
	}
	req.store.SetFilter(f)
	return h.respondView(c, req)
}

func (h *handlers) postTodo(c echo.Context, req *todoRequest) error {
	var body textRequest
	if err := decodeBody(c, &body); err != nil {
		return badRequest(c, req.metrics, "decode", "invalid body")
	}

	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	recorded := false
	if key != "" && h.Deduper != nil {
		added, err := h.Deduper.Add(req.ctx, req.user.ID, key)
		switch {
		case err != nil:
			h.Logger.WithError(err).WithField("user_id", req.user.ID).Warn("idempotency check failed; processing without dedupe")
		case !added:
			req.metrics.SetErrorStage("duplicate")
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		default:
			recorded = true
		}
	}

	start := time.Now()
	task, err := req.store.Add(req.ctx, body.Text)
	req.metrics.ObserveStore(time.Since(start))
	if (err != nil || task == nil) && recorded {
		h.forgetKey(req, key)
	}
	if err != nil {
		req.failure = err
		return storeFailure(c, req.metrics, "store", err)
	}
	if task == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusCreated, task)
}

// forgetKey releases an idempotency key whose create did not persist anything.
func (h *handlers) forgetKey(req *todoRequest, key string) {
	if err := h.Deduper.Remove(context.WithoutCancel(req.ctx), req.user.ID, key); err != nil {
		h.Logger.WithError(err).WithField("user_id", req.user.ID).Error("dedupe rollback failed")
	}
}

func (h *handlers) patchTodo(c echo.Context, req *todoRequest) error {
	var body textRequest
	if err := decodeBody(c, &body); err != nil {
		return badRequest(c, req.metrics, "decode", "invalid body")
	}
	start := time.Now()
	task, err := req.store.Update(req.ctx, c.Param("id"), body.Text)
	req.metrics.ObserveStore(time.Since(start))
	return h.respondTask(c, req, task, err)
}

func (h *handlers) toggleTodo(c echo.Context, req *todoRequest) error {
	start := time.Now()
	task, err := req.store.Toggle(req.ctx, c.Param("id"))
	req.metrics.ObserveStore(time.Since(start))
	return h.respondTask(c, req, task, err)
}

func (h *handlers) respondTask(c echo.Context, req *todoRequest, task *domain.Task, err error) error {
	if err != nil {
		req.failure = err
		return storeFailure(c, req.metrics, "store", err)
	}
	if task == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) deleteTodo(c echo.Context, req *todoRequest) error {
	start := time.Now()
	_, err := req.store.Delete(req.ctx, c.Param("id"))
	req.metrics.ObserveStore(time.Since(start))
	if err != nil {
		req.failure = err
		return storeFailure(c, req.metrics, "store", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) clearCompleted(c echo.Context, req *todoRequest) error {
	start := time.Now()
	removed, err := req.store.ClearCompleted(req.ctx)
	req.metrics.ObserveStore(time.Since(start))
	if err != nil {
		req.failure = err
		return storeFailure(c, req.metrics, "store", err)
	}
	return c.JSON(http.StatusOK, clearCompletedResponse{Removed: removed})
}
