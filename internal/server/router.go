package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/autosd/internal/lifecycle"
	"github.com/loykin/autosd/internal/notify"
	"github.com/loykin/autosd/internal/schedule"
	"github.com/loykin/autosd/internal/scheduler"
)

// Router provides embeddable HTTP handlers for the scheduler daemon.
// Endpoints (relative to basePath):
//
//	GET   /healthz
//	GET   /snapshot
//	POST  /arm            body: schedule.Request
//	POST  /cancel         body: {"reason"} (optional)
//	POST  /postpone       body: {"minutes","reason"}
//	PATCH /settings       body: schedule.SettingsUpdate
//	GET   /processes
//	POST  /quit           body: {"source"} (optional)
//	POST  /quit/resolve   body: {"action"}
//	POST  /menu/:action
//	GET   /notifications  drains queued notifications
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	svc      *scheduler.Service
	guard    *lifecycle.Guard
	menu     *lifecycle.Menu
	notes    *notify.Recorder
	log      *slog.Logger
	basePath string
}

// Options wires the collaborators of a Router. Service and Guard are
// required; Notifications may be nil.
type Options struct {
	Service       *scheduler.Service
	Guard         *lifecycle.Guard
	Menu          *lifecycle.Menu
	Notifications *notify.Recorder
	Logger        *slog.Logger
	BasePath      string
}

// NewRouter constructs a new Router.
// Example basePath: "/api" results in /api/snapshot, /api/arm, ...
func NewRouter(opts Options) *Router {
	r := &Router{
		svc:      opts.Service,
		guard:    opts.Guard,
		menu:     opts.Menu,
		notes:    opts.Notifications,
		log:      opts.Logger,
		basePath: sanitizeBase(opts.BasePath),
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.menu == nil {
		r.menu = lifecycle.NewMenu(r.svc, r.guard, nil)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/snapshot", r.handleSnapshot)
	group.POST("/arm", r.handleArm)
	group.POST("/cancel", r.handleCancel)
	group.POST("/postpone", r.handlePostpone)
	group.PATCH("/settings", r.handleSettings)
	group.GET("/processes", r.handleProcesses)
	group.POST("/quit", r.handleQuit)
	group.POST("/quit/resolve", r.handleQuitResolve)
	group.POST("/menu/:action", r.handleMenu)
	group.GET("/notifications", r.handleNotifications)
	return g
}

// NewServer starts a standalone HTTP server on addr serving h. With a non-nil
// tlsCfg the server speaks HTTPS. Listen errors other than a normal close
// are logged.
func NewServer(addr string, h http.Handler, tlsCfg *tls.Config, log *slog.Logger) *http.Server {
	if log == nil {
		log = slog.Default()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		var err error
		if tlsCfg != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type snapshotResp struct {
	scheduler.Snapshot
	StatusMessage string             `json:"statusMessage"`
	PendingExit   *lifecycle.Pending `json:"pendingExit,omitempty"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type postponeReq struct {
	Minutes int    `json:"minutes"`
	Reason  string `json:"reason"`
}

type quitReq struct {
	Source string `json:"source"`
}

type quitResp struct {
	Decision lifecycle.Decision `json:"decision"`
	Pending  *lifecycle.Pending `json:"pending,omitempty"`
}

type resolveReq struct {
	Action lifecycle.Action `json:"action"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleSnapshot(c *gin.Context) {
	writeJSON(c, http.StatusOK, snapshotResp{
		Snapshot:      r.svc.Snapshot(),
		StatusMessage: r.svc.StatusMessage(),
		PendingExit:   r.guard.Pending(),
	})
}

func (r *Router) handleArm(c *gin.Context) {
	var req schedule.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	s, err := r.svc.Arm(req)
	if err != nil {
		r.writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleCancel(c *gin.Context) {
	var req cancelReq
	if !bindOptional(c, &req) {
		return
	}
	if err := r.svc.Cancel(req.Reason); err != nil {
		r.writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handlePostpone(c *gin.Context) {
	var req postponeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.svc.Postpone(req.Minutes, req.Reason); err != nil {
		r.writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleSettings(c *gin.Context) {
	var u schedule.SettingsUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	s, err := r.svc.UpdateSettings(u)
	if err != nil {
		r.writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleProcesses(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	list, err := r.svc.Processes(ctx)
	if err != nil {
		r.writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, list)
}

func (r *Router) handleQuit(c *gin.Context) {
	req := quitReq{Source: "api"}
	if !bindOptional(c, &req) {
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	if !isSafeName(req.Source) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid source: allowed [A-Za-z0-9._-]"})
		return
	}
	d := r.guard.RequestExit(req.Source)
	writeJSON(c, http.StatusOK, quitResp{Decision: d, Pending: r.guard.Pending()})
}

func (r *Router) handleQuitResolve(c *gin.Context) {
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	res, err := r.guard.Resolve(req.Action)
	if err != nil {
		r.writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleMenu(c *gin.Context) {
	res, err := r.menu.Handle(lifecycle.MenuAction(c.Param("action")))
	if err != nil {
		r.writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleNotifications(c *gin.Context) {
	msgs := []notify.Message{}
	if r.notes != nil {
		msgs = append(msgs, r.notes.Drain()...)
	}
	writeJSON(c, http.StatusOK, msgs)
}

// bindOptional decodes a JSON body when one is present. It writes a 400 and
// returns false on malformed input.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func (r *Router) writeErr(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		r.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

func statusFor(err error) int {
	var ve *schedule.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, schedule.ErrCommitted), errors.Is(err, schedule.ErrNoActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
