package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignite-rpg/ignite-api/audit"
	"github.com/ignite-rpg/ignite-api/backup"
	mw "github.com/ignite-rpg/ignite-api/middleware"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/ignite-rpg/ignite-api/scheduler"
	"github.com/ignite-rpg/ignite-api/user"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes must be protected by Auth, RequireRole(admin) and IPWhitelist.
type AdminHandler struct {
	users   *user.Directory
	sched   *scheduler.Scheduler
	backups *backup.Exporter
	audit   *audit.Service
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	users *user.Directory,
	sched *scheduler.Scheduler,
	backups *backup.Exporter,
	auditSvc *audit.Service,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{users: users, sched: sched, backups: backups, audit: auditSvc, logger: logger}
}

// ListSchedulerTasks returns the state of every scheduled task.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Status()})
}

// ListBackups returns completed snapshots, newest first.
// GET /api/admin/backups
func (h *AdminHandler) ListBackups(c *gin.Context) {
	snaps, err := h.backups.List()
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": snaps})
}

// RunBackup takes a snapshot immediately. Failed runs are audited with
// their error; lock contention is not.
// POST /api/admin/backups
func (h *AdminHandler) RunBackup(c *gin.Context) {
	start := time.Now()
	snap, err := h.backups.Run(c.Request.Context())
	if errors.Is(err, backup.ErrLocked) || errors.Is(err, backup.ErrSnapshotExists) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	entry := audit.Entry{
		TraceID:    mw.GetTraceID(c),
		UserID:     mw.GetUserID(c),
		Action:     audit.ActionBackupRun,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
		h.audit.Log(entry)
		internalError(c, err)
		return
	}
	entry.TargetID = snap.Name
	entry.Response = snap
	h.audit.Log(entry)
	c.JSON(http.StatusCreated, gin.H{"backup": snap})
}

type banRequest struct {
	Ban *bool `json:"ban" binding:"required"`
}

// BanUser bans or unbans an account. Banned users fail authentication on
// their next request.
// POST /api/admin/users/:id/ban
func (h *AdminHandler) BanUser(c *gin.Context) {
	start := time.Now()
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	targetID := c.Param("id")
	adminID := mw.GetUserID(c)
	if targetID == adminID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot ban yourself"})
		return
	}

	status := model.UserStatusActive
	if *req.Ban {
		status = model.UserStatusBanned
	}
	err := h.users.SetStatus(c.Request.Context(), targetID, status)
	if errors.Is(err, user.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	h.audit.Log(audit.Entry{
		TraceID:    mw.GetTraceID(c),
		UserID:     adminID,
		TargetID:   targetID,
		Action:     audit.ActionUserBan,
		Request:    req,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	})
	h.logger.Info("user status changed",
		zap.String("admin_id", adminID),
		zap.String("user_id", targetID),
		zap.String("status", status))
	c.JSON(http.StatusOK, gin.H{"user_id": targetID, "status": status})
}

// QueryAudit returns recent audit entries.
// GET /api/admin/audit?user_id=&action=&limit=
func (h *AdminHandler) QueryAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.audit.Query(c.Request.Context(), audit.Filter{
		UserID: c.Query("user_id"),
		Action: c.Query("action"),
		Limit:  limit,
	})
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}
