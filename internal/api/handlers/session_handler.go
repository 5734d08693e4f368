package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/jobdance/internal/services"
	"github.com/yoockh/jobdance/internal/utils"
)

type SessionHandler struct {
	sessions services.SessionService
	reports  services.ReportService
}

func NewSessionHandler(sessions services.SessionService, reports services.ReportService) *SessionHandler {
	return &SessionHandler{sessions: sessions, reports: reports}
}

func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	out, err := h.sessions.ListByUser(c.Request.Context(), userID, int64(queryLimit(c, 20, 100)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Get is the permanent report view.
func (h *SessionHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sess, err := h.sessions.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.UserID != userID {
		writeError(c, utils.E(utils.CodeForbidden, "SessionHandler.Get", "forbidden", nil))
		return
	}

	c.JSON(http.StatusOK, sess)
}

// TempReport serves a report that only lives in the ephemeral store.
func (h *SessionHandler) TempReport(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	tr, err := h.reports.GetTemp(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	if tr.UserID != "" && tr.UserID != userID {
		writeError(c, utils.E(utils.CodeForbidden, "SessionHandler.TempReport", "forbidden", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": tr.SessionID,
		"report":     tr.Report,
		"expires_at": tr.ExpiresAt,
		"warning":    "This report is temporary and will expire.",
	})
}

func (h *SessionHandler) AdminList(c *gin.Context) {
	out, err := h.sessions.ListByUser(c.Request.Context(), c.Param("user_id"), int64(queryLimit(c, 50, 500)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":  c.Param("user_id"),
		"sessions": out,
	})
}
