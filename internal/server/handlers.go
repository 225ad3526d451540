package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug"
)

func (s *Server) handleHome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":         s.debugger.ServiceName(),
		"flows":           s.debugger.FlowNames(),
		"active_sessions": s.debugger.ActiveSessions(),
		"ui_url":          s.cfg.Prefix + "/ui",
	})
}

func (s *Server) handleListFlows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"flows": s.debugger.ListFlows()})
}

func (s *Server) handleFlowDetail(c *gin.Context) {
	d, err := s.debugger.GetFlowDetail(c.Param("flow_name"))
	if err != nil {
		detail(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleUnregisterFlow(c *gin.Context) {
	if err := s.debugger.UnregisterFlow(c.Param("flow_name")); err != nil {
		detail(c, http.StatusNotFound, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

type createSessionRequest struct {
	FlowName       string         `json:"flow_name"`
	InitialContext map[string]any `json:"initial_context"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.FlowName == "" {
		detail(c, http.StatusBadRequest, "flow_name is required")
		return
	}

	id, err := s.debugger.CreateSession(req.FlowName)
	switch {
	case errors.Is(err, flowdebug.ErrDebuggerClosed):
		detail(c, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		detail(c, http.StatusBadRequest, err.Error())
		return
	}
	if session := s.debugger.GetSession(id); session != nil {
		session.SetContext(req.InitialContext)
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":    id,
		"flow_name":     req.FlowName,
		"status":        string(flowdebug.StatusCreated),
		"websocket_url": s.wsURL(id),
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session := s.debugger.GetSession(c.Param("session_id"))
	if session == nil {
		detail(c, http.StatusNotFound, "Session not found")
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	err := s.debugger.DeleteSession(c.Param("session_id"))
	switch {
	case errors.Is(err, flowdebug.ErrSessionNotFound):
		detail(c, http.StatusNotFound, "Session not found")
	case err != nil:
		detail(c, http.StatusInternalServerError, err.Error())
	default:
		c.Status(http.StatusNoContent)
	}
}
