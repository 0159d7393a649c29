package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/domain"
	"github.com/mbs-selection-server/internal/export"
	"github.com/mbs-selection-server/internal/service"
	"github.com/mbs-selection-server/internal/store"
)

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

type tierRequest struct {
	Tier domain.ConfidenceTier `json:"tier" binding:"required"`
}

type compareRequest struct {
	Selection1 []string `json:"selection1"`
	Selection2 []string `json:"selection2"`
	Label1     string   `json:"label1"`
	Label2     string   `json:"label2"`
}

type presetDraftRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type presetUpdateRequest struct {
	Name          *string   `json:"name"`
	Description   *string   `json:"description"`
	SelectedCodes *[]string `json:"selected_codes"`
}

type duplicateRequest struct {
	Name string `json:"name"`
}

// session resolves the :id path parameter or writes a 404 and returns nil.
func (s *Server) session(c *gin.Context) *Session {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil
	}
	return sess
}

// respondError maps domain errors onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	var upstream *domain.UpstreamError
	var validation *domain.ValidationError

	switch {
	case errors.As(err, &upstream):
		status := http.StatusBadGateway
		if upstream.Kind == domain.UpstreamValidation {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{
			"error":     upstream.Message,
			"kind":      upstream.Kind,
			"retryable": upstream.Retryable(),
			"fields":    upstream.Fields,
		})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, domain.ErrStaleResponse):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTier), errors.Is(err, domain.ErrInvalidSuggestion):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.WithError(err).Error("Unhandled request error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Sessions

func (s *Server) handleCreateSession(c *gin.Context) {
	sess := s.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{"session_id": sess.ID})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Analysis

func (s *Server) handleAnalyze(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}

	var req domain.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := sess.Dispatcher.Analyze(c.Request.Context(), &req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	// A fresh result invalidates the previous selection wholesale.
	sess.Engine.SetRecommendations(resp.Recommendations)

	s.logger.WithFields(logrus.Fields{
		"session_id":      sess.ID,
		"recommendations": len(resp.Recommendations),
	}).Info("Analysis completed")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRecommendations(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": sess.Engine.Recommendations()})
}

func (s *Server) handleCodeStates(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"states": sess.Engine.CodeStates()})
}

// Selection

func (s *Server) handleSummary(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	c.JSON(http.StatusOK, sess.Engine.Summary())
}

func (s *Server) handleSnapshot(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	c.JSON(http.StatusOK, sess.Engine.Snapshot())
}

func (s *Server) handleValidation(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	c.JSON(http.StatusOK, sess.Engine.Validation())
}

func (s *Server) handleValidateCode(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	c.JSON(http.StatusOK, sess.Engine.CanSelect(c.Param("code")))
}

func (s *Server) handleSelect(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	res := sess.Engine.Select(req.Code)
	status := http.StatusOK
	if !res.CanSelect {
		// Rejection is a reported outcome, not a server error.
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"result": res, "summary": sess.Engine.Summary()})
}

func (s *Server) handleDeselect(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	sess.Engine.Deselect(req.Code)
	c.JSON(http.StatusOK, gin.H{"summary": sess.Engine.Summary()})
}

func (s *Server) handleToggle(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	res := sess.Engine.Toggle(req.Code)
	status := http.StatusOK
	if !res.CanSelect {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"result": res, "summary": sess.Engine.Summary()})
}

func (s *Server) handleClear(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	sess.Engine.Clear()
	c.JSON(http.StatusOK, gin.H{"summary": sess.Engine.Summary()})
}

// Bulk operations

func (s *Server) handleBulkSelectAll(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	result := sess.Engine.SelectAll()
	c.JSON(http.StatusOK, gin.H{"result": result, "summary": sess.Engine.Summary()})
}

func (s *Server) handleBulkSelectTier(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	var req tierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier is required"})
		return
	}

	result, err := sess.Engine.SelectByTier(req.Tier)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "summary": sess.Engine.Summary()})
}

func (s *Server) handleBulkCompatible(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	result := sess.Engine.SelectCompatibleSubset()
	c.JSON(http.StatusOK, gin.H{"result": result, "summary": sess.Engine.Summary()})
}

func (s *Server) handleBulkInvert(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}
	result := sess.Engine.InvertSelection()
	c.JSON(http.StatusOK, gin.H{"result": result, "summary": sess.Engine.Summary()})
}

// Optimisation

func (s *Server) handleSuggestion(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}

	suggestion, err := s.advisor.Advise(sess.Engine, domain.SuggestionType(c.Param("type")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, suggestion)
}

func (s *Server) handleApplySuggestion(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}

	var suggestion domain.OptimisationSuggestion
	if err := c.ShouldBindJSON(&suggestion); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid suggestion body"})
		return
	}

	result := sess.Engine.ApplyOptimisation(&suggestion)
	c.JSON(http.StatusOK, gin.H{"result": result, "summary": sess.Engine.Summary()})
}

// Comparison

func (s *Server) handleCompare(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}

	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// An omitted first side means "compare against the live selection".
	selection1 := req.Selection1
	if selection1 == nil {
		selection1 = sess.Engine.SelectedCodes()
	}

	result := service.Compare(selection1, req.Selection2, sess.Engine.Recommendations(), req.Label1, req.Label2)
	c.JSON(http.StatusOK, result)
}

// Export

func (s *Server) handleExport(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}

	data := export.Build(sess.Engine.Snapshot(), sess.Engine.Recommendations(), sess.Engine.Validation())

	switch c.DefaultQuery("format", "json") {
	case "json":
		c.Header("Content-Disposition", `attachment; filename="selection.json"`)
		c.Header("Content-Type", "application/json")
		c.Status(http.StatusOK)
		if err := export.WriteJSON(c.Writer, data); err != nil {
			s.logger.WithError(err).Error("Export write failed")
		}
	case "csv":
		c.Header("Content-Disposition", `attachment; filename="selection.csv"`)
		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		if err := export.WriteCSV(c.Writer, data); err != nil {
			s.logger.WithError(err).Error("Export write failed")
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or csv"})
	}
}

// Presets

func (s *Server) handleSavePreset(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}

	var req presetDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	preset, err := s.presets.Save(store.PresetDraft{
		Name:          req.Name,
		Description:   req.Description,
		SelectedCodes: sess.Engine.SelectedCodes(),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, preset)
}

func (s *Server) handleLoadPreset(c *gin.Context) {
	sess := s.session(c)
	if sess == nil {
		return
	}

	preset, err := s.presets.Get(c.Param("presetID"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	// Loading replaces the live selection wholesale; codes missing from the
	// current recommendation set stay selected but contribute no fee.
	sess.Engine.ReplaceSelection(preset.SelectedCodes, domain.ActionPresetLoad)
	c.JSON(http.StatusOK, gin.H{"preset": preset, "summary": sess.Engine.Summary()})
}

func (s *Server) handleListPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": s.presets.List()})
}

func (s *Server) handleGetPreset(c *gin.Context) {
	preset, err := s.presets.Get(c.Param("presetID"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preset)
}

func (s *Server) handleUpdatePreset(c *gin.Context) {
	var req presetUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	preset, err := s.presets.Update(c.Param("presetID"), store.PresetUpdate{
		Name:          req.Name,
		Description:   req.Description,
		SelectedCodes: req.SelectedCodes,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preset)
}

func (s *Server) handleDeletePreset(c *gin.Context) {
	if err := s.presets.Delete(c.Param("presetID")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDuplicatePreset(c *gin.Context) {
	var req duplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	preset, err := s.presets.Duplicate(c.Param("presetID"), req.Name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, preset)
}

// History

func (s *Server) handleHistory(c *gin.Context) {
	if action := c.Query("action"); action != "" {
		c.JSON(http.StatusOK, gin.H{"entries": s.history.ByAction(domain.HistoryAction(action))})
		return
	}

	startStr, endStr := c.Query("start"), c.Query("end")
	if startStr != "" || endStr != "" {
		start, err := parseTimeOr(startStr, time.Time{})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time"})
			return
		}
		end, err := parseTimeOr(endStr, time.Now().UTC())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": s.history.ByDate(start, end)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": s.history.List()})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	s.history.Clear()
	c.Status(http.StatusNoContent)
}

func parseTimeOr(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, value)
}
