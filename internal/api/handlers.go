package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"crypto-trading-assistant/internal/bot"
	"crypto-trading-assistant/internal/campaign"
	"crypto-trading-assistant/internal/goals"
	"crypto-trading-assistant/internal/metrics"
	"crypto-trading-assistant/internal/policy"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// DECISION LOG HANDLERS
// ============================================================================

// handleGetDecisions returns recent decisions, newest first
func (s *Server) handleGetDecisions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			errorResponse(c, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	decisions, err := s.decisions.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch decisions")
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch decisions")
		return
	}
	successResponse(c, decisions)
}

// handleGetPortfolio returns the current portfolio snapshot
func (s *Server) handleGetPortfolio(c *gin.Context) {
	snap, err := s.portfolios.Snapshot(c.Request.Context(), s.policies.Current())
	if err != nil {
		errorResponse(c, http.StatusServiceUnavailable, "Portfolio unavailable: "+err.Error())
		return
	}
	successResponse(c, snap)
}

// ============================================================================
// GOAL HANDLERS
// ============================================================================

// handleGetGoals returns goal progress and probability estimates
func (s *Server) handleGetGoals(c *gin.Context) {
	successResponse(c, s.tracker.Progress())
}

type updateTargetsRequest struct {
	MonthlyTarget float64 `json:"monthly_target"`
	WeeklyTarget  float64 `json:"weekly_target"`
}

// handleUpdateGoalTargets replaces the monthly and weekly target amounts
func (s *Server) handleUpdateGoalTargets(c *gin.Context) {
	var req updateTargetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	if err := s.tracker.UpdateTargets(req.MonthlyTarget, req.WeeklyTarget); err != nil {
		if errors.Is(err, goals.ErrInvalidTarget) {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	if s.repo != nil {
		if err := s.repo.UpsertGoalTargets(c.Request.Context(), s.tracker.Progress()); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist goal targets")
		}
	}
	successResponse(c, s.tracker.Progress())
}

// ============================================================================
// RISK HANDLERS
// ============================================================================

// handleGetPolicy returns the active risk policy
func (s *Server) handleGetPolicy(c *gin.Context) {
	successResponse(c, s.policies.Current())
}

// handleUpdatePolicy replaces the active risk policy after validation
func (s *Server) handleUpdatePolicy(c *gin.Context) {
	var next policy.RiskPolicy
	if err := c.ShouldBindJSON(&next); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	if err := s.policies.Update(next); err != nil {
		if errors.Is(err, policy.ErrInvalidPolicy) {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, s.policies.Current())
}

// handleRiskMetrics computes portfolio risk analytics from the trailing
// trade history
func (s *Server) handleRiskMetrics(c *gin.Context) {
	ctx := c.Request.Context()

	since := time.Now().In(s.loc).AddDate(0, -3, 0)
	trades, err := s.repo.RealizedTradesSince(ctx, since)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to load trade history")
		return
	}

	snap, err := s.portfolios.Snapshot(ctx, s.policies.Current())
	if err != nil {
		errorResponse(c, http.StatusServiceUnavailable, "Portfolio unavailable: "+err.Error())
		return
	}

	daily := goals.DailyPnL(trades, s.loc)
	successResponse(c, metrics.Compute(daily, snap.Allocations, snap.TotalValue))
}

// handleGetLedger returns the main budget ledger counters
func (s *Server) handleGetLedger(c *gin.Context) {
	successResponse(c, s.led.Snapshot())
}

// handleResetLosses clears the consecutive loss streak (manual action)
func (s *Server) handleResetLosses(c *gin.Context) {
	s.bot.ResetConsecutiveLosses()
	successResponse(c, gin.H{"message": "Consecutive loss counter reset"})
}

// ============================================================================
// BOT HANDLERS
// ============================================================================

// handleBotStatus returns the current bot status
func (s *Server) handleBotStatus(c *gin.Context) {
	successResponse(c, s.bot.Status())
}

type botStartRequest struct {
	Mode string `json:"mode"`
}

// handleBotStart starts the evaluation cycle loop
func (s *Server) handleBotStart(c *gin.Context) {
	req := botStartRequest{Mode: bot.ModeDry}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
			return
		}
	}

	if err := s.bot.Start(req.Mode); err != nil {
		if errors.Is(err, bot.ErrAlreadyRunning) {
			errorResponse(c, http.StatusConflict, err.Error())
			return
		}
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	successResponse(c, s.bot.Status())
}

// handleBotStop stops the evaluation cycle loop
func (s *Server) handleBotStop(c *gin.Context) {
	if err := s.bot.Stop(); err != nil {
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}
	successResponse(c, s.bot.Status())
}

// ============================================================================
// EMERGENCY STOP HANDLERS
// ============================================================================

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

// handleEmergencyStop engages the process-wide halt
func (s *Server) handleEmergencyStop(c *gin.Context) {
	var req emergencyStopRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual trigger"
	}

	if !s.bot.TriggerEmergencyStop(c.Request.Context(), req.Reason) {
		errorResponse(c, http.StatusConflict, "Emergency stop already engaged")
		return
	}
	successResponse(c, gin.H{"message": "Emergency stop engaged", "reason": req.Reason})
}

// handleClearEmergencyStop releases the halt; campaigns stay paused
func (s *Server) handleClearEmergencyStop(c *gin.Context) {
	if !s.bot.ClearEmergencyStop() {
		errorResponse(c, http.StatusConflict, "Emergency stop is not engaged")
		return
	}
	successResponse(c, gin.H{"message": "Emergency stop cleared"})
}

// ============================================================================
// CAMPAIGN HANDLERS
// ============================================================================

// handleListCampaigns returns all campaigns
func (s *Server) handleListCampaigns(c *gin.Context) {
	successResponse(c, s.campaigns.List())
}

// handleCreateCampaign registers a new campaign with its own capital pool
func (s *Server) handleCreateCampaign(c *gin.Context) {
	var params campaign.CreateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	created, err := s.campaigns.Create(c.Request.Context(), params)
	if err != nil {
		if errors.Is(err, campaign.ErrInvalidParams) {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": created})
}

// handleGetCampaign returns one campaign by id
func (s *Server) handleGetCampaign(c *gin.Context) {
	cmp, err := s.campaigns.Get(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	successResponse(c, cmp)
}

// handleExecuteCampaign runs one evaluation pass for a campaign
func (s *Server) handleExecuteCampaign(c *gin.Context) {
	res, err := s.campaigns.Execute(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			errorResponse(c, http.StatusNotFound, err.Error())
		case errors.Is(err, campaign.ErrTerminated):
			errorResponse(c, http.StatusConflict, err.Error())
		default:
			errorResponse(c, http.StatusConflict, err.Error())
		}
		return
	}
	successResponse(c, res)
}

// handlePauseCampaign pauses an active campaign
func (s *Server) handlePauseCampaign(c *gin.Context) {
	if err := s.campaigns.Pause(c.Request.Context(), c.Param("id")); err != nil {
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			errorResponse(c, http.StatusNotFound, err.Error())
		default:
			errorResponse(c, http.StatusConflict, err.Error())
		}
		return
	}
	successResponse(c, gin.H{"message": "Campaign paused"})
}

// handleResumeCampaign resumes a paused campaign
func (s *Server) handleResumeCampaign(c *gin.Context) {
	if err := s.campaigns.Resume(c.Request.Context(), c.Param("id")); err != nil {
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			errorResponse(c, http.StatusNotFound, err.Error())
		default:
			errorResponse(c, http.StatusConflict, err.Error())
		}
		return
	}
	successResponse(c, gin.H{"message": "Campaign resumed"})
}
