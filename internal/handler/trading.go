package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury/internal/ledger"
	"treasury/internal/metrics"
	"treasury/internal/models"
	"treasury/internal/repository"
	"treasury/internal/service"
	"treasury/internal/trading"
)

type TradingHandler struct {
	Manager *trading.Manager
	Repo    repository.Repository
	Flags   *service.SystemSettingsService
	Logger  *zap.Logger
}

func (h *TradingHandler) Register(r *gin.Engine) {
	group := r.Group("/api/trading")
	group.POST("/open", h.open)
	group.POST("/close", h.close)
	group.GET("/positions", h.listPositions)
	group.GET("/positions/:id", h.getPosition)
	group.GET("/portfolio", h.portfolio)
}

func (h *TradingHandler) tradingEnabled(c *gin.Context) bool {
	if h.Flags != nil && !h.Flags.IsEnabled(c.Request.Context(), service.FeatureTrading, true) {
		Error(c, http.StatusServiceUnavailable, "trading is disabled", nil)
		return false
	}
	return true
}

type openPositionRequest struct {
	GuildID   string `json:"guild_id"`
	UserID    string `json:"user_id"`
	Ticker    string `json:"ticker"`
	Direction string `json:"direction"`
	Amount    string `json:"amount"`
}

func (h *TradingHandler) open(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "trading unavailable", nil)
		return
	}
	if !h.tradingEnabled(c) {
		return
	}
	var req openPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.GuildID) == "" || strings.TrimSpace(req.UserID) == "" {
		Error(c, http.StatusBadRequest, "guild_id and user_id are required", nil)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid amount", nil)
		return
	}
	out, err := h.Manager.Open(c.Request.Context(), req.GuildID, req.UserID, req.Ticker, req.Direction, amount)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("trade_open", "error").Inc()
		respondError(c, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("trade_open", "ok").Inc()
	Ok(c, out, nil)
}

type closePositionRequest struct {
	GuildID    string `json:"guild_id"`
	UserID     string `json:"user_id"`
	PositionID uint64 `json:"position_id"`
	// Amount is the notional to close. Empty or zero closes the whole
	// position.
	Amount string `json:"amount"`
}

func (h *TradingHandler) close(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "trading unavailable", nil)
		return
	}
	if !h.tradingEnabled(c) {
		return
	}
	var req closePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.GuildID) == "" || strings.TrimSpace(req.UserID) == "" {
		Error(c, http.StatusBadRequest, "guild_id and user_id are required", nil)
		return
	}
	if req.PositionID == 0 {
		Error(c, http.StatusBadRequest, "position_id is required", nil)
		return
	}
	amount := decimal.Zero
	if v := strings.TrimSpace(req.Amount); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid amount", nil)
			return
		}
		amount = parsed
	}
	out, err := h.Manager.Close(c.Request.Context(), req.GuildID, req.UserID, req.PositionID, amount)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("trade_close", "error").Inc()
		respondError(c, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("trade_close", "ok").Inc()
	Ok(c, out, nil)
}

func (h *TradingHandler) listPositions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	guildID, userID, ok := accountQuery(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	account, err := h.Repo.GetAccount(c.Request.Context(), guildID, userID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if account == nil {
		Ok(c, []models.Position{}, paginationMeta(limit, offset, 0))
		return
	}

	orderBy := parseOrder(c.Query("order_by"), map[string]string{
		"opened_at":          "opened_at",
		"remaining_notional": "remaining_notional",
		"id":                 "id",
	})
	if orderBy == "" {
		orderBy = "opened_at"
	}
	asc := strings.EqualFold(strings.TrimSpace(c.Query("order")), "asc")

	params := repository.ListPositionsParams{
		Limit:     limit,
		Offset:    offset,
		AccountID: &account.ID,
		Status:    strQueryPtr(c, "status"),
		Ticker:    strQueryPtr(c, "ticker"),
		OrderBy:   orderBy,
		Asc:       boolPtr(asc),
	}
	items, err := h.Repo.ListPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *TradingHandler) getPosition(c *gin.Context) {
	if h.Repo == nil || h.Manager == nil {
		Error(c, http.StatusInternalServerError, "trading unavailable", nil)
		return
	}
	guildID, userID, ok := accountQuery(c)
	if !ok {
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	account, err := h.Repo.GetAccount(c.Request.Context(), guildID, userID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item, err := h.Repo.GetPositionByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if account == nil || item == nil || item.AccountID != account.ID {
		respondError(c, ledger.ErrPositionNotFound)
		return
	}
	resp := gin.H{"position": item}
	if item.Status == models.PositionOpen {
		// Valuation is best effort; a stale quote only drops the field.
		if upnl, err := h.Manager.UnrealizedPnL(c.Request.Context(), guildID, userID, id); err == nil {
			resp["unrealized_pnl"] = upnl
		}
	}
	Ok(c, resp, nil)
}

func (h *TradingHandler) portfolio(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "trading unavailable", nil)
		return
	}
	guildID, userID, ok := accountQuery(c)
	if !ok {
		return
	}
	out, err := h.Manager.Portfolio(c.Request.Context(), guildID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	Ok(c, out, nil)
}
