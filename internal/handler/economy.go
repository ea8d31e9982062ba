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
	"treasury/internal/rewards"
	"treasury/internal/service"
)

type EconomyHandler struct {
	Ledger  *ledger.Store
	Rewards *rewards.Engine
	Repo    repository.Repository
	Flags   *service.SystemSettingsService
	Logger  *zap.Logger
}

func (h *EconomyHandler) Register(r *gin.Engine) {
	group := r.Group("/api/economy")
	group.GET("/balance", h.getBalance)
	group.GET("/transactions", h.listTransactions)
	group.GET("/leaderboard", h.leaderboard)
	group.GET("/stats", h.stats)
	group.GET("/snapshots", h.listSnapshots)
	group.POST("/daily", h.claimDaily)
	group.POST("/donate", h.donate)
	group.POST("/gamble", h.gamble)
	group.PUT("/reminder", h.setReminder)
}

func accountQuery(c *gin.Context) (string, string, bool) {
	guildID := strings.TrimSpace(c.Query("guild_id"))
	userID := strings.TrimSpace(c.Query("user_id"))
	if guildID == "" || userID == "" {
		Error(c, http.StatusBadRequest, "guild_id and user_id are required", nil)
		return "", "", false
	}
	return guildID, userID, true
}

func (h *EconomyHandler) getBalance(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusInternalServerError, "ledger unavailable", nil)
		return
	}
	guildID, userID, ok := accountQuery(c)
	if !ok {
		return
	}
	account, err := h.Ledger.Account(c.Request.Context(), guildID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	Ok(c, account, nil)
}

func (h *EconomyHandler) listTransactions(c *gin.Context) {
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
		Ok(c, []models.Transaction{}, paginationMeta(limit, offset, 0))
		return
	}

	orderBy := parseOrder(c.Query("order_by"), map[string]string{
		"created_at": "created_at",
		"amount":     "amount",
		"id":         "id",
	})
	if orderBy == "" {
		orderBy = "created_at"
	}
	asc := strings.EqualFold(strings.TrimSpace(c.Query("order")), "asc")

	params := repository.ListTransactionsParams{
		Limit:     limit,
		Offset:    offset,
		AccountID: &account.ID,
		Kind:      strQueryPtr(c, "kind"),
		Since:     timeQueryPtr(c, "since"),
		Until:     timeQueryPtr(c, "until"),
		OrderBy:   orderBy,
		Asc:       boolPtr(asc),
	}
	items, err := h.Repo.ListTransactions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountTransactions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *EconomyHandler) leaderboard(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	guildID := strings.TrimSpace(c.Query("guild_id"))
	if guildID == "" {
		Error(c, http.StatusBadRequest, "guild_id is required", nil)
		return
	}
	limit := intQuery(c, "limit", 10)
	rows, err := h.Repo.TopBalances(c.Request.Context(), guildID, limit)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rows, nil)
}

func (h *EconomyHandler) stats(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	totals, err := h.Repo.EconomyTotals(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	snap, err := h.Repo.LatestEconomySnapshot(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"current": totals, "latest_snapshot": snap}, nil)
}

func (h *EconomyHandler) listSnapshots(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListEconomySnapshotsParams{
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
		Since:  timeQueryPtr(c, "since"),
		Until:  timeQueryPtr(c, "until"),
	}
	items, err := h.Repo.ListEconomySnapshots(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type claimDailyRequest struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
}

func (h *EconomyHandler) claimDaily(c *gin.Context) {
	if h.Rewards == nil {
		Error(c, http.StatusInternalServerError, "rewards unavailable", nil)
		return
	}
	var req claimDailyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.GuildID) == "" || strings.TrimSpace(req.UserID) == "" {
		Error(c, http.StatusBadRequest, "guild_id and user_id are required", nil)
		return
	}
	out, err := h.Rewards.ClaimDaily(c.Request.Context(), req.GuildID, req.UserID)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("daily", "error").Inc()
		respondError(c, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("daily", "ok").Inc()
	Ok(c, out, nil)
}

type donateRequest struct {
	GuildID    string `json:"guild_id"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Amount     string `json:"amount"`
}

func (h *EconomyHandler) donate(c *gin.Context) {
	if h.Rewards == nil {
		Error(c, http.StatusInternalServerError, "rewards unavailable", nil)
		return
	}
	var req donateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.GuildID) == "" || strings.TrimSpace(req.FromUserID) == "" || strings.TrimSpace(req.ToUserID) == "" {
		Error(c, http.StatusBadRequest, "guild_id, from_user_id and to_user_id are required", nil)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid amount", nil)
		return
	}
	out, err := h.Rewards.Donate(c.Request.Context(), req.GuildID, req.FromUserID, req.ToUserID, amount)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("donate", "error").Inc()
		respondError(c, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("donate", "ok").Inc()
	Ok(c, out, nil)
}

type gambleRequest struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	Game    string `json:"game"`
	Stake   string `json:"stake"`
}

func (h *EconomyHandler) gamble(c *gin.Context) {
	if h.Rewards == nil {
		Error(c, http.StatusInternalServerError, "rewards unavailable", nil)
		return
	}
	if h.Flags != nil && !h.Flags.IsEnabled(c.Request.Context(), service.FeatureGambling, true) {
		Error(c, http.StatusServiceUnavailable, "gambling is disabled", nil)
		return
	}
	var req gambleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.GuildID) == "" || strings.TrimSpace(req.UserID) == "" {
		Error(c, http.StatusBadRequest, "guild_id and user_id are required", nil)
		return
	}
	stake, err := decimal.NewFromString(strings.TrimSpace(req.Stake))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid stake", nil)
		return
	}
	out, err := h.Rewards.Gamble(c.Request.Context(), req.GuildID, req.UserID, req.Game, stake)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("gamble", "error").Inc()
		respondError(c, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("gamble", "ok").Inc()
	Ok(c, out, nil)
}

type setReminderRequest struct {
	GuildID    string `json:"guild_id"`
	UserID     string `json:"user_id"`
	Preference string `json:"preference"`
}

func (h *EconomyHandler) setReminder(c *gin.Context) {
	if h.Rewards == nil {
		Error(c, http.StatusInternalServerError, "rewards unavailable", nil)
		return
	}
	var req setReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.GuildID) == "" || strings.TrimSpace(req.UserID) == "" {
		Error(c, http.StatusBadRequest, "guild_id and user_id are required", nil)
		return
	}
	if err := h.Rewards.SetReminderPreference(c.Request.Context(), req.GuildID, req.UserID, req.Preference); err != nil {
		respondError(c, err)
		return
	}
	Ok(c, gin.H{"preference": strings.ToLower(strings.TrimSpace(req.Preference))}, nil)
}
