package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury/internal/ledger"
	"treasury/internal/metrics"
	"treasury/internal/repository"
	"treasury/internal/service"
)

type AdminHandler struct {
	Ledger   *ledger.Store
	Repo     repository.Repository
	Settings *service.SystemSettingsService
	Logger   *zap.Logger
}

func (h *AdminHandler) Register(r *gin.Engine) {
	group := r.Group("/api/admin")
	group.POST("/adjust", h.adjust)
	group.GET("/settings", h.listSettings)
	group.PUT("/settings", h.putSetting)
}

type adjustRequest struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	// Amount is signed. Negative values debit and are still subject to the
	// non-negative balance guard.
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) adjust(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusInternalServerError, "ledger unavailable", nil)
		return
	}
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	guildID := strings.TrimSpace(req.GuildID)
	userID := strings.TrimSpace(req.UserID)
	if guildID == "" || userID == "" {
		Error(c, http.StatusBadRequest, "guild_id and user_id are required", nil)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || amount.IsZero() {
		Error(c, http.StatusBadRequest, "invalid amount", nil)
		return
	}

	txn, err := h.Ledger.AdminAdjust(c.Request.Context(), guildID, userID, amount, strings.TrimSpace(req.Reason))
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("admin_adjust", "error").Inc()
		respondError(c, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues("admin_adjust", "ok").Inc()
	if h.Logger != nil {
		h.Logger.Info("admin adjustment",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.String("amount", amount.String()),
		)
	}
	Ok(c, txn, nil)
}

func (h *AdminHandler) listSettings(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	prefix := "feature."
	items, err := h.Repo.ListSystemSettings(c.Request.Context(), repository.ListSystemSettingsParams{
		Limit:   intQuery(c, "limit", 100),
		Offset:  intQuery(c, "offset", 0),
		Prefix:  &prefix,
		OrderBy: "key",
		Asc:     boolPtr(true),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type putSettingRequest struct {
	Key     string `json:"key"`
	Enabled *bool  `json:"enabled"`
}

func (h *AdminHandler) putSetting(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings unavailable", nil)
		return
	}
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	key := strings.TrimSpace(req.Key)
	if !strings.HasPrefix(key, "feature.") {
		Error(c, http.StatusBadRequest, "key must start with feature.", nil)
		return
	}
	if req.Enabled == nil {
		Error(c, http.StatusBadRequest, "enabled is required", nil)
		return
	}
	if err := h.Settings.SetEnabled(c.Request.Context(), key, *req.Enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"key": key, "enabled": *req.Enabled}, nil)
}
