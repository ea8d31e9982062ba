package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury/internal/ledger"
	"treasury/internal/pricecache"
	"treasury/internal/service"
)

type MarketHandler struct {
	Cache     *pricecache.Cache
	Refresher *service.PriceRefreshService
	Staleness time.Duration
	Logger    *zap.Logger
}

func (h *MarketHandler) Register(r *gin.Engine) {
	group := r.Group("/api/market")
	group.GET("/instruments", h.listInstruments)
	group.GET("/price", h.getPrice)
	group.GET("/status", h.status)
	group.POST("/refresh", h.refresh)
}

func (h *MarketHandler) listInstruments(c *gin.Context) {
	if h.Cache == nil {
		Error(c, http.StatusInternalServerError, "price cache unavailable", nil)
		return
	}
	Ok(c, h.Cache.ListInstruments(), nil)
}

func (h *MarketHandler) getPrice(c *gin.Context) {
	if h.Cache == nil {
		Error(c, http.StatusInternalServerError, "price cache unavailable", nil)
		return
	}
	ticker := strings.TrimSpace(c.Query("ticker"))
	if ticker == "" {
		Error(c, http.StatusBadRequest, "ticker is required", nil)
		return
	}
	if _, ok := h.Cache.GetInstrument(ticker); !ok {
		respondError(c, ledger.ErrUnknownInstrument)
		return
	}
	price, at, ok := h.Cache.Price(ticker)
	if !ok {
		respondError(c, ledger.ErrStalePrice)
		return
	}
	stale := h.Staleness > 0 && time.Since(at) > h.Staleness
	Ok(c, gin.H{
		"ticker":     strings.ToUpper(ticker),
		"price":      price,
		"updated_at": at,
		"stale":      stale,
	}, nil)
}

type instrumentStatus struct {
	Ticker     string           `json:"ticker"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	UpdatedAt  *time.Time       `json:"updated_at,omitempty"`
	AgeSeconds *float64         `json:"age_seconds,omitempty"`
}

func (h *MarketHandler) status(c *gin.Context) {
	if h.Cache == nil {
		Error(c, http.StatusInternalServerError, "price cache unavailable", nil)
		return
	}
	now := time.Now()
	instruments := h.Cache.ListInstruments()
	statuses := make([]instrumentStatus, 0, len(instruments))
	for _, inst := range instruments {
		st := instrumentStatus{Ticker: inst.Ticker}
		if !inst.LastPriceUpdatedAt.IsZero() {
			price := inst.LastPrice
			at := inst.LastPriceUpdatedAt
			age := now.Sub(at).Seconds()
			st.Price = &price
			st.UpdatedAt = &at
			st.AgeSeconds = &age
		}
		statuses = append(statuses, st)
	}
	last := h.Cache.LastRefreshedAt()
	resp := gin.H{
		"instruments": statuses,
		"stale":       h.Cache.Stale(h.Staleness),
	}
	if !last.IsZero() {
		resp["last_refreshed_at"] = last
	}
	Ok(c, resp, nil)
}

func (h *MarketHandler) refresh(c *gin.Context) {
	if h.Refresher == nil {
		Error(c, http.StatusInternalServerError, "refresher unavailable", nil)
		return
	}
	if err := h.Refresher.RunOnce(c.Request.Context()); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"refreshed_at": h.Cache.LastRefreshedAt()}, nil)
}
