package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"updown/internal/repository"
	"updown/internal/service"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

type AccountsHandler struct {
	Repo     repository.Repository
	Accounts *service.AccountService
}

func (h *AccountsHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/balances/:user_id", h.balances)
	r.GET("/api/v1/transactions", h.transactions)

	g := r.Group("/api/v1/accounts")
	g.POST("/:user_id/deposit", h.deposit)
	g.POST("/:user_id/withdraw", h.withdraw)
}

func (h *AccountsHandler) balances(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		Error(c, http.StatusBadRequest, "invalid user id", nil)
		return
	}
	items, err := h.Repo.ListBalances(c.Request.Context(), userID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *AccountsHandler) transactions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListTransactionsParams{
		Limit:       limit,
		Offset:      offset,
		UserID:      strQueryPtr(c, "user_id"),
		Type:        strQueryPtr(c, "type"),
		ReferenceID: strQueryPtr(c, "reference_id"),
		Since:       timeQueryPtr(c, "since"),
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"created_at": "created_at",
			"amount":     "amount",
		}),
		Asc:         boolPtr(false),
	}
	items, err := h.Repo.ListTransactions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (h *AccountsHandler) deposit(c *gin.Context) {
	h.applyAmount(c, true)
}

func (h *AccountsHandler) withdraw(c *gin.Context) {
	h.applyAmount(c, false)
}

func (h *AccountsHandler) applyAmount(c *gin.Context, deposit bool) {
	if h.Accounts == nil {
		Error(c, http.StatusInternalServerError, "account service unavailable", nil)
		return
	}
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		Error(c, http.StatusBadRequest, "invalid user id", nil)
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	amount, ok := decimalField(req.Amount)
	if !ok || !amount.IsPositive() {
		Error(c, http.StatusBadRequest, "amount must be a positive decimal", nil)
		return
	}

	var err error
	var txn any
	if deposit {
		txn, err = h.Accounts.Deposit(c.Request.Context(), userID, amount)
	} else {
		txn, err = h.Accounts.Withdraw(c.Request.Context(), userID, amount)
	}
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, txn, nil)
}
