package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: msg})
}

// failErr maps err to its HTTP status. Internal errors are logged and
// reported without detail.
func (s *Server) failErr(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		fail(c, status, "internal error")
		return
	}
	fail(c, status, err.Error())
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrBelowMinimum),
		errors.Is(err, domain.ErrAboveMaximum),
		errors.Is(err, domain.ErrDailyLimitExceeded),
		errors.Is(err, domain.ErrWeeklyLimitExceeded),
		errors.Is(err, domain.ErrMonthlyLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrReorgInvalidation),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, storage.ErrConflict),
		errors.Is(err, storage.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExternalServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUnknownDepositAddress),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownAsset),
		errors.Is(err, domain.ErrUnknownNetwork),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnbalanced),
		errors.Is(err, domain.ErrInvalidEntry),
		errors.Is(err, domain.ErrAssetMismatch),
		errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	}
	// ErrInvalidPolicy and anything unclassified
	return http.StatusInternalServerError
}

// userID returns the caller's user id from the X-User-ID header.
func userID(c *gin.Context) (string, bool) {
	id := c.GetHeader("X-User-ID")
	if id == "" {
		fail(c, http.StatusUnauthorized, "X-User-ID header is required")
		return "", false
	}
	return id, true
}

// paging reads limit/offset query parameters.
func paging(c *gin.Context, defaultLimit int) (limit, offset int, valid bool) {
	limit, offset = defaultLimit, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, "invalid limit")
			return 0, 0, false
		}
		limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, "invalid offset")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	v := c.Query(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}
