// Package server exposes the thin administrative HTTP surface: registration,
// user and transaction listings, an out-of-band confirm, and a broadcast to
// every registered user.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Jazaniest/ourMid/engine"
	"github.com/Jazaniest/ourMid/ledger"
	"github.com/Jazaniest/ourMid/models"
	"github.com/Jazaniest/ourMid/pool"
	"github.com/Jazaniest/ourMid/transport"
)

// Server wires the admin HTTP API over the core components
type Server struct {
	echo     *echo.Echo
	ledger   *ledger.Ledger
	engine   *engine.Engine
	pool     *pool.Pool
	notifier transport.Notifier
	log      *slog.Logger
}

// New builds the admin server and registers its routes
func New(l *ledger.Ledger, e *engine.Engine, p *pool.Pool, n transport.Notifier, log *slog.Logger) *Server {
	s := &Server{
		echo:     echo.New(),
		ledger:   l,
		engine:   e,
		pool:     p,
		notifier: n,
		log:      log,
	}
	s.echo.HideBanner = true
	s.echo.Use(middleware.Recover())

	s.echo.POST("/api/register", s.register)
	s.echo.GET("/api/admin/users", s.listUsers)
	s.echo.GET("/api/admin/transactions", s.listTransactions)
	s.echo.GET("/api/admin/channels", s.listChannels)
	s.echo.POST("/api/admin/confirm/:txId", s.confirm)
	s.echo.POST("/api/admin/broadcast", s.broadcast)

	return s
}

// httpStatus maps a business-rule error to an HTTP status code
func httpStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrAlreadyExists),
		errors.Is(err, models.ErrAlreadyBusy),
		errors.Is(err, models.ErrNoFreeChannel),
		errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrAlreadyProcessed),
		errors.Is(err, models.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) register(c echo.Context) error {
	var req struct {
		TelegramID int64  `json:"telegram_id"`
		Name       string `json:"name"`
	}
	if err := c.Bind(&req); err != nil || req.TelegramID == 0 || req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "telegram_id and name are required"})
	}

	user, err := s.ledger.CreateUser(req.TelegramID, req.Name)
	if err != nil {
		return c.JSON(httpStatus(err), echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, user)
}

func (s *Server) listUsers(c echo.Context) error {
	users, err := s.ledger.Users()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch users"})
	}
	return c.JSON(http.StatusOK, users)
}

func (s *Server) listTransactions(c echo.Context) error {
	txs, err := s.ledger.Transactions()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch transactions"})
	}
	return c.JSON(http.StatusOK, txs)
}

func (s *Server) listChannels(c echo.Context) error {
	return c.JSON(http.StatusOK, s.pool.Status())
}

func (s *Server) confirm(c echo.Context) error {
	txID, err := strconv.ParseInt(c.Param("txId"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid transaction id"})
	}

	var req struct {
		BuyerID int64 `json:"buyer_id"`
	}
	if err := c.Bind(&req); err != nil || req.BuyerID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "buyer_id is required"})
	}

	tx, err := s.engine.Confirm(txID, req.BuyerID)
	if err != nil {
		return c.JSON(httpStatus(err), echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, tx)
}

func (s *Server) broadcast(c echo.Context) error {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&req); err != nil || req.Message == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "message is required"})
	}

	users, err := s.ledger.Users()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch users"})
	}

	requestID := uuid.NewString()
	sent := 0
	for _, u := range users {
		if err := s.notifier.Send(u.TelegramID, req.Message); err != nil {
			s.log.Warn("broadcast delivery failed", "request", requestID, "recipient", u.TelegramID, "err", err)
			continue
		}
		sent++
	}

	s.log.Info("broadcast finished", "request", requestID, "sent", sent, "total", len(users))
	return c.JSON(http.StatusOK, echo.Map{"success": true, "request_id": requestID, "sent": sent})
}

// Start begins serving on the given address, blocking until shutdown
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
