package api

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/matheus3301/jot/internal/model"
	"github.com/matheus3301/jot/internal/remote"
	"go.uber.org/zap"
)

// Records is the read side of the record store.
type Records interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	ChatsByUser(ctx context.Context, userID string) ([]model.Chat, error)
	MessagesByChat(ctx context.Context, chatID string) ([]model.Message, error)
}

// Admin is the read-only HTTP surface over the record store.
type Admin struct {
	e       *echo.Echo
	records Records
	ping    func() error
	logger  *zap.Logger
}

// NewAdmin builds the admin routes. ping, when set, backs /healthz.
func NewAdmin(records Records, ping func() error, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("admin request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	a := &Admin{e: e, records: records, ping: ping, logger: logger}
	e.GET("/healthz", a.health)
	e.GET("/v1/users/:id", a.getUser)
	e.GET("/v1/users/:id/chats", a.listChats)
	e.GET("/v1/chats/:id/messages", a.listMessages)
	return a
}

// Handler returns the HTTP handler, for tests and custom servers.
func (a *Admin) Handler() http.Handler {
	return a.e
}

// Serve serves on l until Shutdown.
func (a *Admin) Serve(l net.Listener) error {
	a.e.Listener = l
	a.logger.Info("admin server starting", zap.String("addr", l.Addr().String()))
	err := a.e.Start("")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (a *Admin) Shutdown(ctx context.Context) error {
	a.logger.Info("admin server stopping")
	return a.e.Shutdown(ctx)
}

func (a *Admin) health(c echo.Context) error {
	if a.ping != nil {
		if err := a.ping(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Admin) getUser(c echo.Context) error {
	u, err := a.records.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (a *Admin) listChats(c echo.Context) error {
	chats, err := a.records.ChatsByUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if chats == nil {
		chats = []model.Chat{}
	}
	return c.JSON(http.StatusOK, map[string]any{"chats": chats})
}

func (a *Admin) listMessages(c echo.Context) error {
	msgs, err := a.records.MessagesByChat(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, remote.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
