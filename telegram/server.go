package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/tgconvo/conversation"
)

// Server wires a Telegram bot's webhook endpoint to a conversation.Manager:
// every update is decoded and handed to the manager as the incoming event,
// so any conversation active in that chat gets first refusal before next
// runs the bot's own non-conversation handling.
type Server struct {
	echo    *echo.Echo
	bot     *tgbotapi.BotAPI
	manager *conversation.Manager[Context]
	next    conversation.Next[Context]
}

// Option configures a Server.
type Option func(*Server)

// WithNext overrides the downstream handler run once the manager has given
// every registered conversation a chance to resume. The default is a no-op.
func WithNext(next conversation.Next[Context]) Option {
	return func(s *Server) { s.next = next }
}

// NewServer builds a webhook server around bot and manager, registering a
// single POST /webhook route.
func NewServer(bot *tgbotapi.BotAPI, manager *conversation.Manager[Context], opts ...Option) *Server {
	s := &Server{
		echo:    echo.New(),
		bot:     bot,
		manager: manager,
		next:    func(context.Context, *conversation.Active[Context]) error { return nil },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.echo.POST("/webhook", s.handleWebhook)
	return s
}

// Echo exposes the underlying router, for tests or additional routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start runs the webhook server, blocking until it stops.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the webhook server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleWebhook(c echo.Context) error {
	var update tgbotapi.Update
	if err := json.NewDecoder(c.Request().Body).Decode(&update); err != nil {
		slog.Warn("telegram webhook: failed to decode update", "error", err)
		return c.NoContent(http.StatusBadRequest)
	}

	chat := chatID(update)
	if chat == 0 {
		slog.Debug("telegram webhook: update carries no chat, ignoring")
		return c.NoContent(http.StatusOK)
	}

	driver := NewDriver(s.bot)
	if err := s.manager.Handle(c.Request().Context(), strconv.FormatInt(chat, 10), update, driver, MakeContext, s.next); err != nil {
		slog.Error("telegram webhook: conversation manager failed", "chat_id", chat, "error", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusOK)
}

// SetWebhook registers webhookURL with Telegram, mirroring the channel's own
// webhook lifecycle management.
func (s *Server) SetWebhook(webhookURL string, dropPendingUpdates bool) error {
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return errors.Wrap(err, "telegram: parse webhook url")
	}
	_, err = s.bot.Request(tgbotapi.WebhookConfig{URL: parsed, DropPendingUpdates: dropPendingUpdates})
	return errors.Wrap(err, "telegram: set webhook")
}

// DeleteWebhook removes the currently registered webhook.
func (s *Server) DeleteWebhook() error {
	_, err := s.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true})
	return errors.Wrap(err, "telegram: delete webhook")
}

// GetWebhookInfo returns information about the currently registered webhook.
func (s *Server) GetWebhookInfo() (tgbotapi.WebhookInfo, error) {
	return s.bot.GetWebhookInfo()
}
