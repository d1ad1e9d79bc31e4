// Package telegram binds the conversation manager to a live Telegram bot:
// a context factory that rehydrates stored updates, an outbound-call driver
// that dispatches by method name, and a webhook server wiring the two
// together over echo.
package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Outbound method names recognized by Driver.Call.
const (
	MethodSendMessage  = "sendMessage"
	MethodSendPhoto    = "sendPhoto"
	MethodSendAudio    = "sendAudio"
	MethodSendVideo    = "sendVideo"
	MethodSendDocument = "sendDocument"

	// DefaultParseMode matches the channel's own default in the original
	// chat_apps Telegram binding.
	DefaultParseMode = "Markdown"
)

// SendMessageArgs is the Call args shape for MethodSendMessage.
type SendMessageArgs struct {
	ChatID    int64
	Text      string
	ParseMode string
}

// SendMediaArgs is the Call args shape for every media-sending method.
type SendMediaArgs struct {
	ChatID    int64
	FileName  string
	Data      []byte
	Caption   string
	ParseMode string
}

// Driver adapts a *tgbotapi.BotAPI into conversation.APIDriver: one opaque
// Call per outbound action, dispatched by method name onto the bot's own
// Send calls, exactly as the channel's sendText/sendPhoto/sendAudio/
// sendVideo/sendDocument helpers do.
type Driver struct {
	bot *tgbotapi.BotAPI
}

// NewDriver wraps bot for use as a conversation.APIDriver.
func NewDriver(bot *tgbotapi.BotAPI) *Driver {
	return &Driver{bot: bot}
}

// Call dispatches method against args and returns the sent message's ID.
func (d *Driver) Call(ctx context.Context, method string, args any) (any, error) {
	switch method {
	case MethodSendMessage:
		a, ok := args.(SendMessageArgs)
		if !ok {
			return nil, errors.Errorf("telegram: %s expects SendMessageArgs, got %T", method, args)
		}
		msg := tgbotapi.NewMessage(a.ChatID, a.Text)
		if a.ParseMode != "" {
			msg.ParseMode = a.ParseMode
		}
		sent, err := d.bot.Send(msg)
		if err != nil {
			return nil, errors.Wrap(err, "telegram: sendMessage")
		}
		return sent.MessageID, nil

	case MethodSendPhoto:
		a, ok := args.(SendMediaArgs)
		if !ok {
			return nil, errors.Errorf("telegram: %s expects SendMediaArgs, got %T", method, args)
		}
		photo := tgbotapi.NewPhoto(a.ChatID, tgbotapi.FileBytes{Name: a.FileName, Bytes: a.Data})
		photo.Caption = a.Caption
		if a.ParseMode != "" {
			photo.ParseMode = a.ParseMode
		}
		sent, err := d.bot.Send(photo)
		if err != nil {
			return nil, errors.Wrap(err, "telegram: sendPhoto")
		}
		return sent.MessageID, nil

	case MethodSendAudio:
		a, ok := args.(SendMediaArgs)
		if !ok {
			return nil, errors.Errorf("telegram: %s expects SendMediaArgs, got %T", method, args)
		}
		audio := tgbotapi.NewAudio(a.ChatID, tgbotapi.FileBytes{Name: a.FileName, Bytes: a.Data})
		audio.Caption = a.Caption
		sent, err := d.bot.Send(audio)
		if err != nil {
			return nil, errors.Wrap(err, "telegram: sendAudio")
		}
		return sent.MessageID, nil

	case MethodSendVideo:
		a, ok := args.(SendMediaArgs)
		if !ok {
			return nil, errors.Errorf("telegram: %s expects SendMediaArgs, got %T", method, args)
		}
		video := tgbotapi.NewVideo(a.ChatID, tgbotapi.FileBytes{Name: a.FileName, Bytes: a.Data})
		video.Caption = a.Caption
		if a.ParseMode != "" {
			video.ParseMode = a.ParseMode
		}
		sent, err := d.bot.Send(video)
		if err != nil {
			return nil, errors.Wrap(err, "telegram: sendVideo")
		}
		return sent.MessageID, nil

	case MethodSendDocument:
		a, ok := args.(SendMediaArgs)
		if !ok {
			return nil, errors.Errorf("telegram: %s expects SendMediaArgs, got %T", method, args)
		}
		doc := tgbotapi.NewDocument(a.ChatID, tgbotapi.FileBytes{Name: a.FileName, Bytes: a.Data})
		doc.Caption = a.Caption
		sent, err := d.bot.Send(doc)
		if err != nil {
			return nil, errors.Wrap(err, "telegram: sendDocument")
		}
		return sent.MessageID, nil

	default:
		return nil, errors.Errorf("telegram: unrecognized outbound method %q", method)
	}
}
