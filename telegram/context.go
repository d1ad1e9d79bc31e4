package telegram

import (
	"context"
	"encoding/json"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/tgconvo/conversation"
)

// Context is what a waiter's Wait call hands back: the inbound update plus
// an API facade scoped to that update's chat, routed through the per-wait
// interceptor.
type Context struct {
	Update tgbotapi.Update
	API    *API
}

// API is the chat-scoped convenience surface built over the raw
// conversation.APIDriver a Wait call supplies.
type API struct {
	driver conversation.APIDriver
	chatID int64
}

// Reply sends a text message to this context's chat and returns the sent
// message's ID.
func (a *API) Reply(ctx context.Context, text string) (int, error) {
	v, err := a.driver.Call(ctx, MethodSendMessage, SendMessageArgs{ChatID: a.chatID, Text: text, ParseMode: DefaultParseMode})
	if err != nil {
		return 0, err
	}
	return messageID(v), nil
}

// SendPhoto sends a photo with an optional caption to this context's chat.
func (a *API) SendPhoto(ctx context.Context, fileName string, data []byte, caption string) (int, error) {
	v, err := a.driver.Call(ctx, MethodSendPhoto, SendMediaArgs{ChatID: a.chatID, FileName: fileName, Data: data, Caption: caption})
	if err != nil {
		return 0, err
	}
	return messageID(v), nil
}

// SendDocument sends a document with an optional caption to this context's
// chat.
func (a *API) SendDocument(ctx context.Context, fileName string, data []byte, caption string) (int, error) {
	v, err := a.driver.Call(ctx, MethodSendDocument, SendMediaArgs{ChatID: a.chatID, FileName: fileName, Data: data, Caption: caption})
	if err != nil {
		return 0, err
	}
	return messageID(v), nil
}

// ChatID returns the chat ID this API facade was bound to.
func (a *API) ChatID() int64 { return a.chatID }

// messageID normalizes Driver.Call's returned message ID: on the live run it
// comes back as the int the driver returned directly; once the recorded
// call result is replayed from persisted storage (see
// conversation.interceptingAPI) it is a JSON number decoded as float64, so
// both are handled.
func messageID(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// MakeContext implements conversation.ContextFactory[Context]: it rehydrates
// the stored event back into a concrete tgbotapi.Update — a direct type
// assertion on the run that actually waited, a JSON round trip once replayed
// from persisted storage — and wires api as that update's outbound-call
// facade.
func MakeContext(event any, api conversation.APIDriver) Context {
	update := decodeUpdate(event)
	return Context{Update: update, API: &API{driver: api, chatID: chatID(update)}}
}

func decodeUpdate(raw any) tgbotapi.Update {
	switch v := raw.(type) {
	case tgbotapi.Update:
		return v
	case *tgbotapi.Update:
		return *v
	default:
		var out tgbotapi.Update
		blob, err := json.Marshal(raw)
		if err != nil {
			return out
		}
		_ = json.Unmarshal(blob, &out)
		return out
	}
}

// chatID extracts the chat ID from an update the same way the channel's own
// ExtractChatID does, generalized to the message shapes this binding cares
// about.
func chatID(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil:
		return u.Message.Chat.ID
	case u.EditedMessage != nil:
		return u.EditedMessage.Chat.ID
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message.Chat.ID
	default:
		return 0
	}
}
