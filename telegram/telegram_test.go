package telegram

import (
	"context"
	"encoding/json"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatID(t *testing.T) {
	msgChat := tgbotapi.Chat{ID: 42}
	for _, tc := range []struct {
		name string
		u    tgbotapi.Update
		want int64
	}{
		{"message", tgbotapi.Update{Message: &tgbotapi.Message{Chat: &msgChat}}, 42},
		{"edited message", tgbotapi.Update{EditedMessage: &tgbotapi.Message{Chat: &msgChat}}, 42},
		{"callback query", tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{Message: &tgbotapi.Message{Chat: &msgChat}}}, 42},
		{"nothing", tgbotapi.Update{}, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, chatID(tc.u))
		})
	}
}

func TestDecodeUpdate_DirectValueAndJSONRoundTrip(t *testing.T) {
	chat := tgbotapi.Chat{ID: 7}
	original := tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{Chat: &chat, Text: "hi"}}

	assert.Equal(t, original, decodeUpdate(original))
	assert.Equal(t, original, decodeUpdate(&original))

	blob, err := json.Marshal(original)
	require.NoError(t, err)
	var asAny any
	require.NoError(t, json.Unmarshal(blob, &asAny))

	decoded := decodeUpdate(asAny)
	assert.Equal(t, int64(7), chatID(decoded))
	assert.Equal(t, "hi", decoded.Message.Text)
}

type stubDriver struct{}

func (stubDriver) Call(ctx context.Context, method string, args any) (any, error) { return nil, nil }

func TestMakeContext(t *testing.T) {
	chat := tgbotapi.Chat{ID: 99}
	u := tgbotapi.Update{Message: &tgbotapi.Message{Chat: &chat}}

	ctx := MakeContext(u, stubDriver{})
	assert.Equal(t, int64(99), ctx.API.ChatID())
	assert.Equal(t, u, ctx.Update)
}

func TestDriver_Call_UnknownMethod(t *testing.T) {
	d := NewDriver(nil)
	_, err := d.Call(context.Background(), "bogus", nil)
	require.Error(t, err)
}

func TestDriver_Call_WrongArgsType(t *testing.T) {
	d := NewDriver(nil)
	_, err := d.Call(context.Background(), MethodSendMessage, "not the right type")
	require.Error(t, err)
}

func TestMessageID(t *testing.T) {
	assert.Equal(t, 5, messageID(5))
	assert.Equal(t, 5, messageID(float64(5)))
	assert.Equal(t, 0, messageID("nope"))
}
