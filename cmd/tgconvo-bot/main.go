// Command tgconvo-bot is a minimal Telegram bot demonstrating the
// conversation plugin end to end: a two-turn "greet" conversation and, when
// an API key is configured, an "ask" conversation backed by a real LLM
// completion recorded through convohelpers.AskLLM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/tgconvo/conversation"
	"github.com/hrygo/tgconvo/convohelpers"
	"github.com/hrygo/tgconvo/internal/version"
	"github.com/hrygo/tgconvo/storage"
	"github.com/hrygo/tgconvo/storage/sqlite"
	"github.com/hrygo/tgconvo/telegram"
)

// minSchemaVersion is the oldest binary version allowed to open the sqlite
// storage this codebase writes. Bump it whenever storage.Data's on-disk
// shape changes in a way an older binary would misread; it starts equal to
// the package default so an unreleased dev build still runs.
const minSchemaVersion = "0.0.0-dev"

var rootCmd = &cobra.Command{
	Use:   "tgconvo-bot",
	Short: "An example Telegram bot demonstrating the conversation plugin's replay engine.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
	RunE: run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build and version metadata.",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.StringFull())
		return nil
	},
}

func init() {
	viper.SetDefault("addr", ":8080")
	viper.SetDefault("data", "./tgconvo.db")
	viper.SetDefault("openai-model", "gpt-4o-mini")

	rootCmd.PersistentFlags().String("bot-token", "", "Telegram bot token")
	rootCmd.PersistentFlags().String("addr", ":8080", "address the webhook server listens on")
	rootCmd.PersistentFlags().String("webhook-url", "", "public URL Telegram should POST updates to; registered on startup if set")
	rootCmd.PersistentFlags().String("data", "./tgconvo.db", "sqlite database path; empty uses in-memory storage")
	rootCmd.PersistentFlags().String("openai-api-key", "", "API key for the optional ask conversation's completion helper")
	rootCmd.PersistentFlags().String("openai-base-url", "", "OpenAI-compatible base URL (empty uses the OpenAI default)")
	rootCmd.PersistentFlags().String("openai-model", "gpt-4o-mini", "model name for the ask conversation")

	for _, name := range []string{"bot-token", "addr", "webhook-url", "data", "openai-api-key", "openai-base-url", "openai-model"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("tgconvo")
	viper.AutomaticEnv()

	rootCmd.AddCommand(versionCmd)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("tgconvo-bot starting", "version", version.String())

	botToken := viper.GetString("bot-token")
	if botToken == "" {
		return errors.New("tgconvo-bot: --bot-token (or TGCONVO_BOT_TOKEN) is required")
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return fmt.Errorf("tgconvo-bot: create bot: %w", err)
	}

	facade, closeStore, err := openStorage(ctx, viper.GetString("data"))
	if err != nil {
		return err
	}
	defer closeStore()

	registry := conversation.NewRegistry[telegram.Context]()
	registerGreet(registry)

	askEnabled := false
	if key := viper.GetString("openai-api-key"); key != "" {
		llm := convohelpers.NewLLM(convohelpers.Config{
			APIKey:  key,
			BaseURL: viper.GetString("openai-base-url"),
			Model:   viper.GetString("openai-model"),
		})
		registerAsk(registry, llm)
		askEnabled = true
	}

	manager := conversation.NewManager(registry, conversation.Options[telegram.Context]{
		Storage: facade,
		OnEnter: func(name string) { slog.Info("conversation entered", "name", name) },
		OnExit:  func(name string) { slog.Info("conversation exited", "name", name) },
	})

	srv := telegram.NewServer(bot, manager, telegram.WithNext(routeToConversation(askEnabled)))

	if webhookURL := viper.GetString("webhook-url"); webhookURL != "" {
		if err := srv.SetWebhook(webhookURL, false); err != nil {
			return fmt.Errorf("tgconvo-bot: set webhook: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("tgconvo-bot shutting down")
		_ = srv.Shutdown(ctx)
		cancel()
	}()

	slog.Info("tgconvo-bot listening", "addr", viper.GetString("addr"))
	if err := srv.Start(viper.GetString("addr")); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("tgconvo-bot: webhook server: %w", err)
	}
	return nil
}

// routeToConversation enters "ask" for messages starting with "/ask " (when
// enabled) and "greet" for everything else, as long as nothing is already
// active in the chat.
func routeToConversation(askEnabled bool) conversation.Next[telegram.Context] {
	return func(ctx context.Context, active *conversation.Active[telegram.Context]) error {
		if active.ActiveCount("") > 0 {
			return nil
		}
		update, ok := active.Event().(tgbotapi.Update)
		if !ok || update.Message == nil {
			return nil
		}
		if askEnabled && strings.HasPrefix(update.Message.Text, "/ask ") {
			return active.Enter(ctx, "ask")
		}
		return active.Enter(ctx, "greet")
	}
}

func openStorage(ctx context.Context, dsn string) (*storage.Facade, func() error, error) {
	if !version.IsVersionGreaterOrEqualThan(version.Version, minSchemaVersion) {
		return nil, nil, fmt.Errorf("tgconvo-bot: running version %s is older than the minimum schema version %s this storage layout requires", version.Version, minSchemaVersion)
	}
	if dsn == "" {
		return storage.NewFacade(storage.NewMemoryBackend(), 0), func() error { return nil }, nil
	}
	store, err := sqlite.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("tgconvo-bot: open storage: %w", err)
	}
	return storage.NewFacade(storage.NewKeyed(store), 0), store.Close, nil
}

func registerGreet(registry *conversation.Registry[telegram.Context]) {
	builder := func(ctx context.Context, h *conversation.Handle[telegram.Context]) (any, error) {
		first, err := h.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := first.API.Reply(ctx, "Hi! What's your name?"); err != nil {
			return nil, err
		}

		second, err := h.Wait(ctx)
		if err != nil {
			return nil, err
		}
		name := "friend"
		if second.Update.Message != nil && second.Update.Message.Text != "" {
			name = second.Update.Message.Text
		}
		_, err = second.API.Reply(ctx, fmt.Sprintf("Nice to meet you, %s.", name))
		return nil, err
	}

	if err := registry.Register(conversation.Definition[telegram.Context]{
		Name:    "greet",
		Builder: builder,
		MaxWait: 24 * time.Hour,
	}); err != nil {
		panic(err)
	}
}

func registerAsk(registry *conversation.Registry[telegram.Context], llm *convohelpers.LLM) {
	builder := func(ctx context.Context, h *conversation.Handle[telegram.Context]) (any, error) {
		turn, err := h.Wait(ctx)
		if err != nil {
			return nil, err
		}
		question := strings.TrimPrefix(turn.Update.Message.Text, "/ask ")

		reply, err := convohelpers.AskLLM(ctx, h, llm, "answer", []convohelpers.Message{
			{Role: "system", Content: "Answer in one short paragraph."},
			{Role: "user", Content: question},
		})
		if err != nil {
			_, sendErr := turn.API.Reply(ctx, "Sorry, I couldn't reach the model.")
			return nil, sendErr
		}

		_, err = turn.API.Reply(ctx, reply.Content)
		return nil, err
	}

	if err := registry.Register(conversation.Definition[telegram.Context]{
		Name:    "ask",
		Builder: builder,
		MaxWait: 5 * time.Minute,
	}); err != nil {
		panic(err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("tgconvo-bot exited with error", "error", err)
		os.Exit(1)
	}
}
