// Package bot implements the Telegram surface: commands, the genre menu and
// outgoing notifications.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"release_bot/internal/config"
	"release_bot/internal/source"
	"release_bot/internal/storage"
)

const genericError = "Something went wrong, please try again."

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api       telegramAPI
	store     storage.Storage
	primary   source.Primary
	secondary source.Secondary
	cfg       *config.Config
	log       *slog.Logger
	menus     *menus
	status    func() string
}

// New creates a Bot with the given Telegram token. secondary may be nil.
func New(token string, store storage.Storage, primary source.Primary, secondary source.Secondary, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:       api,
		store:     store,
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		log:       log.With("component", "bot"),
		menus:     newMenus(),
	}, nil
}

// SetStatusFunc registers the source of the cycle state shown by /stats.
func (b *Bot) SetStatusFunc(f func() string) {
	b.status = f
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendText sends a plain text message to a user.
func (b *Bot) SendText(userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", userID, "error", err)
		return fmt.Errorf("send message to %d: %w", userID, err)
	}
	return nil
}

// SendPhoto sends an image by URL with a caption.
func (b *Bot) SendPhoto(userID int64, imageURL, caption string) error {
	photo := tgbotapi.NewPhoto(userID, tgbotapi.FileURL(imageURL))
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send photo", "chat_id", userID, "error", err)
		return fmt.Errorf("send photo to %d: %w", userID, err)
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	_ = b.SendText(chatID, text)
}

// fail logs err and shows the user a generic message.
func (b *Bot) fail(chatID int64, op string, err error) {
	b.log.Error(op, "chat_id", chatID, "error", err)
	b.reply(chatID, genericError)
}

func senderID(msg *tgbotapi.Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return msg.Chat.ID
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID
	userID := senderID(msg)

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID, userID)
	case "help":
		b.handleHelp(chatID)
	case "upcoming":
		b.handleUpcoming(ctx, chatID, userID)
	case "details":
		b.handleDetails(ctx, chatID, args)
	case "news":
		b.handleNews(ctx, chatID)
	case "reset":
		b.handleReset(ctx, chatID, userID)
	case "broadcast":
		b.handleBroadcast(ctx, chatID, userID, args)
	case "stats":
		b.handleStats(ctx, chatID, userID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
