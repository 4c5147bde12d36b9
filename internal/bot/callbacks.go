package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"release_bot/internal/genre"
	"release_bot/internal/model"
)

const (
	cbGenre = "genre"
	cbMenu  = "menu"

	menuDone    = "done"
	menuConfirm = "confirm"
	menuCancel  = "cancel"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, value, ok := ParseCallback(cb.Data)
	if !ok {
		return
	}

	userID := chatID
	if cb.From != nil {
		userID = cb.From.ID
		b.log.Info("callback",
			"action", action,
			"value", value,
			"chat_id", chatID,
			"user_id", cb.From.ID,
			"username", cb.From.UserName,
		)
	}

	switch action {
	case cbGenre:
		b.toggleGenre(chatID, cb.Message.MessageID, value)
	case cbMenu:
		switch value {
		case menuDone:
			b.menuDone(chatID)
		case menuConfirm:
			b.menuConfirm(ctx, chatID, userID)
		case menuCancel:
			b.menus.clear(chatID)
			b.reply(chatID, "Selection cancelled. Use /start to try again.")
		}
	}
}

func (b *Bot) toggleGenre(chatID int64, messageID int, value string) {
	tag := genre.Canonical(value)
	if !genre.Valid(tag) {
		return
	}
	selected := b.menus.toggle(chatID, tag)

	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, genreKeyboard(selected))
	if _, err := b.api.Request(edit); err != nil {
		b.log.Error("update genre menu", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) menuDone(chatID int64) {
	selected := b.menus.get(chatID)
	if len(selected) == 0 {
		b.reply(chatID, "Please select at least one genre!")
		return
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Selected genres: %s\nConfirm?", genreLabels(selected)))
	msg.ReplyMarkup = confirmKeyboard()
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send confirmation", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) menuConfirm(ctx context.Context, chatID, userID int64) {
	selected := b.menus.get(chatID)
	if len(selected) == 0 {
		b.reply(chatID, "Selection expired. Use /start to try again.")
		return
	}

	sub := &model.Subscriber{UserID: userID, Genres: selected}
	if err := b.store.SaveSubscriber(ctx, sub); err != nil {
		b.fail(chatID, "save subscriber", err)
		return
	}
	b.menus.clear(chatID)
	b.reply(chatID, fmt.Sprintf("Preferences saved: %s\nYou'll get notifications for upcoming releases! Use /upcoming to see them now.",
		genreLabels(selected)))
}
