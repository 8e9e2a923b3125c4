// Package telegram delivers digest messages through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	// partDelay spaces out multi-part sends to stay inside flood limits.
	partDelay = 500 * time.Millisecond

	// maxSendAttempts bounds flood-wait retries per message.
	maxSendAttempts = 3

	readMoreLabel = "📖 Читать полностью"
)

// botAPI is the slice of tgbotapi.BotAPI the sender uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender posts digest messages to one chat.
type Sender struct {
	api    botAPI
	chatID int64
	logger *zerolog.Logger
}

// NewSender authorizes the bot and returns a sender for the chat.
func NewSender(token string, chatID int64, logger *zerolog.Logger) (*Sender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authorize telegram bot: %w", err)
	}

	return &Sender{api: api, chatID: chatID, logger: logger}, nil
}

// SendDigest delivers the digest parts in order. buttonURL, when set,
// attaches a read-more button to the last part.
func (s *Sender) SendDigest(ctx context.Context, parts []string, buttonURL string) error {
	for i, part := range parts {
		msg := tgbotapi.NewMessage(s.chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true

		if i == len(parts)-1 && buttonURL != "" {
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonURL(readMoreLabel, buttonURL),
				),
			)
		}

		if err := s.send(ctx, msg); err != nil {
			return fmt.Errorf("send digest part %d of %d: %w", i+1, len(parts), err)
		}

		if i < len(parts)-1 {
			if err := sleep(ctx, partDelay); err != nil {
				return err
			}
		}
	}

	return nil
}

// send retries a message while the API reports a flood wait.
func (s *Sender) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	var lastErr error

	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		_, err := s.api.Send(msg)
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
			return err
		}

		lastErr = err
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		s.logger.Warn().Dur("wait", wait).Msg("telegram flood wait, retrying")

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return fmt.Errorf("flood wait persisted after %d attempts: %w", maxSendAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
