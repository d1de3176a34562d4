package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"promoengine/internal/affiliate"
	"promoengine/internal/config"
	"promoengine/internal/domain"
)

// urlPattern pulls the first http(s) URL out of a message.
var urlPattern = regexp.MustCompile(`https?://\S+`)

// Handler holds dependencies for the Telegram bot handlers.
type Handler struct {
	bot     *tgbot.Bot
	cfg     config.Config
	manager *affiliate.Manager
	log     logrus.FieldLogger
}

// NewHandler creates a new bot handler instance.
func NewHandler(cfg config.Config, manager *affiliate.Manager, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")

	b, err := tgbot.New(cfg.TelegramBotToken)
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	h := &Handler{
		bot:     b,
		cfg:     cfg,
		manager: manager,
		log:     log,
	}

	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.startHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypeContains, h.convertHandler)

	log.Info("Telegram bot handler initialized")
	return h, nil
}

// Start begins polling for updates from Telegram.
// This function blocks until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped.")
}

// startHandler handles the /start command.
func (h *Handler) startHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.log.WithFields(logrus.Fields{
		"user_id": update.Message.From.ID,
		"command": "/start",
	})
	log.Info("Received /start command")

	welcome := fmt.Sprintf(
		"Send me a product link and I'll return the affiliate version.\nSupported marketplaces: %s.",
		strings.Join(h.manager.Registered(), ", "),
	)
	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   welcome,
	}); err != nil {
		log.WithError(err).Error("Failed to send welcome message")
	}
}

// convertHandler extracts the first URL from the message and runs it
// through the affiliate manager. The reply always carries a usable link.
func (h *Handler) convertHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.log.WithField("user_id", update.Message.From.ID)

	rawURL := urlPattern.FindString(update.Message.Text)
	if rawURL == "" {
		log.Debug("Message contains no URL, ignoring")
		return
	}

	marketplace := h.manager.DetectMarketplace(rawURL)
	result := h.manager.Convert(ctx, rawURL, marketplace)

	text := result.Link
	if result.Status == domain.StatusFallback {
		text = result.Link + "\n(could not generate an affiliate link, original returned)"
	}

	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
	}); err != nil {
		log.WithError(err).Error("Failed to send conversion reply")
	}
}
