package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"menu-planner/internal/app"
	"menu-planner/internal/config"
	"menu-planner/internal/metrics"
	"menu-planner/internal/planner"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// contextBloatTokens triggers an admin alert when a single selection prompt
// grows past it.
const contextBloatTokens = 4000

// Service is the part of the application the bot talks to.
type Service interface {
	UpdateUserMenu(ctx context.Context, userID string, in app.UpdateInput) (*planner.UpdateResult, error)
	ShowMenu(ctx context.Context, userID string) (app.MenuView, error)
	UpdateProfile(ctx context.Context, userID string, update app.ProfileUpdate) (*planner.Profile, error)
	DailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
	Health() metrics.SysHealth
}

// Sender delivers outgoing messages. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot serves the Telegram webhook.
type Bot struct {
	api     *tgbotapi.BotAPI
	sender  Sender
	svc     Service
	allowed map[int64]struct{}
	adminID int64
	logger  *zap.Logger

	requestTimeout time.Duration
	wg             sync.WaitGroup
}

// NewBot initializes the Telegram API and sets the webhook when one is
// configured.
func NewBot(cfg *config.Config, svc Service, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("authorized on telegram", zap.String("account", api.Self.UserName))

	if cfg.TelegramWebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("failed to build webhook for %s: %w", cfg.TelegramWebhookURL, err)
		}
		resp, err := api.Request(wh)
		if err != nil {
			return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
		}
		logger.Info("webhook set", zap.String("response", resp.Description))
	}

	return newBot(api, api, svc, cfg.TelegramAllowUserIDs, cfg.TelegramAdminUserID, logger), nil
}

func newBot(api *tgbotapi.BotAPI, sender Sender, svc Service, allowIDs []int64, adminID int64, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[int64]struct{}, len(allowIDs)+1)
	for _, id := range allowIDs {
		allowed[id] = struct{}{}
	}
	if adminID != 0 {
		allowed[adminID] = struct{}{}
	}
	return &Bot{
		api:            api,
		sender:         sender,
		svc:            svc,
		allowed:        allowed,
		adminID:        adminID,
		logger:         logger,
		requestTimeout: 5 * time.Minute,
	}
}

// Handler returns the bot's HTTP routes: the webhook, a JSON health report
// and the Prometheus metrics of gatherer.
func (b *Bot) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", b.handleHealth)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Wait blocks until every message in flight has been answered.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(b.svc.Health()); err != nil {
		b.logger.Warn("failed to write health report", zap.Error(err))
	}
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.logger.Warn("error parsing update", zap.Error(err))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.isAllowed(msg.From.ID) {
		b.logger.Warn("unauthorized access attempt",
			zap.Int64("user_id", msg.From.ID),
			zap.String("username", msg.From.UserName),
		)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.requestTimeout)
		defer cancel()
		b.processMessage(ctx, msg)
	}()
}

func (b *Bot) isAllowed(userID int64) bool {
	_, ok := b.allowed[userID]
	return ok
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := strconv.FormatInt(msg.From.ID, 10)
	log := b.logger.With(zap.String("user_id", userID), zap.String("command", msg.Command()))

	var reply string
	switch msg.Command() {
	case "plan":
		b.handlePlan(ctx, msg, userID)
		return
	case "menu":
		reply = b.handleMenu(ctx, userID)
	case "prefs":
		reply = b.handlePreferences(ctx, userID, msg.CommandArguments())
	case "allergens":
		reply = b.handleAllergens(ctx, userID, msg.CommandArguments())
	case "metrics":
		if msg.From.ID != b.adminID {
			reply = "Access denied: admin only."
			break
		}
		reply = b.handleMetrics(ctx)
	default:
		reply = helpText
	}

	if _, err := b.sender.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
		log.Warn("failed to send reply", zap.Error(err))
	}
}

func (b *Bot) handlePlan(ctx context.Context, msg *tgbotapi.Message, userID string) {
	in, err := parsePlanArgs(msg.CommandArguments())
	if err != nil {
		b.send(tgbotapi.NewMessage(msg.Chat.ID, err.Error()+"\n\n"+planUsage))
		return
	}

	sent, err := b.sender.Send(tgbotapi.NewMessage(msg.Chat.ID, "Planning your meals..."))
	if err != nil {
		b.logger.Warn("failed to send initial reply", zap.Error(err))
		return
	}

	var text string
	res, err := b.svc.UpdateUserMenu(ctx, userID, in)
	if err != nil {
		b.logger.Error("error updating menu", zap.String("user_id", userID), zap.Error(err))
		if errors.Is(err, planner.ErrInjectionDetected) {
			b.sendAdminAlert(fmt.Sprintf("Injection detected while planning for user %s", userID))
		}
		text = describeError(err)
	} else {
		for _, m := range res.Metas {
			if m.Usage.PromptTokens > contextBloatTokens {
				b.sendAdminAlert(fmt.Sprintf("Context bloat alert\nAgent: %s\nModel: %s\nPrompt tokens: %d",
					m.AgentName, m.Usage.Model, m.Usage.PromptTokens))
			}
		}
		view, viewErr := b.svc.ShowMenu(ctx, userID)
		if viewErr != nil {
			b.logger.Warn("failed to load menu", zap.String("user_id", userID), zap.Error(viewErr))
		}
		text = formatUpdate(res, view)
	}

	b.send(tgbotapi.NewEditMessageText(msg.Chat.ID, sent.MessageID, text))
}

func (b *Bot) handleMenu(ctx context.Context, userID string) string {
	view, err := b.svc.ShowMenu(ctx, userID)
	if err != nil {
		b.logger.Error("error loading menu", zap.String("user_id", userID), zap.Error(err))
		return describeError(err)
	}
	return view.String()
}

func (b *Bot) handlePreferences(ctx context.Context, userID, text string) string {
	prefs, err := parsePreferences(text)
	if err != nil {
		return err.Error()
	}
	if _, err := b.svc.UpdateProfile(ctx, userID, app.ProfileUpdate{Preferences: &prefs}); err != nil {
		b.logger.Error("error saving preferences", zap.String("user_id", userID), zap.Error(err))
		return describeError(err)
	}
	if prefs == "" {
		return "Preferences cleared."
	}
	return "Preferences saved: " + prefs
}

func (b *Bot) handleAllergens(ctx context.Context, userID, text string) string {
	allergens := normalizeAllergens(text)
	if _, err := b.svc.UpdateProfile(ctx, userID, app.ProfileUpdate{Allergens: &allergens}); err != nil {
		b.logger.Error("error saving allergens", zap.String("user_id", userID), zap.Error(err))
		return describeError(err)
	}
	if allergens == "" {
		return "Allergens cleared."
	}
	return "Allergens saved: " + allergens
}

func (b *Bot) handleMetrics(ctx context.Context) string {
	usage, err := b.svc.DailyUsage(ctx, 7)
	if err != nil {
		b.logger.Error("error fetching metrics", zap.Error(err))
		return "Error fetching metrics."
	}
	return formatMetrics(usage, b.svc.Health())
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.sender.Send(c); err != nil {
		b.logger.Warn("failed to send message", zap.Error(err))
	}
}

func (b *Bot) sendAdminAlert(text string) {
	if b.adminID == 0 {
		return
	}
	b.send(tgbotapi.NewMessage(b.adminID, text))
}
