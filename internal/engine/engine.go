// Package engine is the bot orchestrator: a registry of DCA bots, one
// runner task per active bot, and the two fleet-wide periodic tasks
// (order reconciler, balance waiter). All deal mutations for a bot happen
// under that bot's runner lock, so price-driven strategy evaluation and
// reconciliation never interleave on the same deal.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"dcafleet/internal/config"
	"dcafleet/internal/exchange"
	"dcafleet/internal/ledger"
	"dcafleet/internal/logger"
	"dcafleet/internal/models"
	"dcafleet/internal/notify"
	"dcafleet/internal/store"
)

type Engine struct {
	cfg    config.EngineConfig
	client exchange.Gateway
	feed   exchange.PriceFeed
	ledger *ledger.Ledger
	repo   store.Repository
	bus    notify.Notifier
	log    *logger.Logger

	mu      sync.Mutex
	runners map[string]*runner
}

func New(cfg config.EngineConfig, client exchange.Gateway, feed exchange.PriceFeed, dl *ledger.Ledger, repo store.Repository, bus notify.Notifier, log *logger.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		client:  client,
		feed:    feed,
		ledger:  dl,
		repo:    repo,
		bus:     bus,
		log:     log,
		runners: make(map[string]*runner),
	}
}

// CreateBot validates the config and registers a new stopped bot.
// Invalid configs are rejected here and never reach a runner.
func (e *Engine) CreateBot(name string, cfg models.BotConfig) (models.Bot, error) {
	if err := cfg.Validate(); err != nil {
		return models.Bot{}, err
	}

	bot := models.Bot{
		ID:     uuid.New().String(),
		Name:   name,
		Status: models.BotStatusStopped,
		Config: cfg,
	}
	if bot.Name == "" {
		bot.Name = fmt.Sprintf("DCA Bot %s", bot.ID[:8])
	}

	e.mu.Lock()
	e.runners[bot.ID] = newRunner(e, bot)
	e.mu.Unlock()

	e.persistBot(bot)
	e.logEntry(bot.ID).WithFields(map[string]interface{}{
		"pair": cfg.Pair,
		"name": bot.Name,
	}).Info("bot created")
	return bot, nil
}

// Restore loads bots and their open deals from the store. Bots persisted
// mid-run come back as stopped (paused stays paused); a later Start
// resumes against the restored deal instead of opening a new one.
func (e *Engine) Restore(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	bots, err := e.repo.ListBots(ctx)
	if err != nil {
		return fmt.Errorf("restore bots: %w", err)
	}

	for _, bot := range bots {
		if bot.Status.Active() {
			bot.Status = models.BotStatusStopped
			if err := e.repo.UpdateBotStatus(ctx, bot.ID, bot.Status); err != nil {
				e.logEntry(bot.ID).WithError(err).Warn("failed to persist restored status")
			}
		}

		deal, err := e.repo.ActiveDeal(ctx, bot.ID)
		if err != nil {
			return fmt.Errorf("restore deal for bot %s: %w", bot.ID, err)
		}
		if deal != nil {
			e.ledger.RestoreDeal(*deal)
		}

		e.mu.Lock()
		e.runners[bot.ID] = newRunner(e, bot)
		e.mu.Unlock()
	}

	e.log.WithComponent("engine").WithFields(map[string]interface{}{
		"bots": len(bots),
	}).Info("state restored from store")
	return nil
}

// StartBot transitions stopped/paused/error -> starting and spawns the
// bot's runner task.
func (e *Engine) StartBot(ctx context.Context, botID string) error {
	r, err := e.runner(botID)
	if err != nil {
		return err
	}
	return r.start(ctx)
}

// StopBot cancels the bot's price subscription and deregisters it from the
// periodic loops. The open deal and any resting exchange orders are left
// untouched for later inspection.
func (e *Engine) StopBot(botID string) error {
	r, err := e.runner(botID)
	if err != nil {
		return err
	}
	return r.halt(models.BotStatusStopped)
}

// PauseBot is StopBot with a resumable status.
func (e *Engine) PauseBot(botID string) error {
	r, err := e.runner(botID)
	if err != nil {
		return err
	}
	return r.halt(models.BotStatusPaused)
}

func (e *Engine) GetBotStatus(botID string) (models.Bot, error) {
	r, err := e.runner(botID)
	if err != nil {
		return models.Bot{}, err
	}
	return r.snapshot(), nil
}

// ActiveDeal exposes the bot's open deal (a copy) to the API layer.
func (e *Engine) ActiveDeal(botID string) (*models.Deal, error) {
	if _, err := e.runner(botID); err != nil {
		return nil, err
	}
	return e.ledger.ActiveDeal(botID), nil
}

// DeleteBot removes a non-running bot and its persisted history.
func (e *Engine) DeleteBot(botID string) error {
	r, err := e.runner(botID)
	if err != nil {
		return err
	}
	if r.status().Active() {
		return fmt.Errorf("bot %s is running, stop it first", botID)
	}

	e.mu.Lock()
	delete(e.runners, botID)
	e.mu.Unlock()

	if e.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := e.repo.DeleteBot(ctx, botID); err != nil {
			return fmt.Errorf("delete bot %s: %w", botID, err)
		}
	}
	e.logEntry(botID).Info("bot deleted")
	return nil
}

func (e *Engine) ListBots() []models.Bot {
	e.mu.Lock()
	runners := make([]*runner, 0, len(e.runners))
	for _, r := range e.runners {
		runners = append(runners, r)
	}
	e.mu.Unlock()

	bots := make([]models.Bot, 0, len(runners))
	for _, r := range runners {
		bots = append(bots, r.snapshot())
	}
	return bots
}

// Shutdown cancels every running subscription. Statuses are left as-is so
// a restart can restore them from the store.
func (e *Engine) Shutdown() {
	for _, r := range e.activeRunners() {
		r.cancelSubscription()
	}
}

func (e *Engine) runner(botID string) (*runner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runners[botID]
	if !ok {
		return nil, fmt.Errorf("bot %s not found", botID)
	}
	return r, nil
}

// activeRunners is the working set for the reconciler and balance waiter:
// stopped and paused bots are excluded the moment they transition.
func (e *Engine) activeRunners() []*runner {
	e.mu.Lock()
	defer e.mu.Unlock()
	var active []*runner
	for _, r := range e.runners {
		if r.status().Active() {
			active = append(active, r)
		}
	}
	return active
}

func (e *Engine) persistBot(bot models.Bot) {
	if e.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.repo.SaveBot(ctx, bot); err != nil {
		e.logEntry(bot.ID).WithError(err).Error("failed to persist bot")
	}
}

func (e *Engine) notify(bot models.Bot, message string, severity notify.Severity) {
	if e.bus == nil {
		return
	}
	e.bus.Notify(notify.Event{
		BotID:    bot.ID,
		BotName:  bot.Name,
		Message:  message,
		Severity: severity,
	})
}
