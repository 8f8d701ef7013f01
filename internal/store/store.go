// Package store is the durable persistence collaborator: bots, deals and
// their orders in a single sqlite file. The engine treats it as
// write-through; a store failure never corrupts in-memory state.
package store

import (
	"context"

	"dcafleet/internal/models"
)

type Repository interface {
	Init(ctx context.Context) error
	Close() error

	SaveBot(ctx context.Context, bot models.Bot) error
	UpdateBotStatus(ctx context.Context, botID string, status models.BotStatus) error
	UpdateBotStats(ctx context.Context, botID string, pnlDelta float64, dealsDelta int) error
	ListBots(ctx context.Context) ([]models.Bot, error)
	DeleteBot(ctx context.Context, botID string) error

	UpsertDeal(ctx context.Context, deal *models.Deal) error
	ActiveDeal(ctx context.Context, botID string) (*models.Deal, error)
	ListDeals(ctx context.Context, botID string) ([]models.Deal, error)
}
