package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"dcafleet/internal/models"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// modernc sqlite handles one writer; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			config_json TEXT NOT NULL,
			total_pnl REAL NOT NULL DEFAULT 0,
			deals_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS deals (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			status TEXT NOT NULL,
			entry_time TIMESTAMP NOT NULL,
			close_time TIMESTAMP,
			realized_pnl REAL NOT NULL DEFAULT 0,
			average_entry_price REAL NOT NULL DEFAULT 0,
			total_quantity REAL NOT NULL DEFAULT 0,
			FOREIGN KEY (bot_id) REFERENCES bots(id)
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			deal_id TEXT NOT NULL,
			order_id_str TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			order_type TEXT NOT NULL,
			status TEXT NOT NULL,
			FOREIGN KEY (deal_id) REFERENCES deals(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deals_bot_id ON deals(bot_id);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_deal_id ON orders(deal_id);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) SaveBot(ctx context.Context, bot models.Bot) error {
	cfg, err := json.Marshal(bot.Config)
	if err != nil {
		return fmt.Errorf("encode bot config: %w", err)
	}
	_, err = r.db.ExecContext(
		ctx,
		`INSERT INTO bots (id, name, status, config_json, total_pnl, deals_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			config_json = excluded.config_json,
			total_pnl = excluded.total_pnl,
			deals_count = excluded.deals_count`,
		bot.ID, bot.Name, string(bot.Status), string(cfg), bot.TotalPnl, bot.DealsCount,
	)
	if err != nil {
		return fmt.Errorf("save bot: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateBotStatus(ctx context.Context, botID string, status models.BotStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bots SET status = ? WHERE id = ?`, string(status), botID)
	if err != nil {
		return fmt.Errorf("update bot status: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateBotStats(ctx context.Context, botID string, pnlDelta float64, dealsDelta int) error {
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE bots SET total_pnl = total_pnl + ?, deals_count = deals_count + ? WHERE id = ?`,
		pnlDelta, dealsDelta, botID,
	)
	if err != nil {
		return fmt.Errorf("update bot stats: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListBots(ctx context.Context) ([]models.Bot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, status, config_json, total_pnl, deals_count FROM bots ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var bots []models.Bot
	for rows.Next() {
		var bot models.Bot
		var status, cfg string
		if err := rows.Scan(&bot.ID, &bot.Name, &status, &cfg, &bot.TotalPnl, &bot.DealsCount); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		if err := json.Unmarshal([]byte(cfg), &bot.Config); err != nil {
			return nil, fmt.Errorf("decode bot config: %w", err)
		}
		bot.Status = models.BotStatus(status)
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

func (r *SQLiteRepository) DeleteBot(ctx context.Context, botID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, botID)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	return nil
}

// UpsertDeal rewrites the deal row and its full order set in one
// transaction. The engine calls it after every ledger mutation, so the
// order rows are simply replaced in list order.
func (r *SQLiteRepository) UpsertDeal(ctx context.Context, deal *models.Deal) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deal tx: %w", err)
	}
	defer tx.Rollback()

	var closeTime any
	if deal.CloseTime != nil {
		closeTime = deal.CloseTime.UTC()
	}
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO deals (id, bot_id, status, entry_time, close_time, realized_pnl, average_entry_price, total_quantity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			close_time = excluded.close_time,
			realized_pnl = excluded.realized_pnl,
			average_entry_price = excluded.average_entry_price,
			total_quantity = excluded.total_quantity`,
		deal.ID, deal.BotID, string(deal.Status), deal.EntryTime.UTC(), closeTime,
		deal.RealizedPnl, deal.AverageEntryPrice, deal.TotalQuantity,
	)
	if err != nil {
		return fmt.Errorf("upsert deal: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE deal_id = ?`, deal.ID); err != nil {
		return fmt.Errorf("clear deal orders: %w", err)
	}

	insert := func(order models.Order) error {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO orders (deal_id, order_id_str, timestamp, side, price, quantity, order_type, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			deal.ID, order.ID, order.Timestamp.UTC(), string(order.Side),
			order.Price, order.Quantity, string(order.Kind), string(order.Status),
		)
		return err
	}

	if err := insert(deal.BaseOrder); err != nil {
		return fmt.Errorf("insert base order: %w", err)
	}
	for _, order := range deal.FilledSafetyOrders {
		if err := insert(order); err != nil {
			return fmt.Errorf("insert filled safety order: %w", err)
		}
	}
	for _, order := range deal.PendingSafetyOrders {
		if err := insert(order); err != nil {
			return fmt.Errorf("insert pending safety order: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) ActiveDeal(ctx context.Context, botID string) (*models.Deal, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT id, bot_id, status, entry_time, close_time, realized_pnl, average_entry_price, total_quantity
		 FROM deals WHERE bot_id = ? AND status = ?`,
		botID, string(models.DealStatusActive),
	)
	deal, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.loadOrders(ctx, deal); err != nil {
		return nil, err
	}
	return deal, nil
}

func (r *SQLiteRepository) ListDeals(ctx context.Context, botID string) ([]models.Deal, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, bot_id, status, entry_time, close_time, realized_pnl, average_entry_price, total_quantity
		 FROM deals WHERE bot_id = ? ORDER BY entry_time DESC`,
		botID,
	)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}

	// Single-connection pool: drain and close the deal rows before issuing
	// the per-deal order queries.
	var deals []models.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		deals = append(deals, *deal)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range deals {
		if err := r.loadOrders(ctx, &deals[i]); err != nil {
			return nil, err
		}
	}
	return deals, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*models.Deal, error) {
	var deal models.Deal
	var status string
	var entryTime time.Time
	var closeTime sql.NullTime
	if err := row.Scan(&deal.ID, &deal.BotID, &status, &entryTime, &closeTime,
		&deal.RealizedPnl, &deal.AverageEntryPrice, &deal.TotalQuantity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan deal: %w", err)
	}
	deal.Status = models.DealStatus(status)
	deal.EntryTime = entryTime
	if closeTime.Valid {
		t := closeTime.Time
		deal.CloseTime = &t
	}
	return &deal, nil
}

func (r *SQLiteRepository) loadOrders(ctx context.Context, deal *models.Deal) error {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT order_id_str, timestamp, side, price, quantity, order_type, status
		 FROM orders WHERE deal_id = ? ORDER BY id`,
		deal.ID,
	)
	if err != nil {
		return fmt.Errorf("load deal orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var order models.Order
		var side, kind, status string
		if err := rows.Scan(&order.ID, &order.Timestamp, &side, &order.Price, &order.Quantity, &kind, &status); err != nil {
			return fmt.Errorf("scan order: %w", err)
		}
		order.Side = models.OrderSide(side)
		order.Kind = models.OrderKind(kind)
		order.Status = models.OrderStatus(status)

		switch {
		case order.Kind == models.OrderKindBase:
			deal.BaseOrder = order
		case order.Status == models.OrderStatusFilled:
			deal.FilledSafetyOrders = append(deal.FilledSafetyOrders, order)
		default:
			deal.PendingSafetyOrders = append(deal.PendingSafetyOrders, order)
		}
	}
	return rows.Err()
}
