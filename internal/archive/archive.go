// Package archive persists closed positions to SQLite so performance
// history survives restarts.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quanta/internal/market"
	"quanta/internal/portfolio"
	"quanta/internal/types"
)

type closedPositionModel struct {
	ID         uint   `gorm:"primaryKey"`
	Symbol     string `gorm:"index"`
	Timeframe  string
	Strategy   string `gorm:"index"`
	Side       string
	Size       string
	EntryPrice string
	StopLoss   string
	ExitPrice  string
	PnL        string
	RiskReward float64
	OpenedAt   time.Time
	ClosedAt   time.Time
	CreatedAt  time.Time
}

func (closedPositionModel) TableName() string { return "closed_positions" }

// Store wraps a gorm SQLite database of closed positions.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the archive database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("archive path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&closedPositionModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
	}
	return &Store{db: db}, nil
}

// SaveClosed appends a closed position to the archive.
func (s *Store) SaveClosed(ctx context.Context, p portfolio.Position) error {
	if p.Status != portfolio.StatusClosed {
		return fmt.Errorf("archive only accepts closed positions, got %s for %s", p.Status, p.Symbol)
	}
	rec := closedPositionModel{
		Symbol:     p.Symbol,
		Timeframe:  p.Timeframe.String(),
		Strategy:   p.Strategy,
		Side:       p.Side.String(),
		Size:       p.Size.String(),
		EntryPrice: p.EntryPrice.String(),
		StopLoss:   p.StopLoss.String(),
		ExitPrice:  p.ExitPrice.String(),
		PnL:        p.PnL.String(),
		RiskReward: p.RiskReward,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   p.ClosedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// ListByStrategy returns archived positions of a strategy, oldest first.
func (s *Store) ListByStrategy(ctx context.Context, strategy string) ([]portfolio.Position, error) {
	var recs []closedPositionModel
	err := s.db.WithContext(ctx).
		Where("strategy = ?", strategy).
		Order("id asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]portfolio.Position, 0, len(recs))
	for _, r := range recs {
		pos, err := toPosition(r)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toPosition(r closedPositionModel) (portfolio.Position, error) {
	size, err := decimal.NewFromString(r.Size)
	if err != nil {
		return portfolio.Position{}, fmt.Errorf("archive record %d has bad size %q: %w", r.ID, r.Size, err)
	}
	entry, err := decimal.NewFromString(r.EntryPrice)
	if err != nil {
		return portfolio.Position{}, fmt.Errorf("archive record %d has bad entry %q: %w", r.ID, r.EntryPrice, err)
	}
	stop, err := decimal.NewFromString(r.StopLoss)
	if err != nil {
		return portfolio.Position{}, fmt.Errorf("archive record %d has bad stop %q: %w", r.ID, r.StopLoss, err)
	}
	exit, err := decimal.NewFromString(r.ExitPrice)
	if err != nil {
		return portfolio.Position{}, fmt.Errorf("archive record %d has bad exit %q: %w", r.ID, r.ExitPrice, err)
	}
	pnl, err := decimal.NewFromString(r.PnL)
	if err != nil {
		return portfolio.Position{}, fmt.Errorf("archive record %d has bad pnl %q: %w", r.ID, r.PnL, err)
	}
	return portfolio.Position{
		Symbol:     r.Symbol,
		Timeframe:  market.Timeframe(r.Timeframe),
		Strategy:   r.Strategy,
		Side:       types.Side(r.Side),
		Size:       size,
		EntryPrice: entry,
		StopLoss:   stop,
		ExitPrice:  exit,
		PnL:        pnl,
		RiskReward: r.RiskReward,
		Status:     portfolio.StatusClosed,
		OpenedAt:   r.OpenedAt,
		ClosedAt:   r.ClosedAt,
	}, nil
}
