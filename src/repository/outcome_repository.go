package repository

import (
	"context"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"positionengine/src/database"
	"positionengine/src/model"
)

// OutcomeRepository handles persistence for TradeOutcome entities.
type OutcomeRepository struct {
	db *gorm.DB
}

// NewOutcomeRepository creates a new repository instance using the main read/write database.
func NewOutcomeRepository() *OutcomeRepository {
	logger.WithField("component", "OutcomeRepository").
		Info("Creating new OutcomeRepository with MainDB")

	return &OutcomeRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *OutcomeRepository) WithDB(db *gorm.DB) *OutcomeRepository {
	logger.WithField("component", "OutcomeRepository").
		Debug("Creating OutcomeRepository with custom DB instance")

	return &OutcomeRepository{db: db}
}

// Create records a terminal trade outcome.
func (r *OutcomeRepository) Create(ctx context.Context, outcome *model.TradeOutcome) error {
	logger.WithFields(map[string]interface{}{
		"repo":        "OutcomeRepository",
		"op":          "Create",
		"position_id": outcome.PositionID,
		"exit_reason": outcome.ExitReason,
	}).Debug("Recording trade outcome")

	if err := r.db.WithContext(ctx).Create(outcome).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "OutcomeRepository",
			"op":          "Create",
			"position_id": outcome.PositionID,
		}).WithError(err).Error("Failed to record trade outcome")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "OutcomeRepository",
		"op":          "Create",
		"position_id": outcome.PositionID,
		"pnl":         outcome.RealizedPnl,
	}).Info("Trade outcome recorded")

	return nil
}

// FindRecent lists the newest outcomes, capped at limit.
func (r *OutcomeRepository) FindRecent(ctx context.Context, limit int) ([]model.TradeOutcome, error) {
	if limit <= 0 {
		limit = 50
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "OutcomeRepository",
		"op":    "FindRecent",
		"limit": limit,
	}).Debug("Fetching recent trade outcomes")

	var outcomes []model.TradeOutcome
	err := r.db.WithContext(ctx).
		Order("closed_at DESC").
		Limit(limit).
		Find(&outcomes).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OutcomeRepository",
			"op":   "FindRecent",
		}).WithError(err).Error("Failed to fetch recent trade outcomes")
		return nil, err
	}

	return outcomes, nil
}

// OutcomeStats aggregates closed-trade performance.
type OutcomeStats struct {
	Trades   int64           `json:"trades"`
	Wins     int64           `json:"wins"`
	Losses   int64           `json:"losses"`
	TotalPnl decimal.Decimal `json:"total_pnl"`
}

// Stats computes win/loss counts and total realized PnL over all outcomes.
func (r *OutcomeRepository) Stats(ctx context.Context) (OutcomeStats, error) {
	logger.WithFields(map[string]interface{}{
		"repo": "OutcomeRepository",
		"op":   "Stats",
	}).Debug("Aggregating trade outcome stats")

	var stats OutcomeStats
	err := r.db.WithContext(ctx).
		Model(&model.TradeOutcome{}).
		Select(
			"COUNT(*) AS trades, " +
				"COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0) AS wins, " +
				"COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0) AS losses, " +
				"COALESCE(SUM(realized_pnl), 0) AS total_pnl",
		).
		Scan(&stats).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OutcomeRepository",
			"op":   "Stats",
		}).WithError(err).Error("Failed to aggregate trade outcome stats")
		return OutcomeStats{}, err
	}

	return stats, nil
}
