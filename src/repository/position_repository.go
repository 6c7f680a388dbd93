package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"positionengine/src/database"
	"positionengine/src/model"
)

// PositionRepository handles persistence for Position entities and their
// targets.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new repository instance using the main read/write database.
func NewPositionRepository() *PositionRepository {
	logger.WithField("component", "PositionRepository").
		Info("Creating new PositionRepository with MainDB")

	return &PositionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	logger.WithField("component", "PositionRepository").
		Debug("Creating PositionRepository with custom DB instance")

	return &PositionRepository{db: db}
}

// Create inserts a new position together with its targets.
func (r *PositionRepository) Create(ctx context.Context, position *model.Position) error {
	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Create",
		"position_id": position.ID,
		"symbol":      position.Symbol,
		"state":       position.State,
	}).Debug("Creating new position")

	if err := r.db.WithContext(ctx).Create(position).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Create",
			"position_id": position.ID,
		}).WithError(err).Error("Failed to create position")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Create",
		"position_id": position.ID,
	}).Info("Position created successfully")

	return nil
}

// Save writes the full position state including target rows. This is the
// commit point after every lifecycle transition.
func (r *PositionRepository) Save(ctx context.Context, position *model.Position) error {
	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Save",
		"position_id": position.ID,
		"state":       position.State,
	}).Debug("Saving position state")

	err := r.db.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: true}).
		Save(position).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Save",
			"position_id": position.ID,
		}).WithError(err).Error("Failed to save position")
		return err
	}

	return nil
}

// FindByID fetches a single position with its targets.
func (r *PositionRepository) FindByID(ctx context.Context, id string) (*model.Position, error) {
	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "FindByID",
		"position_id": id,
	}).Debug("Fetching position by ID")

	var position model.Position
	err := r.db.WithContext(ctx).
		Preload(clause.Associations).
		Where("id = ?", id).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":        "PositionRepository",
				"op":          "FindByID",
				"position_id": id,
			}).Info("Position not found")
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "FindByID",
			"position_id": id,
		}).WithError(err).Error("Failed to fetch position by ID")
		return nil, err
	}

	return &position, nil
}

// FindActive returns every position that is not yet terminal: pending
// entries, open and partially closed positions, with targets preloaded. Used
// to rehydrate the monitoring loop on startup.
func (r *PositionRepository) FindActive(ctx context.Context) ([]model.Position, error) {
	logger.WithFields(map[string]interface{}{
		"repo": "PositionRepository",
		"op":   "FindActive",
	}).Debug("Fetching active positions")

	var positions []model.Position
	err := r.db.WithContext(ctx).
		Preload(clause.Associations).
		Where("state IN ?", []string{
			model.PositionStatePendingEntry,
			model.PositionStateOpen,
			model.PositionStatePartiallyClosed,
		}).
		Order("created_at ASC").
		Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindActive",
		}).WithError(err).Error("Failed to fetch active positions")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "PositionRepository",
		"op":    "FindActive",
		"count": len(positions),
	}).Info("Active positions fetched")

	return positions, nil
}

// PositionSearchOptions filters Search results. Zero values are skipped.
type PositionSearchOptions struct {
	Symbol string
	State  string
	Limit  int
	Offset int
}

// Search lists positions newest first.
func (r *PositionRepository) Search(ctx context.Context, opts PositionSearchOptions) ([]model.Position, error) {
	logger.WithFields(map[string]interface{}{
		"repo":   "PositionRepository",
		"op":     "Search",
		"symbol": opts.Symbol,
		"state":  opts.State,
	}).Debug("Searching positions")

	query := r.db.WithContext(ctx).Preload(clause.Associations)
	if opts.Symbol != "" {
		query = query.Where("symbol = ?", opts.Symbol)
	}
	if opts.State != "" {
		query = query.Where("state = ?", opts.State)
	}
	query = query.Order("created_at DESC, id DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var positions []model.Position
	if err := query.Find(&positions).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search positions")
		return nil, err
	}

	return positions, nil
}
