package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingOwnerID    = errors.New("owner identifier is required")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew       = "portfolio.store.new"
	opGet            = "portfolio.get"
	opCreate         = "portfolio.create"
	opCompareAndSave = "portfolio.compare_and_save"
	opListByOwner    = "portfolio.list_by_owner"
)

// IDProvider issues identifiers for newly created portfolios.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig bundles the dependencies required by the store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is the durable document store. It owns the version counter: every
// successful content write increments it, and conditional writes compare the
// stored version against the caller's baseline.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore validates configuration and constructs the store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newPersistenceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newPersistenceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Get reads a single portfolio by identifier.
func (s *Store) Get(ctx context.Context, portfolioID PortfolioID) (Snapshot, error) {
	var record Portfolio
	err := s.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("portfolio_id", portfolioID.String()))
		return Snapshot{}, newPersistenceError(opGet, "query_failed", err)
	}
	return s.decode(opGet, record)
}

// Create persists an empty portfolio owned by the given user and returns its
// initial snapshot at version 1.
func (s *Store) Create(ctx context.Context, ownerID OwnerID, title string) (Snapshot, error) {
	portfolioID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("owner_id", ownerID.String()))
		return Snapshot{}, newPersistenceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	record := Portfolio{
		PortfolioID:      portfolioID,
		OwnerID:          ownerID.String(),
		Title:            title,
		BlocksJSON:       "[]",
		LayoutJSON:       "{}",
		ThemeJSON:        "{}",
		SEOJSON:          "{}",
		Version:          1,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("owner_id", ownerID.String()))
		return Snapshot{}, newPersistenceError(opCreate, "insert_failed", err)
	}
	return s.decode(opCreate, record)
}

// ListByOwner returns every portfolio owned by the given user, most recently
// updated first.
func (s *Store) ListByOwner(ctx context.Context, ownerID OwnerID) ([]Snapshot, error) {
	if ownerID.String() == "" {
		return nil, newPersistenceError(opListByOwner, "missing_owner_id", errMissingOwnerID)
	}

	var records []Portfolio
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID.String()).
		Order("updated_at_s DESC").
		Find(&records).Error; err != nil {
		s.logError(opListByOwner, "query_failed", err, zap.String("owner_id", ownerID.String()))
		return nil, newPersistenceError(opListByOwner, "query_failed", err)
	}

	snapshots := make([]Snapshot, 0, len(records))
	for _, record := range records {
		snapshot, err := s.decode(opListByOwner, record)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// CompareAndSave applies a change set on the condition that the stored
// version still equals the caller's baseline. The row is locked for the
// duration of the transaction, the ownership and version preconditions are
// re-checked against current state, field merges are applied, and the
// version is incremented. A stored version past the baseline aborts with
// VersionConflictError carrying the current state.
func (s *Store) CompareAndSave(ctx context.Context, portfolioID PortfolioID, ownerID OwnerID, changes ChangeSet, baseline BaselineVersion) (Snapshot, error) {
	if err := changes.Validate(); err != nil {
		return Snapshot{}, err
	}

	var saved Portfolio
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Portfolio
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("portfolio_id = ?", portfolioID.String()).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			s.logError(opCompareAndSave, "select_failed", err, zap.String("portfolio_id", portfolioID.String()))
			return newPersistenceError(opCompareAndSave, "select_failed", err)
		}

		if record.OwnerID != ownerID.String() {
			return ErrAccessDenied
		}

		if record.Version > baseline.Int64() {
			current, decodeErr := s.decode(opCompareAndSave, record)
			if decodeErr != nil {
				return decodeErr
			}
			return &VersionConflictError{CurrentVersion: record.Version, Current: current}
		}

		if err := applyChanges(&record, changes); err != nil {
			s.logError(opCompareAndSave, "merge_failed", err, zap.String("portfolio_id", portfolioID.String()))
			return newPersistenceError(opCompareAndSave, "merge_failed", err)
		}

		record.Version++
		record.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&record).Error; err != nil {
			s.logError(opCompareAndSave, "save_failed", err, zap.String("portfolio_id", portfolioID.String()))
			return newPersistenceError(opCompareAndSave, "save_failed", err)
		}
		saved = record
		return nil
	})
	if txErr != nil {
		return Snapshot{}, txErr
	}
	return s.decode(opCompareAndSave, saved)
}

func applyChanges(record *Portfolio, changes ChangeSet) error {
	if changes.Blocks != nil {
		encoded, err := json.Marshal(changes.Blocks)
		if err != nil {
			return err
		}
		record.BlocksJSON = string(encoded)
	}

	sections := []struct {
		column  *string
		changes map[string]any
	}{
		{&record.LayoutJSON, changes.Layout},
		{&record.ThemeJSON, changes.Theme},
		{&record.SEOJSON, changes.SEO},
	}
	for _, section := range sections {
		if section.changes == nil {
			continue
		}
		stored := map[string]any{}
		if *section.column != "" {
			if err := json.Unmarshal([]byte(*section.column), &stored); err != nil {
				return err
			}
		}
		for key, value := range section.changes {
			stored[key] = value
		}
		encoded, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		*section.column = string(encoded)
	}
	return nil
}

func (s *Store) decode(operation string, record Portfolio) (Snapshot, error) {
	snapshot := Snapshot{
		PortfolioID:      record.PortfolioID,
		OwnerID:          record.OwnerID,
		Title:            record.Title,
		Blocks:           []Block{},
		Layout:           map[string]any{},
		Theme:            map[string]any{},
		SEO:              map[string]any{},
		Version:          record.Version,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}

	columns := []struct {
		raw    string
		target any
	}{
		{record.BlocksJSON, &snapshot.Blocks},
		{record.LayoutJSON, &snapshot.Layout},
		{record.ThemeJSON, &snapshot.Theme},
		{record.SEOJSON, &snapshot.SEO},
	}
	for _, column := range columns {
		if column.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(column.raw), column.target); err != nil {
			s.logError(operation, "decode_failed", err, zap.String("portfolio_id", record.PortfolioID))
			return Snapshot{}, newPersistenceError(operation, "decode_failed", err)
		}
	}
	return snapshot, nil
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("portfolio store error", attrs...)
}
