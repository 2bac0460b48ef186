package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/loadgate/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConfigRepository stores load configurations and their validation rules. It
// implements validation.ConfigurationProvider.
type ConfigRepository struct {
	db *gorm.DB
}

// NewConfigRepository creates a new ConfigRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ConfigRepository: repository instance bound to db.
func NewConfigRepository(db *gorm.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// LoadConfig retrieves an enabled configuration by id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - configID: configuration id.
// Returns:
//   - *domain.LoadConfig: configuration if found.
//   - error: wraps domain.ErrNotFound when missing or disabled.
func (r *ConfigRepository) LoadConfig(ctx context.Context, configID string) (*domain.LoadConfig, error) {
	var cfg domain.LoadConfig
	if err := r.db.WithContext(ctx).First(&cfg, "id = ?", configID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load config %s: %w", configID, domain.ErrNotFound)
		}
		return nil, err
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("load config %s is disabled: %w", configID, domain.ErrNotFound)
	}
	return &cfg, nil
}

// RuleCatalog returns the enabled rules of a configuration in execution order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - configID: configuration id.
// Returns:
//   - []domain.ValidationRule: rules ordered by execution order then id.
//   - error: non-nil if the query fails.
func (r *ConfigRepository) RuleCatalog(ctx context.Context, configID string) ([]domain.ValidationRule, error) {
	var rules []domain.ValidationRule
	err := r.db.WithContext(ctx).
		Where("config_id = ? AND enabled = ?", configID, true).
		Order("execution_order ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// ListConfigs returns every configuration ordered by id.
func (r *ConfigRepository) ListConfigs(ctx context.Context) ([]domain.LoadConfig, error) {
	var cfgs []domain.LoadConfig
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&cfgs).Error; err != nil {
		return nil, err
	}
	return cfgs, nil
}

// UpsertConfig creates or replaces a configuration together with its rules.
// Rules of the configuration that are not in rules are removed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cfg: configuration to store.
//   - rules: complete rule set for cfg.
// Returns:
//   - error: non-nil if the transaction fails.
func (r *ConfigRepository) UpsertConfig(ctx context.Context, cfg *domain.LoadConfig, rules []domain.ValidationRule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(cfg).Error; err != nil {
			return fmt.Errorf("failed to upsert config %s: %w", cfg.ID, err)
		}

		if err := tx.Where("config_id = ?", cfg.ID).Delete(&domain.ValidationRule{}).Error; err != nil {
			return fmt.Errorf("failed to clear rules of %s: %w", cfg.ID, err)
		}
		if len(rules) == 0 {
			return nil
		}
		for i := range rules {
			rules[i].ConfigID = cfg.ID
		}
		if err := tx.Create(&rules).Error; err != nil {
			return fmt.Errorf("failed to insert rules of %s: %w", cfg.ID, err)
		}
		return nil
	})
}
