package repo

import (
	"context"
	"fmt"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/sqlinline"
)

// APIKeyRepositoryPG implements domain.APIKeyRepository over enterprise_api_keys.
type APIKeyRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewAPIKeyRepository(sql infra.SQLExecutor) *APIKeyRepositoryPG {
	return &APIKeyRepositoryPG{sql: sql}
}

func (r *APIKeyRepositoryPG) FindByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	var k domain.APIKey
	err := r.sql.QueryRow(ctx, sqlinline.QSelectAPIKeyByHash, hash).Scan(
		&k.ID,
		&k.UserID,
		&k.Name,
		&k.Prefix,
		&k.Status,
		&k.RateLimitPerMinute,
		&k.CostPerVideo,
		&k.CreatedAt,
		&k.LastUsedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select api key: %w", err)
	}
	return &k, nil
}

func (r *APIKeyRepositoryPG) Create(ctx context.Context, k *domain.APIKey, hash string) error {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertAPIKey,
		k.ID,
		k.UserID,
		k.Name,
		k.Prefix,
		hash,
		k.RateLimitPerMinute,
		k.CostPerVideo,
	)
	if err := row.Scan(&k.CreatedAt); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	k.Status = domain.APIKeyStatusActive
	return nil
}

func (r *APIKeyRepositoryPG) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateAPIKeyStatus, id, status)
	if err != nil {
		return fmt.Errorf("update api key status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *APIKeyRepositoryPG) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QTouchAPIKey, id)
	return err
}

var _ domain.APIKeyRepository = (*APIKeyRepositoryPG)(nil)
