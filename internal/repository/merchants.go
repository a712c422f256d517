package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/marketplace-payments/internal/model"
)

// MerchantForSeller возвращает аккаунт шлюза, подключённый продавцом.
func (r *PostgresRepository) MerchantForSeller(ctx context.Context, sellerID int64) (*model.MerchantAccount, error) {
	var (
		m         model.MerchantAccount
		expiresAt *time.Time
	)

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT seller_id, merchant_code, access_token, refresh_token, token_expires_at
			 FROM merchant_accounts
			 WHERE seller_id = $1`,
			sellerID,
		).Scan(&m.SellerID, &m.MerchantCode, &m.AccessToken, &m.RefreshToken, &expiresAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMerchantNotFound
		}
		return nil, fmt.Errorf("get merchant account: %w", err)
	}

	if expiresAt != nil {
		m.TokenExpiresAt = *expiresAt
	}

	return &m, nil
}

// SaveMerchantTokens сохраняет обновлённые OAuth-токены продавца.
func (r *PostgresRepository) SaveMerchantTokens(ctx context.Context, sellerID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE merchant_accounts
		 SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = now()
		 WHERE seller_id = $1`,
		sellerID, accessToken, refreshToken, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("save merchant tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMerchantNotFound
	}
	return nil
}
