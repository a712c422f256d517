package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-payments/internal/model"
)

// MerchantCheckoutStatus запрашивает статус чекаута от имени подключённого продавца.
// Токен продавца обновляется заранее, если истекает, и повторно после ответа 401;
// после успешного обновления запрос повторяется один раз.
func (c *Client) MerchantCheckoutStatus(ctx context.Context, merchant *model.MerchantAccount, checkoutID string) (*CheckoutStatus, error) {
	if merchant == nil {
		return nil, &AuthError{Err: errors.New("merchant account is required")}
	}

	if c.merchantTokenExpiring(merchant) {
		if err := c.refreshMerchantToken(ctx, merchant); err != nil {
			return nil, err
		}
	}

	status, err := c.getCheckout(ctx, merchant.AccessToken, checkoutID)
	if err == nil || !errors.Is(err, ErrUnauthorized) {
		return status, err
	}

	c.logger.Info("merchant token rejected, refreshing",
		zap.Int64("sellerID", merchant.SellerID),
		zap.String("merchantCode", merchant.MerchantCode),
	)

	if err := c.refreshMerchantToken(ctx, merchant); err != nil {
		return nil, err
	}

	return c.getCheckout(ctx, merchant.AccessToken, checkoutID)
}

// CheckoutStatus позволяет использовать клиент как источник статусов для движка проверки.
func (c *Client) CheckoutStatus(ctx context.Context, merchant *model.MerchantAccount, checkoutID string) (*CheckoutStatus, error) {
	return c.MerchantCheckoutStatus(ctx, merchant, checkoutID)
}

func (c *Client) merchantTokenExpiring(m *model.MerchantAccount) bool {
	if m.AccessToken == "" {
		return true
	}
	if m.TokenExpiresAt.IsZero() {
		return false
	}
	return !c.now().Add(tokenRenewMargin).Before(m.TokenExpiresAt)
}

func (c *Client) refreshMerchantToken(ctx context.Context, m *model.MerchantAccount) error {
	if m.RefreshToken == "" {
		return &AuthError{Err: ErrNoRefreshToken}
	}

	refreshToken := m.RefreshToken
	v, err, _ := c.refreshGroup.Do(sellerKey(m.SellerID), func() (interface{}, error) {
		tok, err := c.requestToken(ctx, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {c.clientID},
			"client_secret": {c.clientSecret},
			"refresh_token": {refreshToken},
		})
		if err != nil {
			return nil, err
		}

		// Шлюз может не выдать новый refresh-токен; тогда продолжаем использовать старый.
		if tok.RefreshToken == "" {
			tok.RefreshToken = refreshToken
		}

		expiresAt := c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
		if c.tokens != nil {
			if err := c.tokens.SaveMerchantTokens(ctx, m.SellerID, tok.AccessToken, tok.RefreshToken, expiresAt); err != nil {
				c.logger.Error("save refreshed merchant tokens", zap.Error(err), zap.Int64("sellerID", m.SellerID))
			}
		}

		return &model.MerchantAccount{
			SellerID:       m.SellerID,
			MerchantCode:   m.MerchantCode,
			AccessToken:    tok.AccessToken,
			RefreshToken:   tok.RefreshToken,
			TokenExpiresAt: expiresAt,
		}, nil
	})
	if err != nil {
		return fmt.Errorf("refresh merchant token: %w", err)
	}

	refreshed := v.(*model.MerchantAccount)
	m.AccessToken = refreshed.AccessToken
	m.RefreshToken = refreshed.RefreshToken
	m.TokenExpiresAt = refreshed.TokenExpiresAt

	return nil
}
