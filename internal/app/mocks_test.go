package app_test

import (
	"context"

	"cartable/internal/domain"
)

type mockIdentity struct {
	authURLFn    func(state, nonce string) string
	exchangeFn   func(ctx context.Context, code, nonce string) (*domain.Identity, *domain.Tokens, error)
	refreshFn    func(ctx context.Context, refreshToken string) (*domain.Tokens, error)
	userInfoFn   func(ctx context.Context, accessToken string) (*domain.Profile, error)
	claimsFn     func(accessToken string) (domain.TokenClaims, bool)
	endSessionFn func(idTokenHint string) string
}

func (m *mockIdentity) AuthCodeURL(state, nonce string) string {
	if m.authURLFn != nil {
		return m.authURLFn(state, nonce)
	}
	return "https://idp.test/auth?state=" + state
}

func (m *mockIdentity) Exchange(ctx context.Context, code, nonce string) (*domain.Identity, *domain.Tokens, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, nonce)
	}
	return &domain.Identity{}, &domain.Tokens{}, nil
}

func (m *mockIdentity) Refresh(ctx context.Context, refreshToken string) (*domain.Tokens, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return &domain.Tokens{}, nil
}

func (m *mockIdentity) UserInfo(ctx context.Context, accessToken string) (*domain.Profile, error) {
	if m.userInfoFn != nil {
		return m.userInfoFn(ctx, accessToken)
	}
	return &domain.Profile{}, nil
}

func (m *mockIdentity) TokenClaims(accessToken string) (domain.TokenClaims, bool) {
	if m.claimsFn != nil {
		return m.claimsFn(accessToken)
	}
	return domain.TokenClaims{}, false
}

func (m *mockIdentity) EndSessionURL(idTokenHint string) string {
	if m.endSessionFn != nil {
		return m.endSessionFn(idTokenHint)
	}
	return ""
}

type mockBackend struct {
	accountsFn func(ctx context.Context, token string, q domain.AccountQuery) ([]domain.Account, error)
	ordersFn   func(ctx context.Context, token string, f domain.PaymentOrderFilter) (*domain.PaymentOrderPage, error)
	progressFn func(ctx context.Context, token string, days int) ([]domain.ProgressPoint, error)
}

func (m *mockBackend) SelectAccounts(ctx context.Context, token string, q domain.AccountQuery) ([]domain.Account, error) {
	if m.accountsFn != nil {
		return m.accountsFn(ctx, token, q)
	}
	return nil, nil
}

func (m *mockBackend) ListPaymentOrders(ctx context.Context, token string, f domain.PaymentOrderFilter) (*domain.PaymentOrderPage, error) {
	if m.ordersFn != nil {
		return m.ordersFn(ctx, token, f)
	}
	return &domain.PaymentOrderPage{}, nil
}

func (m *mockBackend) TransactionProgress(ctx context.Context, token string, days int) ([]domain.ProgressPoint, error) {
	if m.progressFn != nil {
		return m.progressFn(ctx, token, days)
	}
	return nil, nil
}
