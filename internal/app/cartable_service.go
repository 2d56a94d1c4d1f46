package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cartable/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// MenuKeys are the menu entries that carry a badge.
var MenuKeys = []string{"cartable", "paymentOrders", "transactions"}

// CartableService encapsulates the payment order and account use cases.
type CartableService struct {
	backend domain.Backend
	cache   *QueryCache
}

// NewCartableService creates a CartableService backed by the given backend.
func NewCartableService(backend domain.Backend, cache *QueryCache) *CartableService {
	return &CartableService{backend: backend, cache: cache}
}

// PaymentOrderView is a payment order with the caller's permissions on it.
type PaymentOrderView struct {
	domain.PaymentOrder
	Permissions domain.PaymentOrderPermissions `json:"permissions"`
}

// PaymentOrderList is one page of payment orders ready for display.
type PaymentOrderList struct {
	Items    []PaymentOrderView `json:"items"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
}

// PaymentOrders lists the caller's cartable, always fresh from the backend.
func (s *CartableService) PaymentOrders(ctx context.Context, sess *domain.Session, f domain.PaymentOrderFilter) (*PaymentOrderList, error) {
	f, err := NormalizeFilter(f)
	if err != nil {
		return nil, err
	}
	key, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}

	page, err := Query(ctx, s.cache, CategoryFinancial, tokenOf(sess), "payment-orders:"+string(key),
		func(ctx context.Context, token string) (*domain.PaymentOrderPage, error) {
			return s.backend.ListPaymentOrders(ctx, token, f)
		})
	if err != nil {
		return nil, err
	}

	out := &PaymentOrderList{
		Items:    make([]PaymentOrderView, 0, len(page.Items)),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	if out.Page == 0 {
		out.Page = f.Page
	}
	if out.PageSize == 0 {
		out.PageSize = f.PageSize
	}
	for _, o := range page.Items {
		out.Items = append(out.Items, PaymentOrderView{
			PaymentOrder: o,
			Permissions:  domain.PermissionsFor(o, sess.Username),
		})
	}
	return out, nil
}

// Accounts returns the accounts the caller may select.
func (s *CartableService) Accounts(ctx context.Context, sess *domain.Session, q domain.AccountQuery) ([]domain.Account, error) {
	return Query(ctx, s.cache, CategoryFinancial, tokenOf(sess), "accounts:"+q.Type+"|"+q.Currency,
		func(ctx context.Context, token string) ([]domain.Account, error) {
			return s.backend.SelectAccounts(ctx, token, q)
		})
}

// MenuBadges returns the badge counts of the navigation menu. The backend
// has no badge endpoint yet, so every count is zero.
func (s *CartableService) MenuBadges(ctx context.Context, sess *domain.Session) (domain.MenuBadges, error) {
	if tokenOf(sess) == "" {
		return nil, ErrUnauthorized
	}
	badges := make(domain.MenuBadges, len(MenuKeys))
	for _, k := range MenuKeys {
		badges[k] = 0
	}
	return badges, nil
}

// NormalizeFilter applies paging defaults and rejects inconsistent filters.
func NormalizeFilter(f domain.PaymentOrderFilter) (domain.PaymentOrderFilter, error) {
	if f.Page < 0 {
		return f, fmt.Errorf("%w: page must be positive", ErrInvalidFilter)
	}
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize < 0 || f.PageSize > maxPageSize {
		return f, fmt.Errorf("%w: pageSize must be within [1, %d]", ErrInvalidFilter, maxPageSize)
	}
	if f.PageSize == 0 {
		f.PageSize = defaultPageSize
	}

	for _, st := range f.Statuses {
		if !st.Valid() {
			return f, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, st)
		}
	}

	var from, to time.Time
	var err error
	if f.FromDate != "" {
		if from, err = time.Parse(time.DateOnly, f.FromDate); err != nil {
			return f, fmt.Errorf("%w: fromDate must be YYYY-MM-DD", ErrInvalidFilter)
		}
	}
	if f.ToDate != "" {
		if to, err = time.Parse(time.DateOnly, f.ToDate); err != nil {
			return f, fmt.Errorf("%w: toDate must be YYYY-MM-DD", ErrInvalidFilter)
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return f, fmt.Errorf("%w: fromDate is after toDate", ErrInvalidFilter)
	}

	if (f.MinAmount != nil && *f.MinAmount < 0) || (f.MaxAmount != nil && *f.MaxAmount < 0) {
		return f, fmt.Errorf("%w: amounts must not be negative", ErrInvalidFilter)
	}
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		return f, fmt.Errorf("%w: minAmount is above maxAmount", ErrInvalidFilter)
	}
	return f, nil
}

func tokenOf(sess *domain.Session) string {
	if sess == nil {
		return ""
	}
	return sess.AccessToken
}
