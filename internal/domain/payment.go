package domain

import (
	"context"
	"time"
)

// PaymentOrderStatus is the lifecycle state of a payment order.
type PaymentOrderStatus string

const (
	StatusDraft     PaymentOrderStatus = "draft"
	StatusPending   PaymentOrderStatus = "pending"
	StatusApproved  PaymentOrderStatus = "approved"
	StatusRejected  PaymentOrderStatus = "rejected"
	StatusCancelled PaymentOrderStatus = "cancelled"
	StatusExecuted  PaymentOrderStatus = "executed"
)

// Valid reports whether s is a known status.
func (s PaymentOrderStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusCancelled, StatusExecuted:
		return true
	}
	return false
}

// Signer is one required signature on a payment order.
type Signer struct {
	Username string `json:"username"`
	Signed   bool   `json:"signed"`
}

// PaymentOrder is a payment awaiting or past action in the cartable.
// Amount is in minor currency units.
type PaymentOrder struct {
	ID            string             `json:"id"`
	Number        string             `json:"number"`
	Title         string             `json:"title"`
	Amount        int64              `json:"amount"`
	Currency      string             `json:"currency"`
	SourceAccount string             `json:"sourceAccount"`
	Destination   string             `json:"destination"`
	Status        PaymentOrderStatus `json:"status"`
	CreatedBy     string             `json:"createdBy"`
	Signers       []Signer           `json:"signers"`
	CreatedAt     time.Time          `json:"createdAt"`
	DueDate       *time.Time         `json:"dueDate,omitempty"`
}

// PaymentOrderPermissions are the actions the current user may take.
type PaymentOrderPermissions struct {
	CanView    bool `json:"canView"`
	CanApprove bool `json:"canApprove"`
	CanReject  bool `json:"canReject"`
	CanEdit    bool `json:"canEdit"`
	CanCancel  bool `json:"canCancel"`
}

// PermissionsFor derives what username may do with order.
func PermissionsFor(order PaymentOrder, username string) PaymentOrderPermissions {
	isCreator := username != "" && order.CreatedBy == username

	awaitingUser := false
	anySigned := false
	for _, s := range order.Signers {
		if s.Signed {
			anySigned = true
			continue
		}
		if username != "" && s.Username == username {
			awaitingUser = true
		}
	}

	canDecide := order.Status == StatusPending && awaitingUser
	return PaymentOrderPermissions{
		CanView:    true,
		CanApprove: canDecide,
		CanReject:  canDecide,
		CanEdit:    isCreator && (order.Status == StatusDraft || order.Status == StatusRejected),
		CanCancel:  isCreator && !anySigned && (order.Status == StatusDraft || order.Status == StatusPending),
	}
}

// PaymentOrderFilter narrows a cartable listing.
type PaymentOrderFilter struct {
	Statuses      []PaymentOrderStatus `json:"statuses,omitempty"`
	AccountNumber string               `json:"accountNumber,omitempty"`
	FromDate      string               `json:"fromDate,omitempty"`
	ToDate        string               `json:"toDate,omitempty"`
	MinAmount     *int64               `json:"minAmount,omitempty"`
	MaxAmount     *int64               `json:"maxAmount,omitempty"`
	Page          int                  `json:"page"`
	PageSize      int                  `json:"pageSize"`
}

// PaymentOrderPage is one page of a cartable listing.
type PaymentOrderPage struct {
	Items    []PaymentOrder `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// Backend is the port to the payment/cartable backend. Every call carries
// the caller's bearer token.
type Backend interface {
	SelectAccounts(ctx context.Context, token string, q AccountQuery) ([]Account, error)
	ListPaymentOrders(ctx context.Context, token string, f PaymentOrderFilter) (*PaymentOrderPage, error)
	TransactionProgress(ctx context.Context, token string, days int) ([]ProgressPoint, error)
}
