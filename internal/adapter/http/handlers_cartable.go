package adapthttp

import (
	"errors"
	"io"
	"net/http"

	"cartable/internal/domain"
	"cartable/internal/i18n"
)

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := domain.AccountQuery{
		Type:     r.URL.Query().Get("type"),
		Currency: r.URL.Query().Get("currency"),
	}
	items, err := s.cartable.Accounts(r.Context(), sessionFrom(r.Context()), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handlePaymentOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var filter domain.PaymentOrderFilter
	if err := parseJSON(r, &filter); err != nil && !errors.Is(err, io.EOF) {
		writeFailure(w, r, http.StatusBadRequest, i18n.MsgInvalidRequest, err)
		return
	}

	list, err := s.cartable.PaymentOrders(r.Context(), sessionFrom(r.Context()), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTransactionProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	days := intQuery(r, "days", 7)
	items, err := s.dashboard.TransactionProgress(r.Context(), sessionFrom(r.Context()), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": len(items), "items": items})
}

func (s *Server) handleMenuBadges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	badges, err := s.cartable.MenuBadges(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"badges": badges})
}
