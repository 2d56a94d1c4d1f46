package domain

// Account is a bank account the user may act on.
type Account struct {
	Number    string `json:"number"`
	IBAN      string `json:"iban"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Currency  string `json:"currency"`
	Balance   int64  `json:"balance"`
	Available int64  `json:"available"`
}

// AccountQuery selects accounts by type and currency. Empty fields match all.
type AccountQuery struct {
	Type     string `json:"type,omitempty"`
	Currency string `json:"currency,omitempty"`
}
