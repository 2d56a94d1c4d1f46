package domain

// ProgressPoint is the transaction tally for one local day.
type ProgressPoint struct {
	Day       string `json:"day"`
	Completed int    `json:"completed"`
	Pending   int    `json:"pending"`
	Failed    int    `json:"failed"`
}

// MenuBadges maps a menu key to its pending count.
type MenuBadges map[string]int
