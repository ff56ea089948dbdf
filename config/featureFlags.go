package config

import (
	"os"
	"strings"
)

// OverdueWriteback enables the reconciliation sweep that persists
// derived Overdue statuses back into stored invoices. Readers never depend
// on it: effective status is always re-derived at read time.
//
// Set via env:
// - OVERDUE_WRITEBACK=true
func OverdueWriteback() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OVERDUE_WRITEBACK")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
