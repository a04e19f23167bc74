package claim

import (
	"fmt"
	"strings"

	"github.com/zombor/expense-validator/internal/notify"
)

// Composer renders verdicts as notification text
type Composer struct {
	CurrencySymbol string
}

// Compose returns the approval message for the employee or the discrepancy
// message for finance
func (cp Composer) Compose(c Claim, v Verdict) string {
	name := strings.TrimSpace(c.EmployeeName)
	if name == "" {
		name = "unknown employee"
	}
	date := "unknown date"
	if !c.Date.IsZero() {
		date = dateKey(c.Date)
	}

	if v.Approved {
		return fmt.Sprintf("Expense claim for %s on %s (%s%s) has been approved.",
			name, date, cp.CurrencySymbol, c.ClaimedAmount.StringFixed(2))
	}

	explanation := v.Explanation
	if explanation == "" {
		explanation = "no details available"
	}
	return fmt.Sprintf("Discrepancy detected in claim for %s on %s. Details: %s.", name, date, explanation)
}

// AudienceFor returns who should receive the message for a verdict
func AudienceFor(v Verdict) notify.Audience {
	if v.Approved {
		return notify.AudienceEmployee
	}
	return notify.AudienceFinance
}
