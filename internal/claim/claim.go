package claim

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/expense-validator/internal/notify"
)

var (
	// ErrInvalidClaim is returned when a submission fails intake validation
	ErrInvalidClaim = errors.New("invalid claim")
	// ErrClaimNotFound is returned when no claim record exists for an ID
	ErrClaimNotFound = errors.New("claim not found")
)

// ReceiptRef points at a stored receipt file. The pipeline treats it as opaque
// and only hands it to the text extractor.
type ReceiptRef struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
}

func (r ReceiptRef) String() string {
	return r.Path
}

// Claim is an employee's reimbursement request. It is never mutated once created.
type Claim struct {
	ID            string          `json:"id"`
	EmployeeID    string          `json:"employee_id"`
	EmployeeName  string          `json:"employee_name"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	Date          time.Time       `json:"date"`
	Receipt       ReceiptRef      `json:"receipt"`
}

// ParsedFields holds what was read off the receipt. A nil field was not found.
type ParsedFields struct {
	Amount   *decimal.Decimal `json:"amount"`
	Date     *time.Time       `json:"date"`
	Merchant *string          `json:"merchant"`
}

// Verdict is the outcome of validating a claim against its receipt
type Verdict struct {
	AmountOK     bool        `json:"amount_ok"`
	DateOK       bool        `json:"date_ok"`
	NameOK       bool        `json:"name_ok"`
	NotDuplicate bool        `json:"not_duplicate"`
	WithinLimit  bool        `json:"within_limit"`
	Approved     bool        `json:"approved"`
	Explanation  string      `json:"explanation,omitempty"`
	Fingerprint  Fingerprint `json:"fingerprint"`
}

// ClaimRecord is the stored result of one pipeline run
type ClaimRecord struct {
	Claim     Claim           `json:"claim"`
	State     State           `json:"state"`
	RawText   string          `json:"raw_text,omitempty"`
	Parsed    *ParsedFields   `json:"parsed,omitempty"`
	Verdict   *Verdict        `json:"verdict,omitempty"`
	Message   string          `json:"message,omitempty"`
	Audience  notify.Audience `json:"audience,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ClaimInput is a raw submission from the HTTP form or the CLI
type ClaimInput struct {
	EmployeeID    string
	EmployeeName  string
	ClaimedAmount string
	Date          string // YYYY-MM-DD
	Filename      string
	ContentType   string
	Data          []byte
}

// Validate checks the fields every claim must carry before it enters the pipeline
func (in ClaimInput) Validate() (employeeID, employeeName string, amount decimal.Decimal, date time.Time, err error) {
	employeeID = strings.TrimSpace(in.EmployeeID)
	if employeeID == "" {
		return "", "", decimal.Zero, time.Time{}, fmt.Errorf("%w: employee id is required", ErrInvalidClaim)
	}

	employeeName = strings.TrimSpace(in.EmployeeName)
	if employeeName == "" {
		return "", "", decimal.Zero, time.Time{}, fmt.Errorf("%w: employee name is required", ErrInvalidClaim)
	}

	amount, err = decimal.NewFromString(strings.TrimSpace(in.ClaimedAmount))
	if err != nil {
		return "", "", decimal.Zero, time.Time{}, fmt.Errorf("%w: claimed amount %q is not a number", ErrInvalidClaim, in.ClaimedAmount)
	}
	if !amount.IsPositive() {
		return "", "", decimal.Zero, time.Time{}, fmt.Errorf("%w: claimed amount must be greater than zero", ErrInvalidClaim)
	}

	date, err = time.Parse(time.DateOnly, strings.TrimSpace(in.Date))
	if err != nil {
		return "", "", decimal.Zero, time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidClaim, in.Date)
	}

	if len(in.Data) == 0 {
		return "", "", decimal.Zero, time.Time{}, fmt.Errorf("%w: receipt file is required", ErrInvalidClaim)
	}

	return employeeID, employeeName, amount, date, nil
}

// dateKey is the canonical calendar form used to compare and fingerprint dates
func dateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
