package claim

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Policy holds the configurable limits applied to every claim
type Policy struct {
	// AmountTolerance is the largest receipt/claim difference still treated as a match (exclusive)
	AmountTolerance decimal.Decimal
	// MaxClaimAmount is the per-claim ceiling (inclusive)
	MaxClaimAmount decimal.Decimal
}

// DefaultPolicy allows a one cent tolerance and a 5000 ceiling
func DefaultPolicy() Policy {
	return Policy{
		AmountTolerance: decimal.RequireFromString("0.01"),
		MaxClaimAmount:  decimal.NewFromInt(5000),
	}
}

// Engine decides whether a claim is backed by its receipt
type Engine struct {
	index  DuplicateIndex
	policy Policy
}

// NewEngine creates an Engine that checks duplicates against index
func NewEngine(index DuplicateIndex, policy Policy) *Engine {
	return &Engine{index: index, policy: policy}
}

// Validate runs the five checks and, only when all of them pass, records the
// receipt fingerprint in the duplicate index. Missing fields fail their checks
// rather than producing errors; the only error comes from the index itself.
func (e *Engine) Validate(c Claim, parsed ParsedFields, rawText string) (Verdict, error) {
	v := Verdict{Fingerprint: ComputeFingerprint(parsed)}

	v.AmountOK = parsed.Amount != nil &&
		parsed.Amount.Sub(c.ClaimedAmount).Abs().LessThan(e.policy.AmountTolerance)
	v.DateOK = parsed.Date != nil && dateKey(*parsed.Date) == dateKey(c.Date)
	v.NameOK = nameOnReceipt(c.EmployeeName, rawText)
	v.WithinLimit = parsed.Amount != nil && parsed.Amount.LessThanOrEqual(e.policy.MaxClaimAmount)

	others := v.AmountOK && v.DateOK && v.NameOK && v.WithinLimit
	absent, err := e.index.CheckAndRecord(v.Fingerprint, others)
	if err != nil {
		return Verdict{}, fmt.Errorf("checking duplicate index: %w", err)
	}
	v.NotDuplicate = absent
	v.Approved = others && v.NotDuplicate

	if !v.Approved {
		v.Explanation = e.explain(c, parsed, v)
	}
	return v, nil
}

func nameOnReceipt(name, rawText string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(rawText), strings.ToLower(name))
}

// explain lists every failed check in a fixed order
func (e *Engine) explain(c Claim, parsed ParsedFields, v Verdict) string {
	var reasons []string

	switch {
	case parsed.Amount == nil:
		reasons = append(reasons, "no amount found on receipt")
	case !v.AmountOK:
		reasons = append(reasons, fmt.Sprintf("receipt amount %s does not match claimed amount %s",
			parsed.Amount.StringFixed(2), c.ClaimedAmount.StringFixed(2)))
	}

	switch {
	case parsed.Date == nil:
		reasons = append(reasons, "no date found on receipt")
	case !v.DateOK:
		reasons = append(reasons, fmt.Sprintf("receipt date %s does not match claim date %s",
			dateKey(*parsed.Date), dateKey(c.Date)))
	}

	if !v.NameOK {
		reasons = append(reasons, fmt.Sprintf("employee name %q not found on receipt", c.EmployeeName))
	}

	if !v.NotDuplicate {
		reasons = append(reasons, fmt.Sprintf("receipt already claimed (fingerprint %s)", v.Fingerprint.Short()))
	}

	if !v.WithinLimit && parsed.Amount != nil {
		reasons = append(reasons, fmt.Sprintf("amount %s exceeds the per-claim limit of %s",
			parsed.Amount.StringFixed(2), e.policy.MaxClaimAmount.StringFixed(2)))
	}

	return strings.Join(reasons, "; ")
}
