package claim

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Claims"

var exportHeaders = []string{
	"Claim ID",
	"Employee ID",
	"Employee Name",
	"Claim Date",
	"Claimed Amount",
	"Receipt Merchant",
	"Receipt Date",
	"Receipt Amount",
	"State",
	"Approved",
	"Details",
	"Fingerprint",
	"Submitted At",
}

// WriteClaimsXLSX writes one row per record to a single-sheet workbook
func WriteClaimsXLSX(w io.Writer, records []*ClaimRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(exportSheet); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("removing default sheet: %w", err)
	}
	index, err := f.GetSheetIndex(exportSheet)
	if err != nil {
		return fmt.Errorf("finding sheet: %w", err)
	}
	f.SetActiveSheet(index)

	header := make([]any, len(exportHeaders))
	for i, h := range exportHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := exportRow(r)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("writing claim %s: %w", r.Claim.ID, err)
		}
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 38)
	_ = f.SetColWidth(exportSheet, "C", "C", 24)
	_ = f.SetColWidth(exportSheet, "F", "F", 28)
	_ = f.SetColWidth(exportSheet, "K", "K", 60)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func exportRow(r *ClaimRecord) []any {
	var merchant, receiptDate string
	var receiptAmount any = ""
	if r.Parsed != nil {
		if r.Parsed.Merchant != nil {
			merchant = *r.Parsed.Merchant
		}
		if r.Parsed.Date != nil {
			receiptDate = dateKey(*r.Parsed.Date)
		}
		if r.Parsed.Amount != nil {
			receiptAmount = r.Parsed.Amount.InexactFloat64()
		}
	}

	var approved bool
	var details, fingerprint string
	if r.Verdict != nil {
		approved = r.Verdict.Approved
		details = r.Verdict.Explanation
		fingerprint = r.Verdict.Fingerprint.String()
	}
	if r.Error != "" {
		details = r.Error
	}

	return []any{
		r.Claim.ID,
		r.Claim.EmployeeID,
		r.Claim.EmployeeName,
		dateKey(r.Claim.Date),
		r.Claim.ClaimedAmount.InexactFloat64(),
		merchant,
		receiptDate,
		receiptAmount,
		string(r.State),
		approved,
		details,
		fingerprint,
		r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
	}
}
