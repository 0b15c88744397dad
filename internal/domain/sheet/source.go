// Package sheet declares the Order Row model and the SheetSource contract the
// Automation Engine polls. The concrete spreadsheet SDK is an external
// collaborator; only the interface and the row shape live
// here.
package sheet

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderRow is one row of the order book as fetched from the sheet.
type OrderRow struct {
	RowIndex       int
	OrderID        string
	CustomerName   string
	Phone          string
	AlternatePhone string
	ProductName    string
	Amount         decimal.Decimal
	Status         string
	TrackingNumber string
	// Timestamp is the raw order-date column, used only as a disambiguator
	// in the derived stable order key when OrderID is absent.
	Timestamp string
}

// SheetSource fetches the current order book. Implementations talk to the
// external spreadsheet SDK; this service only depends on the contract.
type SheetSource interface {
	// FetchRows returns every row currently in the order book, in sheet order.
	FetchRows(ctx context.Context) ([]OrderRow, error)
}
