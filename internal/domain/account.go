package domain

import "time"

// ============================================================
// Accounts
// ============================================================

// Account is a ledger account. The core only reads it for balances and names.
type Account struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Currency       string    `json:"currency"`
	InitialBalance Money     `json:"initial_balance"`
	OpenedOn       Date      `json:"opened_on"`
	CreatedAt      time.Time `json:"created_at"`
}

// ============================================================
// Transactions (realized ledger entries)
// ============================================================

// TransferDirection tells which leg of a transfer a transaction is.
type TransferDirection string

const (
	TransferSource      TransferDirection = "source"
	TransferDestination TransferDirection = "destination"
)

// Transaction is a realized ledger entry.
//
// RecurringSeriesID + RecurringInstanceDate mark an entry realized from a
// recurring transaction; RecurringTransferID + RecurringInstanceDate mark a
// leg realized from a recurring transfer. RecurringInstanceDate is always the
// original scheduled date, even when the occurrence was modified.
type Transaction struct {
	ID                    string            `json:"id"`
	AccountID             string            `json:"account_id"`
	Amount                Money             `json:"amount"`
	Date                  Date              `json:"date"`
	Description           string            `json:"description"`
	Category              string            `json:"category,omitempty"`
	RecurringSeriesID     string            `json:"recurring_series_id,omitempty"`
	RecurringInstanceDate *Date             `json:"recurring_instance_date,omitempty"`
	TransferID            string            `json:"transfer_id,omitempty"`
	TransferDirection     TransferDirection `json:"transfer_direction,omitempty"`
	RecurringTransferID   string            `json:"recurring_transfer_id,omitempty"`
	ImportBatchID         string            `json:"import_batch_id,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// IsTransfer reports whether the entry is one leg of a transfer pair.
func (t *Transaction) IsTransfer() bool { return t.TransferID != "" }

// IsRealizedFromRecurring reports whether the entry carries a recurring link.
func (t *Transaction) IsRealizedFromRecurring() bool {
	return (t.RecurringSeriesID != "" || t.RecurringTransferID != "") && t.RecurringInstanceDate != nil
}

// LinkToSeries stamps the recurring link fields on the entry.
func (t *Transaction) LinkToSeries(seriesID string, instanceDate Date) {
	d := instanceDate
	t.RecurringSeriesID = seriesID
	t.RecurringInstanceDate = &d
}

// NewTransferPair builds the two legs of a transfer: equal magnitude,
// opposite sign, opposite direction, one shared transfer ID.
func NewTransferPair(transferID, sourceAccountID, destinationAccountID string, amount Money, on Date, description string, now time.Time) (source, destination *Transaction) {
	magnitude := amount.Abs()
	source = &Transaction{
		AccountID:         sourceAccountID,
		Amount:            magnitude.Neg(),
		Date:              on,
		Description:       description,
		TransferID:        transferID,
		TransferDirection: TransferSource,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	destination = &Transaction{
		AccountID:         destinationAccountID,
		Amount:            magnitude,
		Date:              on,
		Description:       description,
		TransferID:        transferID,
		TransferDirection: TransferDestination,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	return source, destination
}
