// Package bigquery persists finished import batches to BigQuery for
// downstream reporting.
package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/fireledger/importer/internal/ledger"
)

type TransactionRow struct {
	ExternalID string `bigquery:"external_id"` // REQUIRED, provider transaction id

	UserID string `bigquery:"user_id"` // NULLABLE
	JobKey string `bigquery:"job_key"` // NULLABLE

	Type            string     `bigquery:"type"`             // REQUIRED, withdrawal|deposit
	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC, unsigned magnitude
	Currency string   `bigquery:"currency"` // REQUIRED STRING

	SourceAccountID      int64 `bigquery:"source_account_id"`      // REQUIRED
	DestinationAccountID int64 `bigquery:"destination_account_id"` // REQUIRED

	Description string              `bigquery:"description"` // REQUIRED STRING
	Notes       bigquery.NullString `bigquery:"notes"`       // NULLABLE

	Tags []string `bigquery:"tags"` // REPEATED STRING

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED (default CURRENT_TIMESTAMP)
}

// RowFromTransaction converts a ledger record into its BigQuery row.
func RowFromTransaction(userID, jobKey string, txn ledger.Transaction) *TransactionRow {
	row := &TransactionRow{
		ExternalID:           txn.ExternalID,
		UserID:               userID,
		JobKey:               jobKey,
		Type:                 string(txn.Type),
		TransactionDate:      civil.DateOf(txn.Date),
		Amount:               txn.Amount.Rat(),
		Currency:             txn.CurrencyCode,
		SourceAccountID:      txn.SourceID,
		DestinationAccountID: txn.DestinationID,
		Description:          txn.Description,
		Tags:                 txn.Tags,
		CreatedTS:            time.Now().UTC(),
	}
	if txn.Notes != "" {
		row.Notes = bigquery.NullString{StringVal: txn.Notes, Valid: true}
	}
	return row
}
