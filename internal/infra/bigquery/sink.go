package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/fireledger/importer/internal/ledger"
)

const (
	transactionsTable = "imported_transactions"
	dateFormat        = "2006-01-02"
)

// Sink writes import batches into <project>.<dataset>.imported_transactions.
// It holds a shared BigQuery client to avoid creating a new connection for
// each batch.
type Sink struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewSink creates a sink with its own BigQuery client.
func NewSink(ctx context.Context, projectID, datasetID string) (*Sink, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewSink: bigquery client: %w", err)
	}
	return &Sink{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (s *Sink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Store inserts a finished batch. An empty batch is a no-op.
func (s *Sink) Store(ctx context.Context, userID, jobKey string, batch []ledger.Transaction) error {
	if len(batch) == 0 {
		return nil
	}

	rows := make([]*TransactionRow, 0, len(batch))
	for _, txn := range batch {
		rows = append(rows, RowFromTransaction(userID, jobKey, txn))
	}

	// Use fully qualified table name to avoid project ID issues
	table := s.client.DatasetInProject(s.projectID, s.datasetID).Table(transactionsTable)
	if err := table.Inserter().Put(ctx, rows); err != nil {
		return fmt.Errorf("Store: inserting rows: %w", err)
	}
	return nil
}

// QueryByDateRange returns the stored rows for a user whose transaction
// date falls inside [start, end], oldest first.
func (s *Sink) QueryByDateRange(ctx context.Context, userID string, start, end time.Time) ([]*TransactionRow, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			external_id,
			user_id,
			job_key,
			type,
			transaction_date,
			amount,
			currency,
			source_account_id,
			destination_account_id,
			description,
			notes,
			tags,
			created_ts
		FROM %s.%s
		WHERE user_id = @user_id
		  AND transaction_date >= @start_date
		  AND transaction_date <= @end_date
		ORDER BY transaction_date, created_ts
	`, s.datasetID, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "start_date", Value: start.Format(dateFormat)},
		{Name: "end_date", Value: end.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryByDateRange: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryByDateRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
