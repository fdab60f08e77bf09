package importer

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/fireledger/importer/internal/credentials"
	"github.com/fireledger/importer/internal/importjob"
	"github.com/fireledger/importer/internal/ledger"
	"github.com/fireledger/importer/internal/provider"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// syncFixture wires an engine around in-memory stores and a scriptable
// provider, with the clock pinned to 2019-01-01 so date assertions stay
// stable.
type syncFixture struct {
	repo     *importjob.MemoryRepository
	creds    *credentials.Memory
	accounts *ledger.MemoryRepository
	client   *fakeProvider
	engine   *Engine
	job      *importjob.Job
	now      time.Time
}

func newSyncFixture(t *testing.T, mapping map[string]int64) *syncFixture {
	t.Helper()
	ctx := context.Background()

	f := &syncFixture{
		repo:     importjob.NewMemoryRepository(),
		creds:    credentials.NewMemory(),
		accounts: ledger.NewMemoryRepository(),
		client:   &fakeProvider{},
		now:      time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	f.accounts.AddAccount(&ledger.Account{ID: 42, Name: "Checking", Type: ledger.AccountTypeAsset, CurrencyID: 1})
	f.accounts.AddAccount(&ledger.Account{ID: 7, Name: "Groceries", Type: ledger.AccountTypeExpense})

	if err := f.creds.Set(ctx, "user-1", credentials.AccessTokenKey(0), "access-token-value"); err != nil {
		t.Fatalf("Set access token failed: %v", err)
	}

	f.job = newTestJob(t, f.repo, "user-1")
	cfg := importjob.Config{
		Accounts:       []provider.ExternalAccount{testExternalAccount("plaid-acc-1", "Checking")},
		AccountMapping: mapping,
	}
	if err := f.repo.SetConfiguration(ctx, f.job, cfg); err != nil {
		t.Fatalf("SetConfiguration failed: %v", err)
	}
	if err := f.repo.SetStage(ctx, f.job, importjob.StageGoForImport); err != nil {
		t.Fatalf("SetStage failed: %v", err)
	}

	norm := NewNormalizer(NewPlaceholderMapper(1000))
	f.engine = NewEngine(f.repo, f.creds, f.accounts, f.client, norm, zerolog.Nop())
	f.engine.now = func() time.Time { return f.now }
	return f
}

func externalTransaction(id, date, amount, name string) provider.ExternalTransaction {
	return provider.ExternalTransaction{
		TransactionID: id,
		Date:          date,
		Amount:        decimal.RequireFromString(amount),
		CurrencyCode:  "EUR",
		Name:          name,
		Categories:    []string{"Shops"},
		AccountID:     "plaid-acc-1",
	}
}

func makePage(n int, prefix string) []provider.ExternalTransaction {
	page := make([]provider.ExternalTransaction, n)
	for i := range page {
		page[i] = externalTransaction(prefix+"-"+strconv.Itoa(i), "2018-05-05", "-1.00", "Filler")
	}
	return page
}

func TestEngine_RunSuccess(t *testing.T) {
	f := newSyncFixture(t, map[string]int64{"plaid-acc-1": 42})
	ctx := context.Background()

	f.client.pages = [][]provider.ExternalTransaction{{
		externalTransaction("txn-1", "2018-03-10", "5.00", "Salary"),
		externalTransaction("txn-2", "2018-03-11", "-5.00", "Bakery"),
	}}

	if err := f.engine.Run(ctx, f.job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f.job.Status != importjob.StatusFinished {
		t.Errorf("status = %q, want finished", f.job.Status)
	}

	// No checkpoint yet: the window opens two years before the pinned
	// clock.
	if len(f.client.windowStarts) != 1 {
		t.Fatalf("provider saw %d requests, want 1", len(f.client.windowStarts))
	}
	if got := f.client.windowStarts[0].Format(provider.DateFormat); got != "2017-01-01" {
		t.Errorf("window start = %s, want 2017-01-01", got)
	}

	batch := f.repo.Transactions(f.job.Key)
	if len(batch) != 2 {
		t.Fatalf("batch has %d records, want 2", len(batch))
	}

	// Positive amount: money coming in, so the local account is the
	// destination of a deposit.
	in := batch[0]
	if in.Type != ledger.TransactionTypeDeposit {
		t.Errorf("txn-1 type = %q, want deposit", in.Type)
	}
	if in.DestinationID != 42 {
		t.Errorf("txn-1 destination = %d, want 42", in.DestinationID)
	}
	if in.SourceID == 42 {
		t.Error("txn-1 source must be the opposing account, not the local one")
	}
	if in.ExternalID != "txn-1" {
		t.Errorf("txn-1 external id = %q", in.ExternalID)
	}

	// Negative amount of equal magnitude: a withdrawal, same unsigned
	// amount.
	out := batch[1]
	if out.Type != ledger.TransactionTypeWithdrawal {
		t.Errorf("txn-2 type = %q, want withdrawal", out.Type)
	}
	if out.SourceID != 42 {
		t.Errorf("txn-2 source = %d, want 42", out.SourceID)
	}
	if !in.Amount.Equal(out.Amount) {
		t.Errorf("amounts differ: %s vs %s, want equal magnitude", in.Amount, out.Amount)
	}
	if !in.Amount.Equal(decimal.RequireFromString("5.00")) {
		t.Errorf("amount = %s, want 5.00", in.Amount)
	}
	if out.Notes != `Imported from account "Checking".` {
		t.Errorf("notes = %q", out.Notes)
	}
	if len(out.Tags) != 1 || out.Tags[0] != "Shops" {
		t.Errorf("tags = %v, want [Shops]", out.Tags)
	}

	// Checkpoint advanced to the run time.
	cp, ok, err := credentials.Checkpoint(ctx, f.creds, "user-1", 42)
	if err != nil || !ok {
		t.Fatalf("Checkpoint = %v, %v, %v", cp, ok, err)
	}
	if !cp.Equal(f.now) {
		t.Errorf("checkpoint = %v, want %v", cp, f.now)
	}
}

func TestEngine_PaginatesUntilShortPage(t *testing.T) {
	f := newSyncFixture(t, map[string]int64{"plaid-acc-1": 42})

	f.client.pages = [][]provider.ExternalTransaction{
		makePage(250, "p0"),
		makePage(250, "p1"),
		makePage(100, "p2"),
	}

	if err := f.engine.Run(context.Background(), f.job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantOffsets := []int{0, 250, 500}
	if len(f.client.pageRequests) != len(wantOffsets) {
		t.Fatalf("provider saw %d page requests (%v), want %d", len(f.client.pageRequests), f.client.pageRequests, len(wantOffsets))
	}
	for i, want := range wantOffsets {
		if f.client.pageRequests[i] != want {
			t.Errorf("request %d offset = %d, want %d", i, f.client.pageRequests[i], want)
		}
	}
	if batch := f.repo.Transactions(f.job.Key); len(batch) != 600 {
		t.Errorf("batch has %d records, want 600", len(batch))
	}
}

func TestEngine_SkippedAccountYieldsNothing(t *testing.T) {
	f := newSyncFixture(t, map[string]int64{"plaid-acc-1": 0})
	ctx := context.Background()

	if err := f.engine.Run(ctx, f.job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f.job.Status != importjob.StatusFinished {
		t.Errorf("status = %q, want finished", f.job.Status)
	}
	if len(f.client.pageRequests) != 0 {
		t.Errorf("provider saw %d requests, want 0", len(f.client.pageRequests))
	}
	if batch := f.repo.Transactions(f.job.Key); len(batch) != 0 {
		t.Errorf("batch has %d records, want 0", len(batch))
	}
	// A skipped entry never gets a checkpoint.
	if _, ok, _ := credentials.Checkpoint(ctx, f.creds, "user-1", 0); ok {
		t.Error("checkpoint written for a skipped entry")
	}
}

func TestEngine_CheckpointAdvancesWithoutNewTransactions(t *testing.T) {
	f := newSyncFixture(t, map[string]int64{"plaid-acc-1": 42})
	ctx := context.Background()

	previous := time.Date(2018, time.June, 1, 0, 0, 0, 0, time.UTC)
	if err := credentials.SetCheckpoint(ctx, f.creds, "user-1", 42, previous); err != nil {
		t.Fatalf("SetCheckpoint failed: %v", err)
	}
	// No pages: the account yields zero transactions.

	if err := f.engine.Run(ctx, f.job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := f.client.windowStarts[0]; !got.Equal(previous) {
		t.Errorf("window start = %v, want stored checkpoint %v", got, previous)
	}
	cp, ok, err := credentials.Checkpoint(ctx, f.creds, "user-1", 42)
	if err != nil || !ok {
		t.Fatalf("Checkpoint = %v, %v, %v", cp, ok, err)
	}
	if !cp.Equal(f.now) {
		t.Errorf("checkpoint = %v, want advanced to %v", cp, f.now)
	}
}

func TestEngine_NoAccountsDiscovered(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	cfg, _ := f.repo.GetConfiguration(ctx, f.job)
	cfg.Accounts = nil
	if err := f.repo.SetConfiguration(ctx, f.job, cfg); err != nil {
		t.Fatalf("SetConfiguration failed: %v", err)
	}

	err := f.engine.Run(ctx, f.job)
	if !errors.Is(err, ErrNoAccountsDiscovered) {
		t.Errorf("Run = %v, want ErrNoAccountsDiscovered", err)
	}
	// The run never started, so the status is untouched.
	if f.job.Status == importjob.StatusError || f.job.Status == importjob.StatusRunning {
		t.Errorf("status = %q, want pre-run status", f.job.Status)
	}
}

func TestEngine_UnknownExternalAccountAborts(t *testing.T) {
	f := newSyncFixture(t, map[string]int64{"plaid-acc-ghost": 42})
	ctx := context.Background()

	err := f.engine.Run(ctx, f.job)
	var unknown *UnknownExternalAccountError
	if !errors.As(err, &unknown) {
		t.Fatalf("Run = %v, want UnknownExternalAccountError", err)
	}
	if unknown.AccountID != "plaid-acc-ghost" {
		t.Errorf("AccountID = %q", unknown.AccountID)
	}
	if f.job.Status != importjob.StatusError {
		t.Errorf("status = %q, want error", f.job.Status)
	}
	if batch := f.repo.Transactions(f.job.Key); len(batch) != 0 {
		t.Errorf("batch stored despite aborted run: %v", batch)
	}
	if _, ok, _ := credentials.Checkpoint(ctx, f.creds, "user-1", 42); ok {
		t.Error("checkpoint advanced despite aborted run")
	}
}

func TestEngine_NotImportableAccountAborts(t *testing.T) {
	tests := []struct {
		name    string
		localID int64
	}{
		{"missing account", 999},
		{"expense account", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSyncFixture(t, map[string]int64{"plaid-acc-1": tt.localID})

			err := f.engine.Run(context.Background(), f.job)
			var notImportable *NotImportableError
			if !errors.As(err, &notImportable) {
				t.Fatalf("Run = %v, want NotImportableError", err)
			}
			if notImportable.LocalID != tt.localID {
				t.Errorf("LocalID = %d, want %d", notImportable.LocalID, tt.localID)
			}
			if f.job.Status != importjob.StatusError {
				t.Errorf("status = %q, want error", f.job.Status)
			}
		})
	}
}

func TestEngine_FetchFailureMovesNothing(t *testing.T) {
	f := newSyncFixture(t, map[string]int64{"plaid-acc-1": 42})
	ctx := context.Background()

	f.client.transactionsErr = errors.New("rate limited")

	err := f.engine.Run(ctx, f.job)
	if err == nil {
		t.Fatal("Run succeeded with a failing provider")
	}
	if f.job.Status != importjob.StatusError {
		t.Errorf("status = %q, want error", f.job.Status)
	}
	if batch := f.repo.Transactions(f.job.Key); len(batch) != 0 {
		t.Errorf("batch stored despite fetch failure: %v", batch)
	}
	if _, ok, _ := credentials.Checkpoint(ctx, f.creds, "user-1", 42); ok {
		t.Error("checkpoint advanced despite fetch failure")
	}
}
