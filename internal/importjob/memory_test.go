package importjob

import (
	"context"
	"testing"

	"github.com/fireledger/importer/internal/ledger"
	"github.com/fireledger/importer/internal/provider"
	"github.com/shopspring/decimal"
)

func TestMemoryRepository_ConfigurationRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	job, err := repo.NewJob(ctx, "user-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.Stage != StageNew || job.Status != StatusNotReady {
		t.Fatalf("new job = stage %q status %q, want new/not_ready", job.Stage, job.Status)
	}

	cfg := Config{
		AuthCode: "code-123",
		Accounts: []provider.ExternalAccount{
			{AccountID: "plaid-acc-1", Name: "Checking", CurrencyCode: "EUR", AccessTokenKey: "access_token_0"},
		},
		AccountMapping: map[string]int64{"plaid-acc-1": 42},
		ApplyRules:     true,
	}
	if err := repo.SetConfiguration(ctx, job, cfg); err != nil {
		t.Fatalf("SetConfiguration failed: %v", err)
	}

	found, err := repo.FindByKey(ctx, job.Key)
	if err != nil {
		t.Fatalf("FindByKey failed: %v", err)
	}
	if found == nil {
		t.Fatal("FindByKey returned nil for existing job")
	}
	if found.Config.AuthCode != "code-123" {
		t.Errorf("AuthCode = %q, want code-123", found.Config.AuthCode)
	}
	if got := found.Config.AccountMapping["plaid-acc-1"]; got != 42 {
		t.Errorf("AccountMapping[plaid-acc-1] = %d, want 42", got)
	}
	if acc := found.Config.AccountByID("plaid-acc-1"); acc == nil || acc.Name != "Checking" {
		t.Errorf("AccountByID(plaid-acc-1) = %+v, want Checking", acc)
	}
	if acc := found.Config.AccountByID("nope"); acc != nil {
		t.Errorf("AccountByID(nope) = %+v, want nil", acc)
	}
}

func TestMemoryRepository_FindByKeyUnknown(t *testing.T) {
	repo := NewMemoryRepository()
	job, err := repo.FindByKey(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByKey failed: %v", err)
	}
	if job != nil {
		t.Errorf("FindByKey(missing) = %+v, want nil", job)
	}
}

func TestMemoryRepository_StageAndStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	job, err := repo.NewJob(ctx, "user-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}

	if err := repo.SetStage(ctx, job, StageGetAccessToken); err != nil {
		t.Fatalf("SetStage failed: %v", err)
	}
	if err := repo.SetStatus(ctx, job, StatusReadyToRun); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if job.Stage != StageGetAccessToken || job.Status != StatusReadyToRun {
		t.Errorf("in-memory job not updated: stage %q status %q", job.Stage, job.Status)
	}

	found, _ := repo.FindByKey(ctx, job.Key)
	if found.Stage != StageGetAccessToken || found.Status != StatusReadyToRun {
		t.Errorf("persisted job = stage %q status %q", found.Stage, found.Status)
	}
}

func TestMemoryRepository_SetTransactions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	job, err := repo.NewJob(ctx, "user-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}

	batch := []ledger.Transaction{
		{Type: ledger.TransactionTypeWithdrawal, ExternalID: "txn-1", Amount: decimal.RequireFromString("5.00")},
	}
	if err := repo.SetTransactions(ctx, job, batch); err != nil {
		t.Fatalf("SetTransactions failed: %v", err)
	}

	got := repo.Transactions(job.Key)
	if len(got) != 1 || got[0].ExternalID != "txn-1" {
		t.Errorf("Transactions = %+v, want the stored batch", got)
	}
}

func TestStage_Valid(t *testing.T) {
	valid := []Stage{
		StageNew, StageDoAuthenticate, StageChooseLogin, StageGetAccessToken,
		StageAuthenticated, StageChooseAccounts, StageGoForImport,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("Stage(%q).Valid() = false, want true", s)
		}
	}
	for _, s := range []Stage{"", "bogus", "New", "go_for_import"} {
		if s.Valid() {
			t.Errorf("Stage(%q).Valid() = true, want false", s)
		}
	}
}
