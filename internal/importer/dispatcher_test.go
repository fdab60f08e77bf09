package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fireledger/importer/internal/credentials"
	"github.com/fireledger/importer/internal/importjob"
	"github.com/fireledger/importer/internal/ledger"
	"github.com/rs/zerolog"
)

func newTestDispatcher(repo *importjob.MemoryRepository, store *credentials.Memory, accounts *ledger.MemoryRepository) *Dispatcher {
	return NewDispatcher(repo, store, accounts, accounts.Currencies(), zerolog.Nop())
}

func TestDispatcher_HandlerPerStage(t *testing.T) {
	repo := importjob.NewMemoryRepository()
	accounts := ledger.NewMemoryRepository()
	d := newTestDispatcher(repo, credentials.NewMemory(), accounts)

	tests := []struct {
		stage importjob.Stage
		want  string
	}{
		{importjob.StageNew, "*importer.NewJobHandler"},
		{importjob.StageDoAuthenticate, "*importer.DoAuthenticateHandler"},
		{importjob.StageChooseLogin, "*importer.ChooseLoginHandler"},
		{importjob.StageGetAccessToken, "*importer.ChooseLoginHandler"},
		{importjob.StageAuthenticated, "*importer.AuthenticatedHandler"},
		{importjob.StageChooseAccounts, "*importer.ChooseAccountsHandler"},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			job := &importjob.Job{Key: "k", UserID: "u", Stage: tt.stage}
			handler, err := d.HandlerFor(job)
			if err != nil {
				t.Fatalf("HandlerFor(%q) failed: %v", tt.stage, err)
			}
			if got := fmt.Sprintf("%T", handler); got != tt.want {
				t.Errorf("HandlerFor(%q) = %s, want %s", tt.stage, got, tt.want)
			}
		})
	}
}

func TestDispatcher_TerminalStage(t *testing.T) {
	d := newTestDispatcher(importjob.NewMemoryRepository(), credentials.NewMemory(), ledger.NewMemoryRepository())
	job := &importjob.Job{Key: "k", Stage: importjob.StageGoForImport}

	_, err := d.HandlerFor(job)
	if !errors.Is(err, ErrJobReady) {
		t.Errorf("HandlerFor(go-for-import) = %v, want ErrJobReady", err)
	}
}

func TestDispatcher_UnsupportedStage(t *testing.T) {
	d := newTestDispatcher(importjob.NewMemoryRepository(), credentials.NewMemory(), ledger.NewMemoryRepository())
	job := &importjob.Job{Key: "k", Stage: importjob.Stage("corrupted")}

	_, err := d.HandlerFor(job)
	var unsupported *importjob.ErrUnsupportedStage
	if !errors.As(err, &unsupported) {
		t.Fatalf("HandlerFor(corrupted) = %v, want ErrUnsupportedStage", err)
	}
	if unsupported.Stage != "corrupted" {
		t.Errorf("unsupported stage = %q, want corrupted", unsupported.Stage)
	}
}

// TestStageWalk drives a job through the whole configuration sequence and
// checks every transition stays inside the enumerated stage set.
func TestStageWalk(t *testing.T) {
	ctx := context.Background()
	repo := importjob.NewMemoryRepository()
	store := credentials.NewMemory()
	accounts := ledger.NewMemoryRepository()
	accounts.AddAccount(&ledger.Account{ID: 42, Name: "Checking", Type: ledger.AccountTypeAsset, CurrencyID: 1})
	accounts.AddCurrency(&ledger.Currency{ID: 1, Code: "EUR"})
	accounts.SetDefaultCurrency("user-1", 1)

	d := newTestDispatcher(repo, store, accounts)
	job := newTestJob(t, repo, "user-1")

	// new -> do-authenticate
	h, err := d.HandlerFor(job)
	if err != nil {
		t.Fatalf("HandlerFor(new) failed: %v", err)
	}
	if done, _ := h.ConfigurationComplete(ctx); !done {
		t.Fatal("new stage should complete immediately")
	}
	if job.Stage != importjob.StageDoAuthenticate {
		t.Fatalf("stage = %q, want do-authenticate", job.Stage)
	}

	// do-authenticate is incomplete until a token or code exists.
	h, _ = d.HandlerFor(job)
	if done, _ := h.ConfigurationComplete(ctx); done {
		t.Fatal("do-authenticate complete without token or code")
	}
	if _, err := credentials.AppendAccessToken(ctx, store, "user-1", "access-a"); err != nil {
		t.Fatalf("AppendAccessToken failed: %v", err)
	}
	if done, _ := h.ConfigurationComplete(ctx); !done {
		t.Fatal("do-authenticate should complete once a token exists")
	}
	if job.Stage != importjob.StageChooseLogin {
		t.Fatalf("stage = %q, want choose-login", job.Stage)
	}

	// choose-login -> authenticated
	h, _ = d.HandlerFor(job)
	if done, _ := h.ConfigurationComplete(ctx); !done {
		t.Fatal("choose-login should complete with a stored token")
	}
	if job.Stage != importjob.StageAuthenticated {
		t.Fatalf("stage = %q, want authenticated", job.Stage)
	}

	// authenticated is incomplete until discovery ran.
	h, _ = d.HandlerFor(job)
	if done, _ := h.ConfigurationComplete(ctx); done {
		t.Fatal("authenticated complete without discovered accounts")
	}
	cfg, _ := repo.GetConfiguration(ctx, job)
	cfg.Accounts = append(cfg.Accounts, testExternalAccount("plaid-acc-1", "Checking"))
	if err := repo.SetConfiguration(ctx, job, cfg); err != nil {
		t.Fatalf("SetConfiguration failed: %v", err)
	}
	if done, _ := h.ConfigurationComplete(ctx); !done {
		t.Fatal("authenticated should complete once accounts were discovered")
	}
	if job.Stage != importjob.StageChooseAccounts {
		t.Fatalf("stage = %q, want choose-accounts", job.Stage)
	}

	// choose-accounts -> go-for-import once a usable mapping exists.
	h, _ = d.HandlerFor(job)
	msgs, err := h.ConfigureJob(ctx, map[string]any{
		"account_mapping": map[string]any{"plaid-acc-1": float64(42)},
		"apply_rules":     float64(1),
	})
	if err != nil {
		t.Fatalf("ConfigureJob failed: %v", err)
	}
	if !msgs.Empty() {
		t.Fatalf("ConfigureJob messages = %v, want none", msgs.All())
	}
	if done, _ := h.ConfigurationComplete(ctx); !done {
		t.Fatal("choose-accounts should complete with a usable mapping")
	}
	if job.Stage != importjob.StageGoForImport {
		t.Fatalf("stage = %q, want go-for-import", job.Stage)
	}

	if _, err := d.HandlerFor(job); !errors.Is(err, ErrJobReady) {
		t.Errorf("HandlerFor after walk = %v, want ErrJobReady", err)
	}

	if !job.Stage.Valid() {
		t.Errorf("final stage %q outside the enumerated set", job.Stage)
	}
}
