package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fireledger/importer/internal/credentials"
	"github.com/fireledger/importer/internal/importer"
	"github.com/fireledger/importer/internal/importjob"
	"github.com/fireledger/importer/internal/infra/bigquery"
	"github.com/fireledger/importer/internal/ledger"
	"github.com/fireledger/importer/internal/logger"
	"github.com/fireledger/importer/internal/provider"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runImport(log)
	case "inspect":
		runInspect(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Transaction Importer CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run       Run a one-shot import against the provider")
	fmt.Println("  inspect   List imported transactions stored in BigQuery")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runImport(log zerolog.Logger) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	user := fs.String("user", "cli", "user id owning the credentials")
	environment := fs.String("environment", envOr("PLAID_ENV", "sandbox"), "provider environment")
	clientID := fs.String("client-id", os.Getenv("PLAID_CLIENT_ID"), "provider client id")
	secret := fs.String("secret", os.Getenv("PLAID_SECRET"), "provider secret")
	publicKey := fs.String("public-key", os.Getenv("PLAID_PUBLIC_KEY"), "provider public key")
	publicToken := fs.String("public-token", "", "public token to exchange for an access token")
	accessToken := fs.String("access-token", "", "already linked access token")
	mappingSpec := fs.String("mapping", "", "account mapping, e.g. extID1=42,extID2=7")
	bqProject := fs.String("bq-project", os.Getenv("BQ_PROJECT"), "BigQuery project for the transaction sink")
	bqDataset := fs.String("bq-dataset", os.Getenv("BQ_DATASET"), "BigQuery dataset for the transaction sink")
	fs.Parse(os.Args[2:])

	if *publicToken == "" && *accessToken == "" {
		log.Fatal().Msg("Error: one of --public-token or --access-token is required")
	}
	mapping, localIDs, err := parseMapping(*mappingSpec)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --mapping")
	}
	if len(mapping) == 0 {
		log.Fatal().Msg("Error: --mapping is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	client := provider.NewHTTPClient(provider.Environment(*environment), *clientID, *secret, *publicKey)
	creds := credentials.NewMemory()
	jobRepo := importjob.NewMemoryRepository()

	// The CLI has no ledger of its own: every mapped local id becomes an
	// in-memory asset account so the mapping validates.
	accounts := ledger.NewMemoryRepository()
	accounts.AddCurrency(&ledger.Currency{ID: 1, Code: "EUR"})
	accounts.SetDefaultCurrency(*user, 1)
	for _, id := range localIDs {
		accounts.AddAccount(&ledger.Account{
			ID:   id,
			Name: fmt.Sprintf("Account #%d", id),
			Type: ledger.AccountTypeAsset,
		})
	}

	flow := importer.NewFlow(jobRepo, creds, client, log)
	dispatcher := importer.NewDispatcher(jobRepo, creds, accounts, accounts.Currencies(), log)
	normalizer := importer.NewNormalizer(importer.NewPlaceholderMapper(1_000_000))
	engine := importer.NewEngine(jobRepo, creds, accounts, client, normalizer, log)

	if *accessToken != "" {
		key, err := credentials.AppendAccessToken(ctx, creds, *user, *accessToken)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to store access token")
		}
		log.Info().Str("token_key", key).Msg("Stored access token")
	}
	if *publicToken != "" {
		key, err := flow.ExchangePublicToken(ctx, *user, *publicToken)
		if err != nil {
			log.Fatal().Err(err).Msg("Token exchange failed")
		}
		log.Info().Str("token_key", key).Msg("Exchanged public token")
	}

	job, err := jobRepo.NewJob(ctx, *user)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create import job")
	}
	log.Info().Str("job", job.Key).Msg("Created import job")

	if _, err := flow.DiscoverAccounts(ctx, *user, job.Key); err != nil {
		log.Fatal().Err(err).Msg("Account discovery failed")
	}

	// Walk the configuration stages, feeding the mapping in when the job
	// asks for it.
	for {
		handler, err := dispatcher.HandlerFor(job)
		if errors.Is(err, importer.ErrJobReady) {
			break
		}
		if err != nil {
			log.Fatal().Err(err).Str("stage", string(job.Stage)).Msg("Stage dispatch failed")
		}

		done, err := handler.ConfigurationComplete(ctx)
		if err != nil {
			log.Fatal().Err(err).Str("stage", string(job.Stage)).Msg("Stage completeness check failed")
		}
		if done {
			continue
		}

		if job.Stage != importjob.StageChooseAccounts {
			log.Fatal().Str("stage", string(job.Stage)).Msg("Stage needs input the CLI cannot provide")
		}
		messages, err := handler.ConfigureJob(ctx, map[string]any{"account_mapping": mapping})
		if err != nil {
			log.Fatal().Err(err).Msg("Account mapping rejected")
		}
		if !messages.Empty() {
			log.Fatal().Interface("messages", messages.All()).Msg("Account mapping unusable")
		}
	}

	if err := engine.Run(ctx, job); err != nil {
		log.Fatal().Err(err).Msg("Sync run failed")
	}

	batch := jobRepo.Transactions(job.Key)
	fmt.Printf("\nImported %d transactions:\n", len(batch))
	for i, txn := range batch {
		fmt.Printf("%d. %s  %s %s  %s (%s)\n", i+1,
			txn.Date.Format(provider.DateFormat), txn.Amount.StringFixed(2),
			txn.CurrencyCode, txn.Description, txn.Type)
	}

	if *bqProject != "" && *bqDataset != "" {
		sink, err := bigquery.NewSink(ctx, *bqProject, *bqDataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery sink")
		}
		defer sink.Close()
		if err := sink.Store(ctx, *user, job.Key, batch); err != nil {
			log.Fatal().Err(err).Msg("Failed to store batch")
		}
		fmt.Printf("Stored batch in %s.%s\n", *bqProject, *bqDataset)
	}
}

func runInspect(log zerolog.Logger) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	user := fs.String("user", "cli", "user id to list transactions for")
	startStr := fs.String("start", "", "start date (YYYY-MM-DD, defaults to one year ago)")
	endStr := fs.String("end", "", "end date (YYYY-MM-DD, defaults to today)")
	bqProject := fs.String("bq-project", os.Getenv("BQ_PROJECT"), "BigQuery project")
	bqDataset := fs.String("bq-dataset", os.Getenv("BQ_DATASET"), "BigQuery dataset")
	fs.Parse(os.Args[2:])

	if *bqProject == "" || *bqDataset == "" {
		log.Fatal().Msg("Error: --bq-project and --bq-dataset are required")
	}

	start := time.Now().AddDate(-1, 0, 0)
	end := time.Now()
	var err error
	if *startStr != "" {
		if start, err = time.Parse(provider.DateFormat, *startStr); err != nil {
			log.Fatal().Err(err).Msg("Invalid --start date")
		}
	}
	if *endStr != "" {
		if end, err = time.Parse(provider.DateFormat, *endStr); err != nil {
			log.Fatal().Err(err).Msg("Invalid --end date")
		}
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	sink, err := bigquery.NewSink(ctx, *bqProject, *bqDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer sink.Close()

	rows, err := sink.QueryByDateRange(ctx, *user, start, end)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query transactions")
	}

	fmt.Printf("\n=== Transactions (%d) ===\n", len(rows))
	for i, row := range rows {
		fmt.Printf("\n%d. %s\n", i+1, row.Description)
		fmt.Printf("   Date:     %s\n", row.TransactionDate)
		fmt.Printf("   Amount:   %s %s (%s)\n", row.Amount.FloatString(2), row.Currency, row.Type)
		if len(row.Tags) > 0 {
			fmt.Printf("   Tags:     %s\n", strings.Join(row.Tags, ", "))
		}
	}
	fmt.Println()
}

// parseMapping parses "ext1=42,ext2=7" into the account mapping shape the
// choose-accounts stage expects, plus the distinct local ids.
func parseMapping(spec string) (map[string]any, []int64, error) {
	if spec == "" {
		return nil, nil, nil
	}
	mapping := make(map[string]any)
	seen := make(map[int64]bool)
	var ids []int64
	for _, pair := range strings.Split(spec, ",") {
		external, local, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || external == "" {
			return nil, nil, fmt.Errorf("parseMapping: malformed pair %q", pair)
		}
		id, err := strconv.ParseInt(local, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("parseMapping: local id in %q: %w", pair, err)
		}
		mapping[external] = id
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return mapping, ids, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
