package main

import (
	"context"
	"espdesk/internal/config"
	"espdesk/internal/database"
	"espdesk/internal/model"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
)

// credentialArgs lists the credential fields each provider expects, in order
var credentialArgs = map[model.Provider][]string{
	model.ProviderSendX:       {"api_key"},
	model.ProviderSendPulse:   {"client_id", "client_secret"},
	model.ProviderGetResponse: {"api_key"},
	model.ProviderMagicLink:   {"publishable_key", "secret_key"},
}

func usage() {
	fmt.Println("Usage: accountctl <config_path> list")
	fmt.Println("       accountctl <config_path> add <provider> <name> <credentials...>")
	fmt.Println("       accountctl <config_path> remove <account_id>")
	fmt.Println("Example: accountctl config.json add sendpulse \"Main list\" CLIENT_ID CLIENT_SECRET")
	os.Exit(1)
}

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if len(os.Args) < 3 {
		usage()
	}

	// Load configuration
	cfg, err := config.LoadFromEnv(os.Args[1])
	if err != nil {
		log.Fatal().Msgf("Failed to load configuration: %v", err)
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Msgf("Failed to open account store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer db.Close(ctx)

	switch os.Args[2] {
	case "list":
		accounts, err := db.ListAccounts(ctx)
		if err != nil {
			log.Fatal().Msgf("Failed to list accounts: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tCREATED")
		for _, a := range accounts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Provider, a.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()

	case "add":
		if len(os.Args) < 5 {
			usage()
		}

		provider := model.Provider(os.Args[3])
		fields, ok := credentialArgs[provider]
		if !ok {
			log.Fatal().Msgf("Unknown provider %q", os.Args[3])
		}

		creds := os.Args[5:]
		if len(creds) != len(fields) {
			log.Fatal().Msgf("%s needs %d credential(s): %v", provider, len(fields), fields)
		}

		account := model.Account{Name: os.Args[4], Provider: provider}
		for i, field := range fields {
			switch field {
			case "api_key":
				account.APIKey = creds[i]
			case "client_id":
				account.ClientID = creds[i]
			case "client_secret":
				account.ClientSecret = creds[i]
			case "publishable_key":
				account.PublishableKey = creds[i]
			case "secret_key":
				account.SecretKey = creds[i]
			}
		}

		if err := db.CreateAccount(ctx, &account); err != nil {
			log.Fatal().Msgf("Failed to create account: %v", err)
		}

		fmt.Println("Account created successfully!")
		fmt.Println("ID:", account.ID)

	case "remove":
		if len(os.Args) < 4 {
			usage()
		}

		if err := db.DeleteAccount(ctx, os.Args[3]); err != nil {
			log.Fatal().Msgf("Failed to delete account: %v", err)
		}

		fmt.Println("Account removed:", os.Args[3])

	default:
		usage()
	}
}
