package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/halcyonic/drivectl/internal/authflow"
	"github.com/halcyonic/drivectl/internal/store"
)

func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "manage authorized accounts",
		Commands: []*cli.Command{
			{
				Name:      "credentials",
				Usage:     "set the OAuth client credentials shared by all accounts",
				ArgsUsage: "[credentials-file]",
				Action:    accountsCredentialsAction,
			},
			{
				Name:      "add",
				Usage:     "authorize a new account",
				ArgsUsage: "<identity>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "manual",
						Usage: "paste the redirect URL by hand instead of binding a local listener",
					},
				},
				Action: accountsAddAction,
			},
			{
				Name:      "remove",
				Usage:     "remove a stored account",
				ArgsUsage: "<identity>",
				Action:    accountsRemoveAction,
			},
			{
				Name:   "list",
				Usage:  "list stored accounts",
				Action: accountsListAction,
			},
		},
	}
}

func accountsCredentialsAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	var creds store.ClientCredentials
	if path := cmd.Args().First(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading credentials file: %w", err)
		}
		creds, err = parseCredentialsFile(data)
		if err != nil {
			return err
		}
	} else {
		creds, err = promptCredentials()
		if err != nil {
			return err
		}
	}

	fileStore, err := cfg.NewFileStore()
	if err != nil {
		return err
	}
	registry, err := cfg.NewCredentialRegistry(fileStore)
	if err != nil {
		return err
	}

	if err := registry.Set(ctx, creds); err != nil {
		return err
	}

	fmt.Println("Client credentials saved.")
	return nil
}

func accountsAddAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	identity := cmd.Args().First()
	if identity == "" {
		return fmt.Errorf("identity argument required (e.g. drivectl accounts add you@example.com)")
	}

	fileStore, err := cfg.NewFileStore()
	if err != nil {
		return err
	}
	registry, err := cfg.NewCredentialRegistry(fileStore)
	if err != nil {
		return err
	}

	creds, err := registry.GetCredentials(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotConfigured) {
			return fmt.Errorf("%w: run `drivectl accounts credentials` first", err)
		}
		return err
	}

	// Reject duplicates before any network traffic so a working refresh
	// token is never put at risk.
	if _, err := fileStore.Get(ctx, identity); err == nil {
		return fmt.Errorf("%w: %s", store.ErrDuplicateAccount, identity)
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return err
	}

	flow := authflow.New(creds,
		authflow.WithEndpoint(cfg.OAuth.Endpoint()),
		authflow.WithScopes(cfg.OAuth.Scopes...),
		authflow.WithTimeout(cfg.OAuth.FlowTimeout),
		authflow.WithManualRedirectURI(cfg.OAuth.ManualRedirectURI),
	)

	var result *authflow.Result
	if cmd.Bool("manual") {
		result, err = flow.AuthorizeManual(ctx)
	} else {
		result, err = flow.Authorize(ctx)
	}
	if err != nil {
		return err
	}

	acct := store.Account{
		Identity:          identity,
		RefreshToken:      result.RefreshToken,
		AccessToken:       result.AccessToken,
		AccessTokenExpiry: result.Expiry,
	}
	if err := fileStore.Add(ctx, acct); err != nil {
		return err
	}

	fmt.Printf("Account %s authorized and stored.\n", identity)
	return nil
}

func accountsRemoveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	identity := cmd.Args().First()
	if identity == "" {
		return fmt.Errorf("identity argument required")
	}

	fileStore, err := cfg.NewFileStore()
	if err != nil {
		return err
	}

	removed, err := fileStore.Remove(ctx, identity)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("No account %s; nothing removed.\n", identity)
		return nil
	}
	fmt.Printf("Account %s removed.\n", identity)
	return nil
}

func accountsListAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	fileStore, err := cfg.NewFileStore()
	if err != nil {
		return err
	}

	accounts, err := fileStore.List(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("No accounts. Run `drivectl accounts add <identity>`.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tCACHED TOKEN\tEXPIRES")
	for _, acct := range accounts {
		cached := "-"
		expires := "-"
		if acct.AccessToken != "" {
			cached = "yes"
			expires = acct.AccessTokenExpiry.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", acct.Identity, cached, expires)
	}
	return w.Flush()
}

// parseCredentialsFile accepts both the provider-downloaded shape
// ({"installed": {...}} or {"web": {...}}) and a flat pair.
func parseCredentialsFile(data []byte) (store.ClientCredentials, error) {
	for _, root := range []string{"installed.", "web.", ""} {
		creds := store.ClientCredentials{
			ClientID:     gjson.GetBytes(data, root+"client_id").String(),
			ClientSecret: gjson.GetBytes(data, root+"client_secret").String(),
		}
		if creds.Validate() == nil {
			return creds, nil
		}
	}
	return store.ClientCredentials{}, fmt.Errorf("credentials file carries no client_id/client_secret pair")
}

// promptCredentials reads the pair interactively, the secret without echo.
func promptCredentials() (store.ClientCredentials, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Fprint(os.Stderr, "Client ID: ")
	id, err := reader.ReadString('\n')
	if err != nil {
		return store.ClientCredentials{}, err
	}

	fmt.Fprint(os.Stderr, "Client secret: ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return store.ClientCredentials{}, err
	}

	creds := store.ClientCredentials{
		ClientID:     strings.TrimSpace(id),
		ClientSecret: strings.TrimSpace(string(secret)),
	}
	return creds, creds.Validate()
}
