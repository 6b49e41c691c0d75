package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/halcyonic/drivectl/internal/app"
	"github.com/halcyonic/drivectl/internal/drive"
	"github.com/halcyonic/drivectl/internal/store"
	"github.com/halcyonic/drivectl/internal/tokensource"
)

// uploadConcurrency bounds the client-side fan-out of multi-file uploads.
const uploadConcurrency = 3

func filesCommand() *cli.Command {
	return &cli.Command{
		Name:  "files",
		Usage: "operate on remote files",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list remote files",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "query",
						Aliases: []string{"q"},
						Usage:   "provider query string",
					},
					&cli.IntFlag{
						Name:  "max",
						Usage: "maximum number of files",
						Value: 30,
					},
				},
				Action: filesListAction,
			},
			{
				Name:      "upload",
				Usage:     "upload one or more local files",
				ArgsUsage: "<path>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "parent",
						Usage: "remote parent folder id",
					},
				},
				Action: filesUploadAction,
			},
			{
				Name:      "download",
				Usage:     "download a remote file",
				ArgsUsage: "<file-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "local destination path (defaults to the file id)",
					},
				},
				Action: filesDownloadAction,
			},
			{
				Name:      "share",
				Usage:     "grant a user access to a remote file",
				ArgsUsage: "<file-id> <email>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "role",
						Usage: "granted role (reader|writer|commenter)",
						Value: "reader",
					},
				},
				Action: filesShareAction,
			},
		},
	}
}

func aboutCommand() *cli.Command {
	return &cli.Command{
		Name:   "about",
		Usage:  "show the authorized user and storage quota",
		Action: aboutAction,
	}
}

func filesListAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	client, _, err := newRemoteClient(ctx, cfg)
	if err != nil {
		return err
	}

	files, err := client.List(ctx, cmd.String("query"), int(cmd.Int("max")))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tMODIFIED")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.ID, f.Name, f.Size, f.ModifiedTime.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func filesUploadAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("at least one path argument required")
	}

	client, identity, err := newRemoteClient(ctx, cfg)
	if err != nil {
		return err
	}
	parent := cmd.String("parent")

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, path := range paths {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			uploaded, err := client.Upload(gCtx, filepath.Base(path), parent, f)
			if err != nil {
				return fmt.Errorf("uploading %s: %w", path, err)
			}
			slog.Info("uploaded file", "account", identity, "path", path, "id", uploaded.ID, "size", uploaded.Size)
			return nil
		})
	}
	return g.Wait()
}

func filesDownloadAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	fileID := cmd.Args().First()
	if fileID == "" {
		return fmt.Errorf("file-id argument required")
	}
	output := cmd.String("output")
	if output == "" {
		output = fileID
	}

	client, _, err := newRemoteClient(ctx, cfg)
	if err != nil {
		return err
	}

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	n, err := client.Download(ctx, fileID, out)
	if err != nil {
		return err
	}

	fmt.Printf("Downloaded %d bytes to %s.\n", n, output)
	return nil
}

func filesShareAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	fileID := cmd.Args().Get(0)
	email := cmd.Args().Get(1)
	if fileID == "" || email == "" {
		return fmt.Errorf("file-id and email arguments required")
	}

	client, _, err := newRemoteClient(ctx, cfg)
	if err != nil {
		return err
	}

	if err := client.Share(ctx, fileID, email, cmd.String("role")); err != nil {
		return err
	}

	fmt.Printf("Shared %s with %s as %s.\n", fileID, email, cmd.String("role"))
	return nil
}

func aboutAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	client, identity, err := newRemoteClient(ctx, cfg)
	if err != nil {
		return err
	}

	about, err := client.About(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Account:  %s\n", identity)
	fmt.Printf("User:     %s <%s>\n", about.User.DisplayName, about.User.EmailAddress)
	fmt.Printf("Quota:    %d of %d bytes used\n", about.StorageQuota.Usage, about.StorageQuota.Limit)
	return nil
}

// newRemoteClient wires store → accessor → storage API client for the
// resolved account identity.
func newRemoteClient(ctx context.Context, cfg *app.Config) (*drive.Client, string, error) {
	fileStore, err := cfg.NewFileStore()
	if err != nil {
		return nil, "", err
	}
	registry, err := cfg.NewCredentialRegistry(fileStore)
	if err != nil {
		return nil, "", err
	}

	creds, err := registry.GetCredentials(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotConfigured) {
			return nil, "", fmt.Errorf("%w: run `drivectl accounts credentials` first", err)
		}
		return nil, "", err
	}

	identity, err := resolveIdentity(ctx, cfg, fileStore)
	if err != nil {
		return nil, "", err
	}

	accessor, err := tokensource.NewAccessor(fileStore, creds,
		tokensource.WithEndpoint(cfg.OAuth.Endpoint()),
	)
	if err != nil {
		return nil, "", err
	}

	client := drive.New(accessor.Source(identity),
		drive.WithBaseURL(cfg.Remote.BaseURL),
		drive.WithUploadBaseURL(cfg.Remote.UploadBaseURL),
	)
	return client, identity, nil
}

// resolveIdentity picks the account to operate as: the --account flag or
// config value wins; otherwise a sole stored account is used implicitly.
func resolveIdentity(ctx context.Context, cfg *app.Config, accounts store.AccountStore) (string, error) {
	if cfg.Account != "" {
		if _, err := accounts.Get(ctx, cfg.Account); err != nil {
			return "", err
		}
		return cfg.Account, nil
	}

	stored, err := accounts.List(ctx)
	if err != nil {
		return "", err
	}
	switch len(stored) {
	case 0:
		return "", fmt.Errorf("%w: run `drivectl accounts add <identity>` first", store.ErrAccountNotFound)
	case 1:
		return stored[0].Identity, nil
	default:
		return "", fmt.Errorf("multiple accounts stored; pass --account <identity>")
	}
}
