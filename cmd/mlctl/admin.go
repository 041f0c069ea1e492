package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/micrologger/internal/audit"
	"github.com/fyrsmithlabs/micrologger/internal/auth"
	"github.com/fyrsmithlabs/micrologger/internal/catalog"
	"github.com/fyrsmithlabs/micrologger/internal/config"
	"github.com/fyrsmithlabs/micrologger/internal/store"
	"github.com/fyrsmithlabs/micrologger/internal/validate"
)

var (
	userFullName string
	userRole     string
)

func init() {
	useraddCmd.Flags().StringVar(&userFullName, "name", "", "full name")
	useraddCmd.Flags().StringVar(&userRole, "role", auth.RoleUser, "role: user or admin")
	rootCmd.AddCommand(useraddCmd)
	rootCmd.AddCommand(syncProductsCmd)
}

var useraddCmd = &cobra.Command{
	Use:   "useradd <username>",
	Short: "Create a user directly in the database",
	Long: `Create a user account without a running server, for example to
recover admin access.

The password is read from $MICROLOGGER_PASSWORD, or from the first line of
stdin.

Examples:
  echo 'a-long-password' | mlctl useradd maria --name "Maria K" --role admin`,
	Args: cobra.ExactArgs(1),
	RunE: runUseradd,
}

var syncProductsCmd = &cobra.Command{
	Use:   "sync-products",
	Short: "Refresh the product catalog cache from the ERP API",
	Long: `Fetch the product list from products.api_url and update the cache.
On failure the cached catalog is kept and the command exits non-zero.`,
	Args: cobra.NoArgs,
	RunE: runSyncProducts,
}

// openStore loads the server configuration and opens its database.
func openStore(ctx context.Context) (*config.Config, *store.Store, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	st, err := store.Open(ctx, store.Config{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		DSN:          cfg.Database.DSN.Value(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, st, nil
}

func runUseradd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}
	_, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	id, err := createUser(ctx, st, validate.NewUser{
		FullName: userFullName,
		Username: args[0],
		Password: password,
		Role:     userRole,
	})
	if err != nil {
		return err
	}
	cmd.Printf("Created %s user %s (id %d)\n", userRole, args[0], id)
	return nil
}

func createUser(ctx context.Context, st *store.Store, in validate.NewUser) (int64, error) {
	logger := zap.NewNop()
	svc, err := auth.NewService(st, auth.NewLockout(5, time.Minute), audit.NewRecorder(st, logger), logger)
	if err != nil {
		return 0, err
	}
	id, err := svc.CreateUser(ctx, in)
	var verrs validate.Errors
	switch {
	case errors.As(err, &verrs):
		return 0, errors.New(verrs.First())
	case errors.Is(err, store.ErrDuplicate):
		return 0, fmt.Errorf("user %q already exists", in.Username)
	}
	return id, err
}

func runSyncProducts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	n, err := syncProducts(ctx, st, catalog.Config{
		APIURL:  cfg.Products.APIURL,
		Timeout: cfg.Products.Timeout.Duration(),
	})
	if err != nil {
		return err
	}
	cmd.Printf("Synced %d product(s)\n", n)
	return nil
}

func syncProducts(ctx context.Context, st *store.Store, cfg catalog.Config) (int, error) {
	syncer, err := catalog.NewSyncer(cfg, st, nil)
	if err != nil {
		return 0, err
	}
	n, err := syncer.Sync(ctx)
	if errors.Is(err, catalog.ErrFallback) {
		cached, _ := st.CountProducts(ctx)
		return 0, fmt.Errorf("%w (keeping %d cached product(s))", err, cached)
	}
	return n, err
}
