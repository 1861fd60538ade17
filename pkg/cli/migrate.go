package cli

import (
	"context"

	"github.com/m-mizutani/fireconf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/cli/config"
	"github.com/secmon-lab/themis/pkg/repository/firestore"
	"github.com/secmon-lab/themis/pkg/repository/postgres"
	"github.com/secmon-lab/themis/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdMigrate() *cli.Command {
	var repoCfg config.Repository
	var dryRun bool

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Preview changes without applying",
			Destination: &dryRun,
		},
	}
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Migrate Firestore indexes or the PostgreSQL schema",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logging.Default().Info("Migrate configuration",
				"backend", repoCfg.Backend(),
				"projectID", repoCfg.ProjectID(),
				"databaseID", repoCfg.DatabaseID(),
				"dryRun", dryRun)

			switch repoCfg.Backend() {
			case config.BackendFirestore:
				return migrateFirestore(ctx, &repoCfg, dryRun)
			case config.BackendPostgres:
				return migratePostgres(ctx, &repoCfg, dryRun)
			default:
				return goerr.Wrap(config.ErrUnknownBackend, "backend has no schema to migrate",
					goerr.V(config.BackendKey, repoCfg.Backend()))
			}
		},
	}
}

func migrateFirestore(ctx context.Context, repoCfg *config.Repository, dryRun bool) error {
	logger := logging.Default()
	if repoCfg.ProjectID() == "" {
		return goerr.Wrap(config.ErrInvalidConfig, "firestore-project-id is required")
	}
	databaseID := repoCfg.DatabaseID()
	if databaseID == "" {
		databaseID = defaultFirestoreDatabase
	}

	indexConfig := getIndexConfig(repoCfg.CollectionPrefix())
	if err := indexConfig.Validate(); err != nil {
		return goerr.Wrap(err, "invalid index configuration")
	}

	client, err := fireconf.New(ctx, repoCfg.ProjectID(), databaseID, indexConfig,
		fireconf.WithLogger(logger),
		fireconf.WithDryRun(dryRun),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to create fireconf client",
			goerr.V("project_id", repoCfg.ProjectID()),
			goerr.V("database_id", databaseID))
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close fireconf client", "error", err.Error())
		}
	}()

	if dryRun {
		logger.Info("Dry run mode - previewing index changes")
	} else {
		logger.Info("Applying index migrations")
	}
	if err := client.Migrate(ctx); err != nil {
		return goerr.Wrap(err, "failed to migrate firestore indexes")
	}
	logger.Info("Firestore migration finished", "dry_run", dryRun)
	return nil
}

func migratePostgres(ctx context.Context, repoCfg *config.Repository, dryRun bool) error {
	logger := logging.Default()

	if dryRun {
		for _, stmt := range postgres.Schema() {
			logger.Info("Schema statement", "sql", stmt)
		}
		return nil
	}

	repo, err := repoCfg.ConfigurePostgres(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("failed to close postgres repository", "error", err.Error())
		}
	}()

	if err := repo.Migrate(ctx); err != nil {
		return goerr.Wrap(err, "failed to apply postgres schema")
	}
	logger.Info("Schema applied successfully")
	return nil
}

// defaultFirestoreDatabase is used when no database ID is configured
const defaultFirestoreDatabase = "(default)"

// getIndexConfig returns the Firestore index configuration
func getIndexConfig(prefix string) *fireconf.Config {
	name := firestore.MessageCollection
	if prefix != "" {
		name = prefix + "_" + name
	}

	return &fireconf.Config{
		Collections: []fireconf.Collection{
			{
				Name: name,
				Indexes: []fireconf.Index{
					// List: chat_id ASC, user_id ASC, created_at ASC
					{
						Fields: []fireconf.IndexField{
							{Path: "chat_id", Order: fireconf.OrderAscending},
							{Path: "user_id", Order: fireconf.OrderAscending},
							{Path: "created_at", Order: fireconf.OrderAscending},
						},
					},
				},
			},
		},
	}
}
