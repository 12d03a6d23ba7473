package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/schoollibrary/lendingengine/internal/config"
	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/engine"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

var (
	ErrMissingUser = fmt.Errorf("%w: --user is required for this role", lending.ErrValidation)
	ErrInvalidID   = fmt.Errorf("%w: invalid id", lending.ErrValidation)
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type app struct {
	cfg    config.Config
	user   string
	role   string
	store  *sqlengine.Store
	engine *engine.Engine
	closer func()
}

func (a *app) rootCommand() *cobra.Command {
	a.cfg = config.Default()

	root := &cobra.Command{
		Use:           "lendingctl",
		Short:         "Operate the school library lending engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}

	a.cfg.RegisterDatabaseFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&a.user, "user", "", "id of the acting user")
	root.PersistentFlags().StringVar(&a.role, "role", lending.RoleStudent, "role of the acting user: student, teacher, librarian, admin or system")

	root.AddCommand(
		a.migrateCommand(),
		a.materialCommand(),
		a.deviceCommand(),
		a.loanCommand(),
		a.waitlistCommand(),
		a.blacklistCommand(),
		a.sweepCommand(),
		a.settingsCommand(),
		a.eventsCommand(),
		a.statsCommand(),
		a.auditCommand(),
	)

	return root
}

func (a *app) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := a.cfg.Validate(); err != nil {
		return err
	}

	level, _ := a.cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, closer, err := config.OpenStore(ctx, a.cfg, sqlengine.WithContextualLogger(logger))
	if err != nil {
		return err
	}

	eng, err := engine.New(store, engine.WithContextualLogger(logger))
	if err != nil {
		closer()
		return err
	}

	a.store, a.engine, a.closer = store, eng, closer

	return nil
}

func (a *app) close() {
	if a.closer != nil {
		a.closer()
		a.closer = nil
	}
}

// principal maps --user and --role to a principal. The system role may act without a user.
func (a *app) principal() (lending.Principal, error) {
	role := strings.ToLower(strings.TrimSpace(a.role))

	if a.user == "" {
		if role == lending.RoleSystem {
			return lending.SystemPrincipal(), nil
		}

		return lending.Principal{}, ErrMissingUser
	}

	userID, err := parseID("--user", a.user)
	if err != nil {
		return lending.Principal{}, err
	}

	return lending.DefaultRolePolicy().Principal(userID, role), nil
}

func (a *app) print(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

func parseID(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q", ErrInvalidID, name, value)
	}

	return id, nil
}

func parseIDs(name string, values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, value := range values {
		id, err := parseID(name, value)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// withPrincipal adapts a handler that needs the acting principal to cobra's RunE.
func (a *app) withPrincipal(fn func(cmd *cobra.Command, p lending.Principal, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		p, err := a.principal()
		if err != nil {
			return err
		}

		return fn(cmd, p, args)
	}
}
