package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/engine"
)

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")

			return err
		},
	}
}

func (a *app) materialCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "material", Short: "Manage materials"}

	var copies int

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a material with a number of copies",
		Args:  cobra.NoArgs,
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, _ []string) error {
			result, err := a.engine.AddMaterial(cmd.Context(), p, copies)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}
	add.Flags().IntVar(&copies, "copies", 1, "number of copies")

	remove := &cobra.Command{
		Use:   "delete MATERIAL_ID",
		Short: "Delete a material that has no copies out",
		Args:  cobra.ExactArgs(1),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			materialID, err := parseID("material", args[0])
			if err != nil {
				return err
			}

			result, err := a.engine.DeleteMaterial(cmd.Context(), p, materialID)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}

	cmd.AddCommand(add, remove)

	return cmd
}

func (a *app) deviceCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "device", Short: "Manage devices and device loans"}

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a device",
		Args:  cobra.ExactArgs(1),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			result, err := a.engine.RegisterDevice(cmd.Context(), p, args[0])
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}

	var days int

	request := &cobra.Command{
		Use:   "request DEVICE_ID",
		Short: "Lend a device to the acting user",
		Args:  cobra.ExactArgs(1),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			deviceID, err := parseID("device", args[0])
			if err != nil {
				return err
			}

			result, err := a.engine.RequestDevice(cmd.Context(), p, deviceID, days)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}
	request.Flags().IntVar(&days, "days", 0, "loan period in days, 0 uses the device_loan_days setting")

	giveBack := &cobra.Command{
		Use:   "return DEVICE_LOAN_ID",
		Short: "Return a lent device",
		Args:  cobra.ExactArgs(1),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			deviceLoanID, err := parseID("device loan", args[0])
			if err != nil {
				return err
			}

			result, err := a.engine.ReturnDevice(cmd.Context(), p, deviceLoanID)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}

	cmd.AddCommand(add, request, giveBack)

	return cmd
}

func (a *app) loanCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "loan", Short: "Reserve, hand out, take back and list loans"}

	var (
		classID      string
		participants []string
	)

	reserve := &cobra.Command{
		Use:   "reserve MATERIAL_ID",
		Short: "Reserve a material, or queue for it when no copies are left",
		Args:  cobra.ExactArgs(1),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			command, err := reserveCommand(args[0], classID, participants)
			if err != nil {
				return err
			}

			result, err := a.engine.Reserve(cmd.Context(), p, command)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}
	reserve.Flags().StringVar(&classID, "class", "", "class id, makes this a class loan")
	reserve.Flags().StringSliceVar(&participants, "participants", nil, "participant ids of a class loan")

	var code string

	pickup := &cobra.Command{
		Use:   "pickup LOAN_ID",
		Short: "Confirm that a reserved loan was picked up",
		Args:  cobra.ExactArgs(1),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			loanID, err := parseID("loan", args[0])
			if err != nil {
				return err
			}

			result, err := a.engine.ConfirmPickup(cmd.Context(), p, loanID, code)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}
	pickup.Flags().StringVar(&code, "code", "", "reservation code shown by the borrower")

	var returnCode string

	giveBack := &cobra.Command{
		Use:   "return LOAN_ID",
		Short: "Confirm the return of a picked up loan",
		Args:  cobra.ExactArgs(1),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			loanID, err := parseID("loan", args[0])
			if err != nil {
				return err
			}

			result, err := a.engine.ConfirmReturn(cmd.Context(), p, loanID, returnCode)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}
	giveBack.Flags().StringVar(&returnCode, "code", "", "reservation code of the loan")

	cancel := &cobra.Command{
		Use:   "cancel LOAN_ID",
		Short: "Cancel a reserved loan",
		Args:  cobra.ExactArgs(1),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			loanID, err := parseID("loan", args[0])
			if err != nil {
				return err
			}

			result, err := a.engine.Cancel(cmd.Context(), p, loanID)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}

	var (
		borrower string
		material string
		states   []string
		limit    int
	)

	list := &cobra.Command{
		Use:   "list",
		Short: "List loans; without view rights only your own",
		Args:  cobra.NoArgs,
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, _ []string) error {
			filter, err := loanFilter(borrower, material, states, limit)
			if err != nil {
				return err
			}

			loans, err := a.engine.Loans(cmd.Context(), p, filter)
			if err != nil {
				return err
			}

			return a.print(cmd, loans)
		}),
	}
	list.Flags().StringVar(&borrower, "borrower", "", "only loans of this borrower")
	list.Flags().StringVar(&material, "material", "", "only loans of this material")
	list.Flags().StringSliceVar(&states, "state", nil, "only loans in these states: reserved, picked_up, returned, cancelled")
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of loans, 0 for all")

	cmd.AddCommand(reserve, pickup, giveBack, cancel, list)

	return cmd
}

func reserveCommand(materialArg, classArg string, participantArgs []string) (engine.ReserveCommand, error) {
	materialID, err := parseID("material", materialArg)
	if err != nil {
		return engine.ReserveCommand{}, err
	}

	command := engine.ReserveCommand{MaterialID: materialID, Kind: lending.LoanKindPersonal}

	if classArg == "" && len(participantArgs) == 0 {
		return command, nil
	}

	command.Kind = lending.LoanKindClass

	if classArg != "" {
		if command.ClassID, err = parseID("class", classArg); err != nil {
			return engine.ReserveCommand{}, err
		}
	}

	if command.ParticipantIDs, err = parseIDs("participant", participantArgs); err != nil {
		return engine.ReserveCommand{}, err
	}

	return command, nil
}

func loanFilter(borrower, material string, states []string, limit int) (lending.LoanFilter, error) {
	filter := lending.LoanFilter{Limit: limit}

	if borrower != "" {
		borrowerID, err := parseID("borrower", borrower)
		if err != nil {
			return lending.LoanFilter{}, err
		}

		filter = filter.ForBorrower(borrowerID)
	}

	if material != "" {
		materialID, err := parseID("material", material)
		if err != nil {
			return lending.LoanFilter{}, err
		}

		filter = filter.ForMaterial(materialID)
	}

	if len(states) > 0 {
		loanStates := make([]lending.LoanState, 0, len(states))
		for _, state := range states {
			loanStates = append(loanStates, lending.LoanState(state))
		}

		filter = filter.InAnyStateOf(loanStates...)
	}

	return filter, nil
}

func (a *app) waitlistCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "waitlist", Short: "Inspect waitlists"}

	show := &cobra.Command{
		Use:   "show MATERIAL_ID",
		Short: "Show the waitlist of a material, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			materialID, err := parseID("material", args[0])
			if err != nil {
				return err
			}

			entries, err := a.engine.Waitlist(cmd.Context(), materialID)
			if err != nil {
				return err
			}

			return a.print(cmd, entries)
		},
	}

	cmd.AddCommand(show)

	return cmd
}

func (a *app) blacklistCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "blacklist", Short: "Inspect and lift borrowing bans"}

	status := &cobra.Command{
		Use:   "status USER_ID",
		Short: "Show the borrowing status of a user; an expired ban is cleared",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user", args[0])
			if err != nil {
				return err
			}

			result, err := a.engine.BorrowingStatus(cmd.Context(), userID)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		},
	}

	log := &cobra.Command{
		Use:   "log USER_ID",
		Short: "Show the sanction history of a user",
		Args:  cobra.ExactArgs(1),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			userID, err := parseID("user", args[0])
			if err != nil {
				return err
			}

			entries, err := a.engine.BlacklistLog(cmd.Context(), p, userID)
			if err != nil {
				return err
			}

			return a.print(cmd, entries)
		}),
	}

	lift := &cobra.Command{
		Use:   "lift USER_ID",
		Short: "Lift the ban of a user before it expires",
		Args:  cobra.ExactArgs(1),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			userID, err := parseID("user", args[0])
			if err != nil {
				return err
			}

			result, err := a.engine.LiftBan(cmd.Context(), p, userID)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the users banned right now with the sanction behind each ban",
		Args:  cobra.NoArgs,
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, _ []string) error {
			bans, err := a.engine.ActiveBans(cmd.Context(), p)
			if err != nil {
				return err
			}

			return a.print(cmd, bans)
		}),
	}

	cmd.AddCommand(status, log, lift, list)

	return cmd
}

func (a *app) sweepCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "sweep", Short: "Run a maintenance sweep once"}

	overdue := &cobra.Command{
		Use:   "overdue",
		Short: "Ban borrowers whose loans are overdue beyond the grace period",
		Args:  cobra.NoArgs,
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, _ []string) error {
			report, err := a.engine.SweepOverdue(cmd.Context(), p)
			if err != nil {
				return err
			}

			return a.print(cmd, report)
		}),
	}

	expired := &cobra.Command{
		Use:   "expired",
		Short: "Clear bans that have expired",
		Args:  cobra.NoArgs,
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, _ []string) error {
			report, err := a.engine.SweepExpiredBlacklist(cmd.Context(), p)
			if err != nil {
				return err
			}

			return a.print(cmd, report)
		}),
	}

	cmd.AddCommand(overdue, expired)

	return cmd
}

func (a *app) settingsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Change lending settings"}

	set := &cobra.Command{
		Use:       "set KEY VALUE",
		Short:     "Set one setting",
		Args:      cobra.ExactArgs(2),
		ValidArgs: lending.SettingKeys(),
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, args []string) error {
			value, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("%w: %q", lending.ErrInvalidSetting, args[1])
			}

			result, err := a.engine.UpdateSetting(cmd.Context(), p, args[0], value)
			if err != nil {
				return err
			}

			return a.print(cmd, result)
		}),
	}

	cmd.AddCommand(set)

	return cmd
}

func (a *app) eventsCommand() *cobra.Command {
	var (
		types    []string
		subject  string
		borrower string
		after    int64
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read the event journal in sequence order",
		Args:  cobra.NoArgs,
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, _ []string) error {
			filter := lending.EventFilter{AfterSequence: after, Limit: limit}

			for _, eventType := range types {
				filter.Types = append(filter.Types, lending.EventType(eventType))
			}

			var err error

			if subject != "" {
				if filter.SubjectID, err = parseID("subject", subject); err != nil {
					return err
				}
			}

			if borrower != "" {
				if filter.BorrowerID, err = parseID("borrower", borrower); err != nil {
					return err
				}
			}

			events, err := a.engine.Events(cmd.Context(), p, filter)
			if err != nil {
				return err
			}

			return a.print(cmd, events)
		}),
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "only these event types, e.g. LoanReserved")
	cmd.Flags().StringVar(&subject, "subject", "", "only events about this loan, material, device or user")
	cmd.Flags().StringVar(&borrower, "borrower", "", "only events of this borrower")
	cmd.Flags().Int64Var(&after, "after", 0, "only events after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events")

	return cmd
}

func (a *app) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show active loans, loans per month and the most borrowed materials",
		Args:  cobra.NoArgs,
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, _ []string) error {
			stats, err := a.engine.LoanStatistics(cmd.Context(), p)
			if err != nil {
				return err
			}

			return a.print(cmd, stats)
		}),
	}
}

func (a *app) auditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Report materials whose available copies disagree with their loans",
		Args:  cobra.NoArgs,
		RunE: a.withPrincipal(func(cmd *cobra.Command, p lending.Principal, _ []string) error {
			discrepancies, err := a.engine.AuditInventory(cmd.Context(), p)
			if err != nil {
				return err
			}

			return a.print(cmd, discrepancies)
		}),
	}
}
