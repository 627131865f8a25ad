package cmd

import (
	"io"
	"maps"
	"slices"
	"time"

	"github.com/habedi/tandem/presence"
	"github.com/habedi/tandem/pkg/validation"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func presenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presence",
		Short: "Show and change user presence",
	}
	cmd.AddCommand(
		presenceListCmd(),
		presenceMeCmd(),
		presenceSetCmd(),
		presenceClearCmd(),
	)
	return cmd
}

func presenceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the presence of every visible user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sess.Resync(cmd.Context()); err != nil {
				return toCLIError(err)
			}
			records := a.sess.Presence.All()
			if len(records) == 0 {
				cmd.Println("No presence information available.")
				return nil
			}
			writePresenceTable(cmd.OutOrStdout(), records, a.sess.SelfID())
			return nil
		},
	}
}

func presenceMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your own presence",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.api.FetchCurrent(cmd.Context())
			if err != nil {
				return toCLIError(err)
			}
			if u.UserID == "" {
				u.UserID = a.sess.SelfID()
			}
			a.sess.Presence.SetOne(u)
			r, _ := a.sess.Presence.Get(u.UserID)
			cmd.Println(describePresence(u.UserID, r))
			return nil
		},
	}
}

// presenceSetCmd pins a manual status that automatic updates do not override.
func presenceSetCmd() *cobra.Command {
	var custom string

	cmd := &cobra.Command{
		Use:   "set <online|away|busy|offline>",
		Short: "Set a manual status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := presence.ParseStatus(args[0])
			if err != nil {
				return validationError(err)
			}
			if err := validation.ValidateCustomStatus(custom); err != nil {
				return validationError(err)
			}

			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var customPtr *string
			if cmd.Flags().Changed("custom") {
				customPtr = &custom
			}
			if err := a.api.SetManual(cmd.Context(), status, customPtr); err != nil {
				return toCLIError(err)
			}
			cmd.Println("Status set to", status, "(manual).")
			return nil
		},
	}

	cmd.Flags().StringVarP(&custom, "custom", "m", "", "Custom status text shown next to the status")

	return cmd
}

func presenceClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the manual status and return to automatic presence",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.api.ClearManual(cmd.Context()); err != nil {
				return toCLIError(err)
			}
			cmd.Println("Manual status cleared.")
			return nil
		},
	}
}

// writePresenceTable renders records sorted by user id. The caller's row is
// marked with an asterisk.
func writePresenceTable(w io.Writer, records map[string]presence.Record, self string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"User", "Status", "Source", "Custom Status", "Last Seen"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)

	for _, id := range slices.Sorted(maps.Keys(records)) {
		r := records[id]
		user := id
		if id == self {
			user += " *"
		}
		custom := ""
		if r.CustomStatus != nil {
			custom = *r.CustomStatus
		}
		lastSeen := "-"
		if r.LastSeenAt != nil {
			lastSeen = r.LastSeenAt.Local().Format(time.DateTime)
		}
		table.Append([]string{user, string(r.Status), string(r.StatusSource), custom, lastSeen})
	}

	table.Render()
}
