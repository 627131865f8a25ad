package cmd

import (
	"io"

	"github.com/habedi/tandem/pkg/clierr"
	"github.com/habedi/tandem/pkg/validation"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func workspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "List workspaces and choose the current one",
	}
	cmd.AddCommand(
		workspaceListCmd(),
		workspaceUseCmd(),
		workspaceCurrentCmd(),
	)
	return cmd
}

func workspaceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the workspaces you belong to",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			body, err := a.sess.Query(cmd.Context(), "/workspaces")
			if err != nil {
				return toCLIError(err)
			}
			current, _, err := a.store.LastWorkspace(cmd.Context())
			if err != nil {
				return clierr.New(clierr.Internal, "Failed to read the current workspace.", err)
			}
			if n := writeWorkspaceTable(cmd.OutOrStdout(), body, current); n == 0 {
				cmd.Println("No workspaces found.")
			}
			return nil
		},
	}
}

func workspaceUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <workspace-id>",
		Short: "Remember a workspace as the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateNonEmptyString("workspace id", args[0]); err != nil {
				return validationError(err)
			}
			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SetLastWorkspace(cmd.Context(), args[0]); err != nil {
				return clierr.New(clierr.Internal, "Failed to save the current workspace.", err)
			}
			cmd.Println("Current workspace:", args[0])
			return nil
		},
	}
}

func workspaceCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the current workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			id, ok, err := a.store.LastWorkspace(cmd.Context())
			if err != nil {
				return clierr.New(clierr.Internal, "Failed to read the current workspace.", err)
			}
			if !ok {
				return clierr.New(clierr.NotFound, "No workspace selected. Run 'tandem workspace use <id>'.", nil)
			}
			cmd.Println(id)
			return nil
		},
	}
}

// writeWorkspaceTable renders a workspace list response, bare or wrapped in
// "data", and returns the number of rows.
func writeWorkspaceTable(w io.Writer, body []byte, current string) int {
	list := gjson.ParseBytes(body)
	if data := list.Get("data"); data.IsArray() {
		list = data
	}
	if !list.IsArray() {
		return 0
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Current"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)

	rows := 0
	list.ForEach(func(_, ws gjson.Result) bool {
		id := ws.Get("id").String()
		if id == "" {
			return true
		}
		mark := ""
		if id == current {
			mark = "*"
		}
		table.Append([]string{id, ws.Get("name").String(), mark})
		rows++
		return true
	})
	if rows > 0 {
		table.Render()
	}
	return rows
}
