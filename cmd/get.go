package cmd

import (
	"context"
	"errors"

	"github.com/habedi/tandem/pkg/clierr"
	"github.com/habedi/tandem/pkg/pool"
	"github.com/habedi/tandem/pkg/validation"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// getCmd fetches API resources concurrently through the session's query
// cache and refresh coordinator.
func getCmd() *cobra.Command {
	var concurrency int
	var query string
	var raw bool

	cmd := &cobra.Command{
		Use:   "get <path>...",
		Short: "Fetch one or more API resources, e.g. /workspaces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) error {
			if err := validation.ValidateConcurrency(concurrency); err != nil {
				return validationError(err)
			}
			for _, p := range paths {
				if err := validation.ValidateAPIPath(p); err != nil {
					return validationError(err)
				}
			}

			a, err := openApp(cmd.Context(), nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			results := pool.Map(cmd.Context(), paths, concurrency, func(ctx context.Context, path string) ([]byte, error) {
				return a.sess.Query(ctx, path)
			})
			if len(results) < len(paths) {
				return clierr.New(clierr.Network, "Interrupted before every resource was fetched.", cmd.Context().Err())
			}

			var errs []error
			for _, r := range results {
				path := paths[r.Index]
				if len(paths) > 1 {
					cmd.Printf("==> %s <==\n", path)
				}
				if r.Err != nil {
					cmd.PrintErrln("Error:", toCLIError(r.Err))
					errs = append(errs, r.Err)
					continue
				}
				cmd.Print(string(render(r.Value, query, raw)))
			}
			if len(errs) > 0 {
				return toCLIError(errors.Join(errs...))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "Number of resources fetched at once [1-20]")
	cmd.Flags().StringVarP(&query, "query", "q", "", "GJSON path selecting part of each result, e.g. data.#.name")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the body exactly as received")

	return cmd
}

// render applies the optional gjson query and pretty-prints the result.
func render(body []byte, query string, raw bool) []byte {
	if query != "" {
		body = []byte(gjson.GetBytes(body, query).Raw)
	}
	if raw || !gjson.ValidBytes(body) {
		return append(body, '\n')
	}
	return pretty.Pretty(body)
}
