package command

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// NewDatabaseCommand returns the db subcommand tree.
func NewDatabaseCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "db <subcommand>",
		Short: "database commands",
	}
	m.AddCommand(newListDatabasesCommand())
	m.AddCommand(newDatabaseInfoCommand())
	m.AddCommand(newCreateDatabaseCommand())
	m.AddCommand(newDropDatabaseCommand())
	return m
}

func newListDatabasesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list all databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, http.MethodGet, "/_all_dbs", nil, nil)
		},
	}
}

func newDatabaseInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <db>",
		Short: "show database counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, http.MethodGet, dbPath(args[0]), nil, nil)
		},
	}
}

func newCreateDatabaseCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "create <db>",
		Short: "create a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var query url.Values
			if indexes, _ := cmd.Flags().GetStringSlice("index"); len(indexes) > 0 {
				query = url.Values{"indexes": []string{strings.Join(indexes, ",")}}
			}
			return runRequest(cmd, http.MethodPut, dbPath(args[0]), query, nil)
		},
	}
	m.Flags().StringSlice("index", nil, "top level fields to index")
	return m
}

func newDropDatabaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <db>",
		Short: "drop a database and all of its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, http.MethodDelete, dbPath(args[0]), nil, nil)
		},
	}
}
