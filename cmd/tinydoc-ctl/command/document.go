package command

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/pingcap-incubator/tinydoc/kv/query"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

// NewDocumentCommand returns the doc subcommand tree.
func NewDocumentCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "doc <subcommand>",
		Short: "document commands",
	}
	m.AddCommand(&cobra.Command{
		Use:   "get <db> <id>",
		Short: "show a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, http.MethodGet, dbPath(args[0], args[1]), nil, nil)
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "put <db> <id> <json>",
		Short: "create or replace a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parseJSONArg(args[2])
			if err != nil {
				cmd.Println(err)
				return err
			}
			return runRequest(cmd, http.MethodPut, dbPath(args[0], args[1]), nil, body)
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "delete <db> <id>",
		Short: "delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, http.MethodDelete, dbPath(args[0], args[1]), nil, nil)
		},
	})
	list := &cobra.Command{
		Use:   "list <db>",
		Short: "list documents in id order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			copyFlags(cmd, q, "startkey", "endkey", "limit", "bookmark")
			if v, _ := cmd.Flags().GetBool("include-docs"); v {
				q.Set("include_docs", "true")
			}
			return runRequest(cmd, http.MethodGet, dbPath(args[0], "_all_docs"), q, nil)
		},
	}
	list.Flags().String("startkey", "", "first id to list")
	list.Flags().String("endkey", "", "last id to list")
	list.Flags().Int("limit", 0, "maximum number of rows")
	list.Flags().String("bookmark", "", "continue a previous listing")
	list.Flags().Bool("include-docs", false, "include document bodies")
	m.AddCommand(list)
	return m
}

// NewChangesCommand prints the change feed of a database.
func NewChangesCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "changes <db>",
		Short: "show the change feed of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			copyFlags(cmd, q, "since", "limit")
			if v, _ := cmd.Flags().GetBool("include-docs"); v {
				q.Set("include_docs", "true")
			}
			return runRequest(cmd, http.MethodGet, dbPath(args[0], "_changes"), q, nil)
		},
	}
	m.Flags().String("since", "", "only changes after this sequence")
	m.Flags().Int("limit", 0, "maximum number of changes")
	m.Flags().Bool("include-docs", false, "include document bodies")
	return m
}

// NewQueryCommand runs an index query. With one value it is an equality match, with
// --start and --end a range.
func NewQueryCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "query <db> <index> [value]",
		Short: "query a secondary index",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := query.Request{Index: args[1]}
			if len(args) == 3 {
				req.Key, req.HasKey = parseValue(args[2]), true
			}
			if cmd.Flags().Changed("start") {
				v, _ := cmd.Flags().GetString("start")
				req.StartKey, req.HasStartKey = parseValue(v), true
			}
			if cmd.Flags().Changed("end") {
				v, _ := cmd.Flags().GetString("end")
				req.EndKey, req.HasEndKey = parseValue(v), true
			}
			if !req.HasKey && !req.HasStartKey && !req.HasEndKey {
				err := errors.New("a value, --start or --end is required")
				cmd.Println(err)
				return err
			}
			req.Limit, _ = cmd.Flags().GetInt("limit")
			req.Skip, _ = cmd.Flags().GetInt("skip")
			return runRequest(cmd, http.MethodPost, dbPath(args[0], "_query"), nil, req)
		},
	}
	m.Flags().String("start", "", "inclusive lower bound")
	m.Flags().String("end", "", "inclusive upper bound")
	m.Flags().Int("limit", query.DefaultLimit, "maximum number of documents")
	m.Flags().Int("skip", 0, "number of matches to skip")
	return m
}

func copyFlags(cmd *cobra.Command, q url.Values, names ...string) {
	for _, name := range names {
		if cmd.Flags().Changed(name) {
			q.Set(name, cmd.Flags().Lookup(name).Value.String())
		}
	}
}

// parseValue reads numbers and booleans as such, anything else as a string.
func parseValue(s string) interface{} {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
