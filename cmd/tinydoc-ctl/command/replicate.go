package command

import (
	"net/http"

	"github.com/spf13/cobra"
)

const replicatorDB = "_replicator"

// NewReplicateCommand returns the replicate subcommand tree.
func NewReplicateCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "replicate <subcommand>",
		Short: "replication job commands",
	}
	start := &cobra.Command{
		Use:   "start <source-url> <target>",
		Short: "submit a job that pulls a remote database into a local one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"source": args[0],
				"target": args[1],
			}
			for _, name := range []string{"continuous", "create_target"} {
				if v, _ := cmd.Flags().GetBool(name); v {
					body[name] = true
				}
			}
			if v, _ := cmd.Flags().GetString("exclude"); v != "" {
				body["exclude"] = v
			}
			return runRequest(cmd, http.MethodPost, dbPath(replicatorDB), nil, body)
		},
	}
	start.Flags().Bool("continuous", false, "keep following the source after catching up")
	start.Flags().Bool("create_target", false, "create the target database if it does not exist")
	start.Flags().String("exclude", "", "exclude parameter forwarded to the source change feed")
	m.AddCommand(start)
	m.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "show a replication job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, http.MethodGet, dbPath(replicatorDB, args[0]), nil, nil)
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "cancel <job-id>",
		Short: "cancel a replication job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, http.MethodDelete, dbPath(replicatorDB, args[0]), nil, nil)
		},
	})
	return m
}
