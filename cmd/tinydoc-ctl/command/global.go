// Package command holds the subcommands of tinydoc-ctl. Every command is a thin
// wrapper over one HTTP endpoint and prints the JSON body the server returns.
package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

const defaultURL = "http://127.0.0.1:5984"

var dialClient = &http.Client{Timeout: 30 * time.Second}

// NewRootCommand returns the tinydoc-ctl root with all subcommands attached.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tinydoc-ctl",
		Short:         "tinydoc command line client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("url", "u", defaultURL, "address of the tinydoc server")
	rootCmd.PersistentFlags().String("user", "", "basic auth user name")
	rootCmd.PersistentFlags().String("password", "", "basic auth password")
	rootCmd.AddCommand(
		NewPingCommand(),
		NewDatabaseCommand(),
		NewDocumentCommand(),
		NewChangesCommand(),
		NewQueryCommand(),
		NewReplicateCommand(),
	)
	return rootCmd
}

// ExecuteCommandC runs root with args and returns everything it printed.
func ExecuteCommandC(root *cobra.Command, args ...string) (c *cobra.Command, output []byte, err error) {
	buf := new(bytes.Buffer)
	root.SetOutput(buf)
	root.SetArgs(args)

	c, err = root.ExecuteC()
	return c, buf.Bytes(), err
}

func getEndpoint(cmd *cobra.Command, path string, query url.Values) (string, error) {
	addr, err := cmd.Flags().GetString("url")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(strings.TrimSuffix(addr, "/") + path)
	if err != nil {
		return "", errors.Annotatef(err, "invalid url %q", addr)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func doRequest(cmd *cobra.Command, method, path string, query url.Values, body interface{}) (string, error) {
	endpoint, err := getEndpoint(cmd, path, query)
	if err != nil {
		return "", err
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", errors.WithStack(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		password, _ := cmd.Flags().GetString("password")
		req.SetBasicAuth(user, password)
	}

	resp, err := dialClient.Do(req)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer resp.Body.Close()
	content, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", errors.Errorf("[%d] %s", resp.StatusCode, strings.TrimSpace(string(content)))
	}
	return strings.TrimSpace(string(content)), nil
}

// runRequest prints the response body, or the failure, to the command output.
func runRequest(cmd *cobra.Command, method, path string, query url.Values, body interface{}) error {
	r, err := doRequest(cmd, method, path, query, body)
	if err != nil {
		cmd.Println(err)
		return err
	}
	cmd.Println(r)
	return nil
}

func parseJSONArg(arg string) (map[string]interface{}, error) {
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return nil, errors.Annotate(err, "argument must be a JSON object")
	}
	return v, nil
}

// dbPath escapes a database or document name for use as one path segment.
func dbPath(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&b, "/%s", url.PathEscape(s))
	}
	return b.String()
}

// NewPingCommand reports the server banner.
func NewPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "show the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, http.MethodGet, "/", nil, nil)
		},
	}
}
