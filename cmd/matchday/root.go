package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	demo       bool
	json       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "matchday",
		Short: "Offline-first sync core for Matchday clients",
		Long: `matchday keeps a local copy of the tournaments a user follows, records
writes and live-match events while offline, and replays them against the
hosted backend once connectivity returns.

Examples:
  # Serve the local control API with background sync
  matchday serve

  # Try every command against a built-in sample league
  matchday download --demo`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./matchday.yaml or ~/.config/matchday/matchday.yaml)")
	root.PersistentFlags().BoolVar(&opts.demo, "demo", false, "use an in-memory sample backend instead of remote.url")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCmd(opts),
		newSyncCmd(opts),
		newDownloadCmd(opts),
		newPendingCmd(opts),
		newQueueCmd(opts),
		newEventCmd(opts),
		newLogoutCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// withApp opens the sync core for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(a *app) error) error {
	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
