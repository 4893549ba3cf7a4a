package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/libravcs/libra/internal/config"
	"github.com/libravcs/libra/internal/fetch"
	"github.com/libravcs/libra/pkg/libra"
)

func newFetchCommand() *cobra.Command {
	var (
		all   bool
		depth int
	)

	cmd := &cobra.Command{
		Use:   "fetch [<remote>] [<refspec>]",
		Short: "Download objects and refs from another repository",
		Long: `Fetch branches from another repository, along with the objects
necessary to complete their histories. Remote-tracking branches are
updated atomically once the transferred pack has been verified and
indexed.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := findRepository()
			if err != nil {
				return err
			}
			repo, err := libra.Open(repoPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			cfg, err := config.Load(repo.ControlPath())
			if err != nil {
				return err
			}
			opts := fetch.Options{
				Depth:        depth,
				IndexVersion: cfg.IndexVersion(),
				Progress:     cmd.ErrOrStderr(),
				ErrOut:       cmd.ErrOrStderr(),
			}
			if len(args) > 1 {
				opts.Refspec = args[1]
			}

			if all {
				remotes := cfg.Remotes()
				if len(remotes) == 0 {
					return fmt.Errorf("no remotes configured")
				}
				results := fetch.FetchAll(cmd.Context(), repo, remotes, opts)
				failed := 0
				for _, r := range results {
					if r.Err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "error: could not fetch %s: %v\n", r.Remote, r.Err)
						continue
					}
					printResult(cmd, r.Remote, remotes[r.Remote], r.Result)
				}
				if failed == len(results) {
					return fmt.Errorf("all remotes failed")
				}
				return nil
			}

			remoteName := "origin"
			if len(args) > 0 {
				remoteName = args[0]
			}
			remoteURL, ok := cfg.Remote(remoteName)
			if !ok {
				// An unconfigured name may itself be a URL or path.
				if strings.ContainsAny(remoteName, "/:.") {
					remoteURL = remoteName
				} else {
					return fmt.Errorf("remote '%s' does not exist", remoteName)
				}
			}

			result, err := fetch.Fetch(cmd.Context(), repo, remoteName, remoteURL, opts)
			if err != nil {
				return err
			}
			printResult(cmd, remoteName, remoteURL, result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Fetch all configured remotes")
	cmd.Flags().IntVar(&depth, "depth", 0, "Limit fetching to the specified number of commits")

	return cmd
}

func printResult(cmd *cobra.Command, remoteName, remoteURL string, result *fetch.Result) {
	fmt.Fprintf(cmd.OutOrStdout(), "From %s\n", remoteURL)
	if result.UpToDate {
		fmt.Fprintln(cmd.OutOrStdout(), "Already up to date.")
	}
	for name, id := range result.Updated {
		branch := name[strings.LastIndexByte(name, '/')+1:]
		fmt.Fprintf(cmd.OutOrStdout(), " * branch %s -> %s/%s (%s)\n", branch, remoteName, branch, id.Short())
	}
}
