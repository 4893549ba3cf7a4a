package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/libravcs/libra/internal/config"
	"github.com/libravcs/libra/pkg/libra"
)

func newRemoteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage the set of tracked repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := openConfig()
			if err != nil {
				return err
			}
			remotes := cfg.Remotes()
			names := make([]string, 0, len(remotes))
			for name := range remotes {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, remotes[name])
			}
			return nil
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add a remote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := openConfig()
			if err != nil {
				return err
			}
			return cfg.AddRemote(args[0], args[1])
		},
	}

	cmd.AddCommand(addCmd)
	return cmd
}

func openConfig() (*config.Config, error) {
	repoPath, err := findRepository()
	if err != nil {
		return nil, err
	}
	repo, err := libra.Open(repoPath)
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	return config.Load(repo.ControlPath())
}
