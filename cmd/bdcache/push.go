package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/meigma/bdcache/config"
	"github.com/meigma/bdcache/store"
)

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Replicate local artifacts to the remote backend",
		Long: `Push sweeps the local cache and uploads every artifact the remote
backend is missing. Use it to seed a shared cache from a machine that has
already built the dependency set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.Remote.Enabled {
				return errors.New("remote backend is not enabled; set remote.enabled and remote.reference")
			}

			local, err := cfg.LocalStore()
			if err != nil {
				return err
			}
			remote, err := cfg.RemoteStore()
			if err != nil {
				return err
			}

			lister, ok := local.(store.Lister)
			if !ok {
				return errors.New("local store does not support listing")
			}

			ctx := cmd.Context()
			keys, err := lister.List(ctx)
			if err != nil {
				return err
			}
			sort.Strings(keys)

			var pushed, skipped int
			for _, key := range keys {
				has, err := remote.Has(ctx, key)
				if err != nil {
					return fmt.Errorf("check remote for %s: %w", key, err)
				}
				if has {
					skipped++
					continue
				}
				data, err := local.Get(ctx, key)
				if err != nil {
					return fmt.Errorf("read %s: %w", key, err)
				}
				if err := remote.Put(ctx, key, data); err != nil {
					return fmt.Errorf("upload %s: %w", key, err)
				}
				slog.Debug("pushed artifact", "fingerprint", key, "size", len(data))
				pushed++
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pushed %d artifact(s), %d already remote\n", pushed, skipped)
			return nil
		},
	}
}
