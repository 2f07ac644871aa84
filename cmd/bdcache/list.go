package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meigma/bdcache/config"
	"github.com/meigma/bdcache/store/disk"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List locally cached artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			local, err := disk.New(cfg.ArtifactsDir())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			keys, err := local.List(ctx)
			if err != nil {
				return err
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINGERPRINT\tSIZE\tAGE\tCREATED BY")
			now := time.Now()
			for _, key := range keys {
				meta, err := local.Stat(ctx, key)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					shortKey(key), meta.Size, formatAge(now.Sub(meta.CreatedAt)), meta.CreatedBy)
			}
			return w.Flush()
		},
	}
}

func shortKey(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "<1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
