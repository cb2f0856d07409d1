// ABOUTME: Cache command for inspecting and clearing the provider report cache
// ABOUTME: Works against whichever backend the config selects

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-codescan/internal/cache"
	"github.com/hikmaai-io/hikmaai-codescan/internal/config"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the provider report cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache backend and report count",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openConfiguredCache(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer c.Close()

			count, err := c.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("counting reports: %w", err)
			}
			printCacheStats(cmd.OutOrStdout(), c, count)
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached report",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openConfiguredCache(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s cache\n", c.Backend())
			return nil
		},
	}
}

func openConfiguredCache(logOut io.Writer) (cache.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	c, err := openCache(cfg, newLogger(cfg, logOut))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("cache backend is %q", config.CacheNone)
	}
	return c, nil
}

func printCacheStats(w io.Writer, c cache.Cache, count int64) {
	fmt.Fprintf(w, "Backend: %s\n", c.Backend())
	fmt.Fprintf(w, "Reports: %d\n", count)

	if ttl, ok := c.(interface{ TTL() time.Duration }); ok {
		fmt.Fprintf(w, "TTL:     %s\n", ttl.TTL())
	}
	if f, ok := c.(interface{ FilterStats() cache.FilterStats }); ok {
		s := f.FilterStats()
		fmt.Fprintf(w, "Filter:  %d bytes, %d hashes, ~%d of %d keys\n", s.BitSetSize, s.HashFunctions, s.ApproxItems, s.Capacity)
	}
}
