package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	cacheCmd.AddCommand(cacheInspectCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects or clears the response cache.",
}

var cacheInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Lists every cache entry with its age and freshness.",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := getApp(cmd.Context()).Cache.Entries(cmd.Context())
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Name", "Written", "Age", "TTL (h)", "Fresh", "Size"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.Name,
				e.Timestamp.Format(time.DateTime),
				e.Age.Round(time.Second).String(),
				e.TtlHours,
				e.Fresh(e.TtlHours),
				e.Size,
			})
		}
		t.AppendFooter(table.Row{"", "", "", "", "entries", len(entries)})
		t.Render()
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Removes every cache entry, the session is kept.",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := getApp(cmd.Context()).Cache.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println("cache cleared")
		return nil
	},
}
