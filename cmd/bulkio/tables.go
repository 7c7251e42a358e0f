package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sitebook/internal/schema"
)

func newTablesCmd(_ *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List importable tables in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := schema.Load()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tRANK\tPOLICY\tKEY")
			for _, name := range reg.ListTables() {
				t, _ := reg.DescribeTable(name)
				policy, _ := reg.Policy(name)
				key := "-"
				if len(t.Identity.Fields) > 0 {
					key = fmt.Sprint(t.Identity.Fields)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", name, t.Rank, policy.Kind(), key)
			}
			return tw.Flush()
		},
	}
}
