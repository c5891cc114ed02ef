package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var checkConnections bool

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "List configured organizations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a := bootstrap(context.Background(), loadConfig(cmd))
		defer a.close()
		if checkConnections {
			a.connect()
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSLUG\tNAME\tSTATE")
		for _, svc := range a.reg.List() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", svc.OrganizationID(), svc.Slug(), svc.OrganizationName(), svc.State())
		}
		return tw.Flush()
	},
}

func init() {
	orgsCmd.Flags().BoolVar(&checkConnections, "check", false, "Connect to each organization and report the resulting state.")
}
