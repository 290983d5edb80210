package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"raspibot/internal/probe"
)

var topCount int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the host status report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := hostProbe()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p.Collect(cmd.Context()).Format())
		return nil
	},
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Print the busiest processes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, cfg, err := hostProbe()
		if err != nil {
			return err
		}
		n := topCount
		if n <= 0 {
			n = cfg.ReportTop
		}
		procs, err := p.TopProcesses(n)
		if err != nil {
			return fmt.Errorf("list processes: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), probe.FormatTop(procs))
		return nil
	},
}

func init() {
	topCmd.Flags().IntVarP(&topCount, "count", "n", 0, "number of processes (default REPORT_TOP)")
	rootCmd.AddCommand(statusCmd, topCmd)
}
