package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/engine"
	"github.com/rocketbitz/collective/plan"
)

func newPlansCmd(opts *rootOptions) *cobra.Command {
	var (
		nodes, ppn int
		collective string
	)
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Show the plans tried for a node layout, in trial order per size range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodes < 1 || ppn < 1 {
				return fmt.Errorf("nodes and ppn must be positive")
			}
			types, err := selectTypes(collective)
			if err != nil {
				return err
			}
			e, err := engine.New(opts.cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "layout: %d nodes (bucket %s) x %d ppn (bucket %s)\n",
				nodes, plan.NodeLevel(nodes), ppn, plan.PPNLevel(ppn))
			t := newTable([]lipgloss.Position{lipgloss.Left, lipgloss.Right, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Center, lipgloss.Left},
				"collective", "id", "algorithm", "from", "below", "score", "source")
			for _, typ := range types {
				for _, c := range e.Selector().Table(typ, nodes, ppn) {
					source := "policy"
					if c.Override {
						source = "override"
					}
					t.row(c.Override, typ.String(), strconv.Itoa(c.Algorithm.ID), c.Algorithm.Name,
						c.Entry.Min.String(), c.Entry.Max.String(), c.Entry.Score.String(), source)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
	cmd.Flags().IntVar(&nodes, "nodes", 1, "number of nodes")
	cmd.Flags().IntVar(&ppn, "ppn", 1, "ranks per node")
	cmd.Flags().StringVar(&collective, "collective", "all", "collective to show")
	return cmd
}

func newAlgorithmsCmd(opts *rootOptions) *cobra.Command {
	var collective string
	cmd := &cobra.Command{
		Use:   "algorithms",
		Short: "List the registered algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := selectTypes(collective)
			if err != nil {
				return err
			}
			e, err := engine.New(opts.cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			t := newTable([]lipgloss.Position{lipgloss.Left, lipgloss.Right, lipgloss.Left}, "collective", "id", "algorithm")
			for _, typ := range types {
				for _, a := range e.Registry().Algorithms(typ) {
					t.row(false, typ.String(), strconv.Itoa(a.ID), a.Name)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&collective, "collective", "all", "collective to list")
	return cmd
}

func selectTypes(name string) ([]coll.Type, error) {
	if name == "" || name == "all" {
		return coll.Types(), nil
	}
	t, err := coll.ParseType(name)
	if err != nil {
		return nil, err
	}
	return []coll.Type{t}, nil
}
