package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/orneryd/linkdb/pkg/graph"
)

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(output); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	db, done, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer done()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ Config written to %s\n", output)
	if db.Persistent() {
		fmt.Fprintf(out, "   Data directory: %s\n", cfg.Storage.DataDir)
	}
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	maxEntries, _ := cmd.Flags().GetInt("max-entries")
	avgOut, _ := cmd.Flags().GetInt("avg-out")
	avgIn, _ := cmd.Flags().GetInt("avg-in")

	db, done, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer done()

	g := db.Graph()
	if err := g.RegisterType(args[0], maxEntries, avgOut, avgIn); err != nil {
		return err
	}
	info, err := g.TypeInfo(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s: %s entries per direction, avg degree out %d / in %d\n",
		info.Name, humanize.Comma(int64(info.MaxEntries)), info.AvgOutDegree, info.AvgInDegree)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	db, done, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer done()

	s := db.Stats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Nodes:                   %s\n", humanize.Comma(int64(s.Nodes)))
	fmt.Fprintf(out, "Relationship properties: %s\n", humanize.Comma(int64(s.RelationshipProperties)))
	if db.Persistent() {
		fmt.Fprintf(out, "Disk:                    %s LSM, %s value log\n",
			humanize.Bytes(uint64(s.LSMBytes)), humanize.Bytes(uint64(s.VLogBytes)))
	}
	if len(s.Types) == 0 {
		fmt.Fprintln(out, "No relationship types registered.")
		return nil
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tNODES WITH OUT\tNODES WITH IN\tCAPACITY\tAVG OUT\tAVG IN")
	for _, t := range s.Types {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n", t.Name,
			humanize.Comma(int64(t.Stats.Out)), humanize.Comma(int64(t.Stats.In)),
			humanize.Comma(int64(t.MaxEntries)), t.AvgOutDegree, t.AvgInDegree)
	}
	return tw.Flush()
}

func runNeighbors(cmd *cobra.Command, args []string) error {
	incoming, _ := cmd.Flags().GetBool("in")

	db, done, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer done()

	g := db.Graph()
	typ, node := args[0], graph.NodeID(args[1])
	var set graph.NodeSet
	if incoming {
		set, err = g.IncomingNeighbors(typ, node)
	} else {
		set, err = g.OutgoingNeighbors(typ, node)
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, id := range set.Sorted() {
		fmt.Fprintln(out, id)
	}
	return nil
}

func runRemoveNode(cmd *cobra.Command, args []string) error {
	db, done, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer done()

	existed, err := db.Graph().RemoveNode(cmd.Context(), graph.NodeID(args[0]))
	if err != nil {
		return err
	}
	if existed {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed node %s and its relationships\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Node %s did not exist; dangling relationships were cleaned up\n", args[0])
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	db, done, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer done()

	err = db.Graph().CheckInvariants(cmd.Context())
	var iv *graph.InvariantViolationError
	if errors.As(err, &iv) {
		fmt.Fprintf(cmd.OutOrStdout(), "❌ %v\n", iv)
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✅ All relationships are consistent")
	return nil
}

func runGC(cmd *cobra.Command, args []string) error {
	db, done, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer done()

	if !db.Persistent() {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to collect for in-memory storage")
		return nil
	}
	before, beforeVLog := db.Stats().LSMBytes, db.Stats().VLogBytes
	n, err := db.RunGC()
	if err != nil {
		return err
	}
	s := db.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "Rewrote %d value log file(s): %s -> %s\n", n,
		humanize.Bytes(uint64(before+beforeVLog)), humanize.Bytes(uint64(s.LSMBytes+s.VLogBytes)))
	return nil
}
