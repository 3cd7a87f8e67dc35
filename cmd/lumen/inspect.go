package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/chazu/lumen/vm"
	"github.com/chazu/lumen/vm/chunk"
	"github.com/spf13/cobra"
)

// ---------------------------------------------------------------------------
// disasm
// ---------------------------------------------------------------------------

func newDisasmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disasm [flags] <chunk.lmc>",
		Short: "Print the instructions of a compiled chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := cmd.Flags().GetBool("summary")
			if err != nil {
				return fmt.Errorf("failed to get summary flag: %w", err)
			}
			c, err := chunk.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printChunkHeader(out, c)
			if !summary {
				fmt.Fprintln(out)
				fmt.Fprint(out, vm.Disassemble(c.Main))
			}
			return nil
		},
	}
	cmd.Flags().Bool("summary", false, "print only the chunk header")
	return cmd
}

func printChunkHeader(w io.Writer, c *chunk.Chunk) {
	s := c.Stats()
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", labelColor.Sprint("chunk"), c.Name)
	fmt.Fprintf(tw, "%s\t%x\n", labelColor.Sprint("hash"), c.Hash)
	fmt.Fprintf(tw, "%s\t%d\n", labelColor.Sprint("functions"), s.Functions)
	fmt.Fprintf(tw, "%s\t%d\n", labelColor.Sprint("instructions"), s.Instructions)
	fmt.Fprintf(tw, "%s\t%d\n", labelColor.Sprint("constants"), s.Constants)
	fmt.Fprintf(tw, "%s\t%d\n", labelColor.Sprint("upvalues"), s.Upvalues)
	tw.Flush()
}

// ---------------------------------------------------------------------------
// gc-stats
// ---------------------------------------------------------------------------

func newGCStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc-stats [flags] <chunk.lmc> [args...]",
		Short: "Run a chunk and report collector statistics",
		Long:  `Run a chunk, optionally finish with a full collection, and print the collector's counters`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			full, err := cmd.Flags().GetBool("full")
			if err != nil {
				return fmt.Errorf("failed to get full flag: %w", err)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := chunk.ReadFile(args[0])
			if err != nil {
				return err
			}
			g := newInterpreter(cfg, cmd.ErrOrStderr())
			if _, err := execute(g, c, args[1:]); err != nil {
				return err
			}
			if full {
				g.FullGC()
			}
			printStats(cmd.OutOrStdout(), g)
			return nil
		},
	}
	cmd.Flags().Bool("full", true, "run a full collection before reporting")
	return cmd
}

func printStats(w io.Writer, g *vm.State) {
	s := g.GCStats()
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	row := func(label string, format string, args ...any) {
		fmt.Fprintf(tw, "%s\t%s\n", labelColor.Sprint(label), fmt.Sprintf(format, args...))
	}
	row("state", "%s", g.ID())
	row("phase", "%s", s.Phase)
	row("heap", "%d bytes", s.HeapBytes)
	row("estimate", "%d bytes", s.Estimate)
	row("threshold", "%d bytes", s.Threshold)
	row("cycles", "%d", s.Cycles)
	row("steps", "%d", s.Steps)
	row("freed", "%d objects, %d bytes", s.FreedObjects, s.FreedBytes)
	row("finalizers", "%d run, %d failed", s.FinalizersRun, s.FinalizerErrors)
	row("last cycle", "%s", s.LastCycle)
	tw.Flush()
}
