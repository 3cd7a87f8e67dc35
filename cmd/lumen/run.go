package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/lumen/config"
	"github.com/chazu/lumen/vm"
	"github.com/chazu/lumen/vm/chunk"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] <chunk.lmc> [args...]",
		Short: "Execute a compiled chunk",
		Long:  `Load a compiled chunk, verify it and call its main function with the remaining arguments as strings`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExecution,
	}
	cmd.Flags().Bool("stats", false, "print collector statistics after the run")
	return cmd
}

func runExecution(cmd *cobra.Command, args []string) error {
	showStats, err := cmd.Flags().GetBool("stats")
	if err != nil {
		return fmt.Errorf("failed to get stats flag: %w", err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := chunk.ReadFile(args[0])
	if err != nil {
		return err
	}

	g := newInterpreter(cfg, cmd.OutOrStdout())
	if _, err := execute(g, c, args[1:]); err != nil {
		return err
	}
	if showStats {
		printStats(cmd.OutOrStdout(), g)
	}
	return nil
}

// newInterpreter creates a state configured by cfg with the host functions
// the CLI provides.
func newInterpreter(cfg *config.Config, out io.Writer) *vm.State {
	opts := append(cfg.Options(), vm.WithFinalizerErrorHandler(func(err *vm.Error) {
		log.Warning("finalizer failed", "error", err.Error())
	}))
	g := vm.NewState(opts...)
	g.Register("print", printFunc(out))
	return g
}

// printFunc writes its arguments separated by tabs, followed by a newline.
func printFunc(out io.Writer) vm.GoFunction {
	return func(l *vm.Thread) int {
		n := l.Top()
		parts := make([]string, n)
		for i := range parts {
			parts[i] = l.Get(i + 1).String()
		}
		fmt.Fprintln(out, strings.Join(parts, "\t"))
		return 0
	}
}

// execute runs the main function of c with args and returns its results.
func execute(g *vm.State, c *chunk.Chunk, args []string) ([]vm.Value, error) {
	l := g.MainThread()
	base := l.Top()
	if err := l.Load(c.Main); err != nil {
		return nil, err
	}
	for _, a := range args {
		l.PushString(a)
	}
	log.Debug("running chunk", "name", c.Name, "state", g.ID().String())
	if err := l.PCall(len(args), vm.MultRet, 0); err != nil {
		l.SetTop(base)
		return nil, err
	}
	res := make([]vm.Value, l.Top()-base)
	for i := range res {
		res[i] = l.Get(base + 1 + i)
	}
	l.SetTop(base)
	return res, nil
}

// reportError prints err, with the traceback of runtime errors.
func reportError(w io.Writer, err error) {
	var verr *vm.Error
	if !errors.As(err, &verr) {
		errorColor.Fprintf(w, "error: %v\n", err)
		return
	}
	errorColor.Fprintf(w, "lumen: %s\n", verr.Error())
	if len(verr.Traceback) > 0 {
		traceColor.Fprintln(w, "stack traceback:")
		for _, t := range verr.Traceback {
			traceColor.Fprintf(w, "\t%s\n", t)
		}
	}
}
