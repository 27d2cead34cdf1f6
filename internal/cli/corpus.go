package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sanonone/annisdb/pkg/core"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the corpora of the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			names, err := e.cache.Corpora()
			if err != nil {
				return err
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Print(names, func(w io.Writer) error {
				for _, name := range names {
					if _, err := fmt.Fprintln(w, name); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	var lazy bool

	cmd := &cobra.Command{
		Use:   "info <corpus>",
		Short: "Show the nodes, annotations and components of a corpus",
		Long: `Show the nodes, annotations and components of a corpus.

All components are loaded to report their implementation and size, unless
--lazy is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			db, err := e.cache.Get(args[0], !lazy)
			if err != nil {
				return err
			}
			info := db.Info()
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Print(info, func(w io.Writer) error {
				return writeInfo(w, info)
			})
		},
	}
	cmd.Flags().BoolVar(&lazy, "lazy", false, "do not load components from disk")
	return cmd
}

func writeInfo(w io.Writer, info core.CorpusInfo) error {
	fmt.Fprintf(w, "corpus: %s\n", info.Name)
	fmt.Fprintf(w, "nodes: %d\n", info.Nodes)
	fmt.Fprintf(w, "annotations: %d\n", info.Annotations)
	fmt.Fprintf(w, "components: %d\n", len(info.Components))
	for _, c := range info.Components {
		if !c.Loaded {
			fmt.Fprintf(w, "  %s %s (not loaded)\n", c.Component, c.Impl)
			continue
		}
		if _, err := fmt.Fprintf(w, "  %s %s edges=%d\n", c.Component, c.Impl, c.Edges); err != nil {
			return err
		}
	}
	return nil
}

// OptimizeResult reports the implementation change of one component.
type OptimizeResult struct {
	Component string `json:"component"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// NewOptimizeCommand creates the optimize command.
func NewOptimizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize <corpus>",
		Short: "Convert all components to their optimal implementation and save the corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			db, err := e.cache.Get(args[0], true)
			if err != nil {
				return err
			}
			before := db.Info().Components
			if err := db.Optimize(); err != nil {
				return err
			}
			if err := e.cache.Persist(args[0]); err != nil {
				return err
			}

			var results []OptimizeResult
			for i, c := range db.Info().Components {
				results = append(results, OptimizeResult{
					Component: c.Component.String(),
					From:      before[i].Impl,
					To:        c.Impl,
				})
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Print(results, func(w io.Writer) error {
				for _, r := range results {
					if _, err := fmt.Fprintf(w, "%s: %s -> %s\n", r.Component, r.From, r.To); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
