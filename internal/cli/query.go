package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/join"
	"github.com/sanonone/annisdb/pkg/query"
)

// QueryResult is the JSON output of the query command. Matches hold the node
// names of every result tuple.
type QueryResult struct {
	Count   int        `json:"count"`
	Matches [][]string `json:"matches,omitempty"`
	Plan    string     `json:"plan,omitempty"`
}

type queryOptions struct {
	strategy string
	limit    int
	count    bool
	plan     bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query <corpus> <query.json|->",
		Short: "Execute a JSON query description on a corpus",
		Long: `Execute a JSON query description on a corpus.

Every result is printed as the names of the matched nodes, in the order of
the query nodes. Use - to read the query from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, opts, cmd, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "join strategy for all operators (seed|nestedloop|parallel)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "stop after this many results (0 = all)")
	cmd.Flags().BoolVar(&opts.count, "count", false, "only print the number of results")
	cmd.Flags().BoolVar(&opts.plan, "plan", false, "print the execution plan")
	return cmd
}

func readQuery(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read query file '%s': %w", path, err)
	}
	return data, nil
}

func runQuery(rootOpts *RootOptions, opts *queryOptions, cmd *cobra.Command, corpus, path string) error {
	data, err := readQuery(cmd, path)
	if err != nil {
		return err
	}

	e, err := setup(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.Close()

	qopts, err := e.cfg.QueryOptions(e.logger)
	if err != nil {
		return err
	}
	if opts.strategy != "" {
		if qopts.DefaultStrategy, err = join.ParseStrategy(opts.strategy); err != nil {
			return err
		}
	}

	db, err := e.cache.Get(corpus, false)
	if err != nil {
		return err
	}
	q, err := query.ParseJSON(db, data, qopts)
	if err != nil {
		return err
	}
	defer q.Close()
	e.logger.Debug("executing query", "query", q.ID(), "corpus", corpus)

	result := QueryResult{}
	if opts.plan {
		result.Plan = q.Plan()
	}
	for opts.limit <= 0 || result.Count < opts.limit {
		tuple, err := q.Next()
		if errors.Is(err, query.ErrExhausted) {
			break
		}
		if err != nil {
			return err
		}
		result.Count++
		if !opts.count {
			result.Matches = append(result.Matches, nodeNames(db, tuple))
		}
	}

	out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
	return out.Print(result, func(w io.Writer) error {
		if result.Plan != "" {
			fmt.Fprintf(w, "plan:\n%s\n", result.Plan)
		}
		for _, m := range result.Matches {
			fmt.Fprintln(w, strings.Join(m, " "))
		}
		_, err := fmt.Fprintf(w, "%d matches\n", result.Count)
		return err
	})
}

func nodeNames(db *core.DB, tuple []types.Match) []string {
	key := db.BuiltinKey(types.AnnisNodeName)
	names := make([]string, len(tuple))
	for i, m := range tuple {
		names[i] = fmt.Sprintf("#%d", m.Node)
		if a, ok := db.NodeAnnos.Annotation(m.Node, key); ok {
			if name, ok := db.Strings.Str(a.Val); ok {
				names[i] = name
			}
		}
	}
	return names
}
