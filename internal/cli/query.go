package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/contactsd/internal/querydoc"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	File  string
	Count bool
}

// SearchHit is one result of a keyword query.
type SearchHit struct {
	Record  map[string]any `json:"record" yaml:"record"`
	Snippet string         `json:"snippet,omitempty" yaml:"snippet,omitempty"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query -f <query.yaml>",
		Short: "Run a query document",
		Long: `Run a query document and print the matching records.

A document with a search block runs a keyword search; the filter, sort
and projection still apply.

Example document:
  view: contact
  filter:
    - {property: display_name, match: startswith, value: Ann}
  projection: [id, display_name]
  sort: {property: display_name, ascending: true}

Example:
  contactsd query -f ann.yaml
  contactsd query -f ann.yaml --count`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "query document (required)")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print the number of matching records only")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runQuery(ctx context.Context, opts *QueryOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	doc, err := querydoc.LoadQuery(opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load query", err)
	}

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	q, err := doc.Build(s.svc.Registry())
	if err != nil {
		return s.fail("failed to build query", err)
	}
	defer q.Destroy()

	if opts.Count {
		n, err := s.conn.Count(ctx, q)
		if err != nil {
			return s.fail("count failed", err)
		}
		return s.out.Success(n)
	}

	keyword, searchOpts, isSearch, err := doc.SearchOptions()
	if err != nil {
		return s.fail("invalid search", err)
	}
	if isSearch {
		hits, err := s.conn.Search(ctx, q, keyword, searchOpts, doc.Offset, doc.Limit)
		if err != nil {
			return s.fail("search failed", err)
		}
		out := make([]SearchHit, len(hits))
		for i, h := range hits {
			out[i] = SearchHit{Record: querydoc.ToMap(h.Record), Snippet: h.Snippet}
		}
		return s.out.Success(out)
	}

	list, err := s.conn.Query(ctx, q, doc.Offset, doc.Limit)
	if err != nil {
		return s.fail("query failed", err)
	}
	defer list.Destroy(true)

	out := make([]map[string]any, 0, list.Len())
	for _, r := range list.Records() {
		out = append(out, querydoc.ToMap(r))
	}
	return s.out.Success(out)
}
