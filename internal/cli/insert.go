package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/contactsd/internal/querydoc"
)

// InsertOptions holds flags for the insert command.
type InsertOptions struct {
	*RootOptions
	File string
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InsertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "insert -f <records.yaml>",
		Short: "Insert records from a YAML document",
		Long: `Insert every record of a records document in one transaction.
Either all records are stored or none is.

Example document:
  records:
    - view: contact
      values: {address_book_id: 1}
      children:
        name: [{first: Ann, last: Smith}]

Example:
  contactsd insert -f ann.yaml
  contactsd insert -f ann.yaml --as app:contacts --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "records document (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runInsert(ctx context.Context, opts *InsertOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	doc, err := querydoc.LoadRecords(opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load records", err)
	}

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := doc.Build(s.svc.Factory())
	if err != nil {
		return s.fail("failed to build records", err)
	}
	defer func() {
		for _, r := range recs {
			r.Destroy(true)
		}
	}()

	ids, err := s.conn.InsertList(ctx, recs)
	if err != nil {
		return s.fail("insert failed", err)
	}

	if opts.Format == "json" {
		return s.out.Success(map[string]any{"ids": ids})
	}
	return s.out.Success(fmt.Sprintf("Inserted %d record(s): %v", len(ids), ids))
}
