package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	*RootOptions
	View        string
	Since       int
	AddressBook int
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes --view <view> --since <version>",
		Short: "List records changed after a version",
		Long: `List the records of a view inserted, updated or deleted after a
change version, ordered by the version of the change.

Example:
  contactsd changes --view contact --since 0
  contactsd changes --view group --since 12 --address-book 2 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.View, "view", "", "view name (required)")
	cmd.Flags().IntVar(&opts.Since, "since", 0, "report changes after this version")
	cmd.Flags().IntVar(&opts.AddressBook, "address-book", 0, "restrict to one address book (0 for all)")
	_ = cmd.MarkFlagRequired("view")

	return cmd
}

func runChanges(ctx context.Context, opts *ChangesOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	feed, err := s.conn.ChangesSince(ctx, opts.View, opts.AddressBook, opts.Since)
	if err != nil {
		return s.fail("failed to read changes", err)
	}

	if opts.Format == "json" {
		return s.out.Success(feed)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "version %d, %d change(s)", feed.Version, len(feed.Items))
	for _, c := range feed.Items {
		fmt.Fprintf(&b, "\n  v%d %-8s %s %d", c.Version, c.Kind, opts.View, c.ID)
		if c.AddressBookID != 0 {
			fmt.Fprintf(&b, " (address book %d)", c.AddressBookID)
		}
	}
	return s.out.Success(b.String())
}
