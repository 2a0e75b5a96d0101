package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current change version",
		Long: `Print the last committed change version of the database.

The version starts at 0 and grows by one with every committed write
transaction. Pass it to "contactsd changes --since" to read what changed
after it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			s, err := openSession(ctx, rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.conn.Version(ctx)
			if err != nil {
				return s.fail("failed to read version", err)
			}
			return s.out.Success(v)
		},
	}
}
