package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/contactsd/internal/query"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
)

// DefaultAddressBook is the name of the address book init creates.
const DefaultAddressBook = "local"

// InitResult is the output of the init command.
type InitResult struct {
	DB            string `json:"db" yaml:"db"`
	AddressBookID int    `json:"address_book_id,omitempty" yaml:"address_book_id,omitempty"`
	Created       bool   `json:"created" yaml:"created"`
	Version       int    `json:"version" yaml:"version"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and the default address book",
		Long: `Create the database if needed, apply the schema and insert the
default "local" address book when no address book exists.

Running init on an initialized database changes nothing.

Example:
  contactsd init --db ./contacts.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runInit(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	q, err := query.New(s.svc.Registry(), schema.ViewAddressBook)
	if err != nil {
		return s.fail("failed to build query", err)
	}
	defer q.Destroy()
	n, err := s.conn.Count(ctx, q)
	if err != nil {
		return s.fail("failed to count address books", err)
	}

	result := InitResult{DB: s.store.Path()}
	if n == 0 {
		book, err := s.svc.NewRecord(schema.ViewAddressBook)
		if err != nil {
			return s.fail("failed to create address book", err)
		}
		defer book.Destroy(true)
		if err := book.Set(schema.AddressBookName, record.String(DefaultAddressBook)); err != nil {
			return s.fail("failed to create address book", err)
		}
		id, err := s.conn.Insert(ctx, book)
		if err != nil {
			return s.fail("failed to insert address book", err)
		}
		result.AddressBookID, result.Created = id, true
	}

	result.Version, err = s.conn.Version(ctx)
	if err != nil {
		return s.fail("failed to read version", err)
	}

	if opts.Format == "json" {
		return s.out.Success(result)
	}
	if result.Created {
		return s.out.Success(fmt.Sprintf("Initialized %s (address book %d)", result.DB, result.AddressBookID))
	}
	return s.out.Success(fmt.Sprintf("%s already initialized (version %d)", result.DB, result.Version))
}
