package contacts

import (
	"context"
	"strings"
	"time"

	"github.com/roach88/contactsd/internal/access"
	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
)

// table is the storage-side behavior of one view.
type table struct {
	read, write access.Capability
	plugin      record.Plugin

	// child views are only written through their parent.
	child bool

	// prepare validates r and fills derived properties before a write.
	prepare func(r *record.Record, insert bool) error

	// beforeDelete runs inside the deleting transaction.
	beforeDelete func(ctx context.Context, ex storage.Executor, id, version int) error

	// acl marks views whose rows feed the access cache.
	acl bool
}

func builtinTables(now func() time.Time) map[string]table {
	contactRW := table{read: access.ContactRead, write: access.ContactWrite}

	ab := contactRW
	ab.plugin = addressBookPlugin{}
	ab.prepare = prepareAddressBook
	ab.beforeDelete = tombstoneAddressBookContents
	ab.acl = true

	group := contactRW
	group.prepare = prepareGroup

	contact := contactRW
	contact.plugin = contactPlugin{}
	contact.prepare = prepareContact

	child := contactRW
	child.child = true

	return map[string]table{
		schema.ViewAddressBook: ab,
		schema.ViewGroup:       group,
		schema.ViewContact:     contact,
		schema.ViewName:        child,
		schema.ViewNumber:      child,
		schema.ViewEmail:       child,
		schema.ViewPhoneLog: {
			read:    access.PhoneLogRead,
			write:   access.PhoneLogWrite,
			plugin:  phoneLogPlugin{now: now},
			prepare: preparePhoneLog,
		},
	}
}

func customTable() table {
	return table{read: access.ContactRead, write: access.ContactWrite}
}

type addressBookPlugin struct{ record.BasePlugin }

func (addressBookPlugin) Init(r *record.Record) {
	_ = r.Assign(schema.AddressBookMode, record.Int(schema.ModeNone))
}

type contactPlugin struct{ record.BasePlugin }

func (contactPlugin) Init(r *record.Record) {
	_ = r.Assign(schema.ContactFavorite, record.Bool(false))
}

type phoneLogPlugin struct {
	record.BasePlugin
	now func() time.Time
}

func (p phoneLogPlugin) Init(r *record.Record) {
	_ = r.Assign(schema.PhoneLogTime, record.Int64(p.now().Unix()))
}

func invalid(op, format string, args ...any) error {
	return errs.New(errs.InvalidArgument, op, format, args...)
}

func prepareAddressBook(r *record.Record, insert bool) error {
	const op = "contacts.address_book"
	name, _ := r.String(schema.AddressBookName)
	if (insert || r.Modified(schema.AddressBookName)) && strings.TrimSpace(name) == "" {
		return invalid(op, "address book needs a name")
	}
	mode, _ := r.Int(schema.AddressBookMode)
	if mode != schema.ModeNone && mode != schema.ModeReadOnly {
		return invalid(op, "unknown address book mode %d", mode)
	}
	return nil
}

func requireAddressBook(op string, r *record.Record, id schema.PropertyID, insert bool) error {
	if !insert && !r.Modified(id) {
		return nil
	}
	if ab, _ := r.Int(id); ab <= 0 {
		return invalid(op, "%s needs an address book", r.View().Name)
	}
	return nil
}

func prepareGroup(r *record.Record, insert bool) error {
	return requireAddressBook("contacts.group", r, schema.GroupAddressBookID, insert)
}

func prepareContact(r *record.Record, insert bool) error {
	if err := requireAddressBook("contacts.contact", r, schema.ContactAddressBookID, insert); err != nil {
		return err
	}
	if !insert && !r.Modified(schema.ContactDisplayName) {
		return nil
	}
	if dn, _ := r.String(schema.ContactDisplayName); strings.TrimSpace(dn) != "" {
		return nil
	}
	if dn := deriveDisplayName(r); dn != "" {
		return r.SetString(schema.ContactDisplayName, dn)
	}
	return nil
}

// deriveDisplayName picks the first name child, else the first number,
// else the first email.
func deriveDisplayName(r *record.Record) string {
	names, _ := r.Children(schema.ContactName)
	for _, n := range names {
		first, _ := n.String(schema.NameFirst)
		last, _ := n.String(schema.NameLast)
		if full := strings.TrimSpace(first + " " + last); full != "" {
			return full
		}
	}
	numbers, _ := r.Children(schema.ContactNumber)
	for _, n := range numbers {
		if s, _ := n.String(schema.NumberNumber); s != "" {
			return s
		}
	}
	emails, _ := r.Children(schema.ContactEmail)
	for _, e := range emails {
		if s, _ := e.String(schema.EmailEmail); s != "" {
			return s
		}
	}
	return ""
}

func preparePhoneLog(r *record.Record, insert bool) error {
	if !insert && !r.Modified(schema.PhoneLogAddress) {
		return nil
	}
	if addr, _ := r.String(schema.PhoneLogAddress); strings.TrimSpace(addr) == "" {
		return invalid("contacts.phone_log", "phone log entry needs an address")
	}
	return nil
}

// tombstoneAddressBookContents records deletions for the contacts and
// groups that the address book's cascade removes.
func tombstoneAddressBookContents(ctx context.Context, ex storage.Executor, id, version int) error {
	for view, tbl := range map[string]string{
		schema.ViewContact: "contacts",
		schema.ViewGroup:   "contact_groups",
	} {
		_, err := ex.Execute(ctx, storage.Exec(
			"INSERT OR REPLACE INTO deleted_records (view_name, record_id, address_book_id, deleted_ver) "+
				"SELECT ?, id, address_book_id, ? FROM "+storage.QuoteIdent(tbl)+" WHERE address_book_id = ?",
			view, version, id))
		if err != nil {
			return err
		}
	}
	return nil
}
