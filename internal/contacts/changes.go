package contacts

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
)

// ChangeKind classifies one entry of a change feed.
type ChangeKind int

const (
	Inserted ChangeKind = iota + 1
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// MarshalText renders the kind by name.
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Change is one record that changed after a version.
type Change struct {
	Kind          ChangeKind `json:"kind"`
	ID            int        `json:"id"`
	AddressBookID int        `json:"address_book_id,omitempty"`
	Version       int        `json:"version"`
}

// Changes is a change feed and the version it is current up to. Clients
// pass Version as since on their next call.
type Changes struct {
	Version int      `json:"version"`
	Items   []Change `json:"items"`
}

// ChangesSince lists the records of view inserted, updated or deleted
// after version since, ordered by version then id. A positive
// addressBookID restricts the feed to that address book.
func (c *Conn) ChangesSince(ctx context.Context, view string, addressBookID, since int) (*Changes, error) {
	const op = "contacts.changes_since"
	if since < 0 {
		return nil, invalid(op, "negative version %d", since)
	}
	v, err := c.readable(op, view)
	if err != nil {
		return nil, err
	}
	created, changed := versionProps(v)
	if created == nil || changed == nil || !v.HasKey() {
		return nil, invalid(op, "view %q does not track changes", v.Name)
	}
	keyProp, _ := v.Property(v.Key)

	scopeCol := "0"
	if v.Scope != 0 {
		sp, _ := v.Property(v.Scope)
		scopeCol = storage.QuoteIdent(sp.Column)
	}

	// The version is read before the rows: a commit racing the scan can
	// only make the feed repeat items on the next call, never lose them.
	ex := c.session.Executor()
	out := &Changes{}
	res, err := ex.Execute(ctx, storage.Query("SELECT ver FROM contacts_version WHERE id = 1"))
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 1 {
		ints, err := intColumns(res.Rows[0])
		if err != nil {
			return nil, errs.Wrap(errs.Io, op, err)
		}
		out.Version = ints[0]
	}

	sql := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s > ?",
		storage.QuoteIdent(keyProp.Column), scopeCol,
		storage.QuoteIdent(created.Column), storage.QuoteIdent(changed.Column),
		storage.QuoteIdent(v.Table), storage.QuoteIdent(changed.Column))
	args := []any{since}
	if addressBookID > 0 && v.Scope != 0 {
		sql += " AND " + scopeCol + " = ?"
		args = append(args, addressBookID)
	}
	res, err = ex.Execute(ctx, storage.Query(sql, args...))
	if err != nil {
		return nil, err
	}

	for _, row := range res.Rows {
		ints, err := intColumns(row)
		if err != nil {
			return nil, errs.Wrap(errs.Io, op, err)
		}
		ch := Change{Kind: Updated, ID: ints[0], AddressBookID: ints[1], Version: ints[3]}
		if ints[2] > since {
			ch.Kind = Inserted
		}
		out.Items = append(out.Items, ch)
	}

	sql = "SELECT record_id, address_book_id, deleted_ver FROM deleted_records WHERE view_name = ? AND deleted_ver > ?"
	args = []any{v.Name, since}
	if addressBookID > 0 && v.Scope != 0 {
		sql += " AND address_book_id = ?"
		args = append(args, addressBookID)
	}
	res, err = ex.Execute(ctx, storage.Query(sql, args...))
	if err != nil {
		return nil, err
	}
	for _, row := range res.Rows {
		ints, err := intColumns(row)
		if err != nil {
			return nil, errs.Wrap(errs.Io, op, err)
		}
		out.Items = append(out.Items, Change{Kind: Deleted, ID: ints[0], AddressBookID: ints[1], Version: ints[2]})
	}

	slices.SortFunc(out.Items, func(a, b Change) int {
		return cmp.Or(cmp.Compare(a.Version, b.Version), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func intColumns(row []any) ([]int, error) {
	out := make([]int, len(row))
	for i, raw := range row {
		v, err := record.FromAny(schema.TypeInt, raw)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out[i] = int(v.(record.Int))
		}
	}
	return out, nil
}
