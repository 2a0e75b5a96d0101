package contacts

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
)

const (
	propCreatedVersion = "created_version"
	propChangedVersion = "changed_version"
)

// versionProps returns the change-tracking properties of v, or zeros.
func versionProps(v *schema.View) (created, changed *schema.Property) {
	created, _ = v.PropertyByName(propCreatedVersion)
	changed, _ = v.PropertyByName(propChangedVersion)
	return created, changed
}

func scopeOf(v *schema.View, r *record.Record) int {
	if v.Scope == 0 {
		return 0
	}
	ab, _ := r.Int(v.Scope)
	return ab
}

// checkWrite runs the access gate of a write to a record of v.
func (c *Conn) checkWrite(op string, v *schema.View, t table, ab int) error {
	if err := c.requireCap(op, t.write); err != nil {
		return err
	}
	if v.Scope != 0 && ab > 0 {
		return c.requireBook(op, ab)
	}
	return nil
}

// Insert stores rec and its children and returns the new key. On success
// rec carries its key and versions and is no longer marked modified.
func (c *Conn) Insert(ctx context.Context, rec *record.Record) (int, error) {
	ids, err := c.InsertList(ctx, []*record.Record{rec})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InsertList stores every record in one transaction and returns their
// keys in order. Either all are stored or none.
func (c *Conn) InsertList(ctx context.Context, recs []*record.Record) (_ []int, err error) {
	const op = "contacts.insert"
	if len(recs) == 0 {
		return nil, nil
	}
	for i, rec := range recs {
		if rec == nil {
			return nil, invalid(op, "nil record at %d", i)
		}
	}

	restore := make([]func(), len(recs))
	for i, rec := range recs {
		restore[i] = rec.Checkpoint()
	}
	defer func() {
		if err != nil {
			for _, fn := range restore {
				fn()
			}
		}
	}()

	tables := make([]table, len(recs))
	for i, rec := range recs {
		v, t, err := c.table(op, rec.View().Name)
		if err != nil {
			return nil, err
		}
		if t.child || v.IsChild() {
			return nil, invalid(op, "%s records are written through their parent", v.Name)
		}
		if rec.Key() != 0 {
			return nil, invalid(op, "record already has key %d", rec.Key())
		}
		if t.prepare != nil {
			if err := t.prepare(rec, true); err != nil {
				return nil, err
			}
		}
		ab := scopeOf(v, rec)
		if v.Name == schema.ViewAddressBook {
			ab = 0
			if owner, _ := rec.String(schema.AddressBookOwner); owner == "" {
				if err := rec.SetString(schema.AddressBookOwner, c.caller.Label); err != nil {
					return nil, err
				}
			}
		}
		if err := c.checkWrite(op, v, t, ab); err != nil {
			return nil, err
		}
		tables[i] = t
	}

	ids := make([]int, len(recs))
	err = c.atomically(ctx, op, func(ex storage.Executor, version int) error {
		for i, rec := range recs {
			id, err := insertRecord(ctx, ex, rec, 0, version)
			if err != nil {
				return err
			}
			ids[i] = id
			if err := c.session.MarkChanged(rec.View().Name); err != nil {
				return err
			}
			if tables[i].acl {
				c.aclDirty = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		rec.ClearModified()
	}
	c.log.Debug("inserted", "count", len(recs), "view", recs[0].View().Name)
	return ids, nil
}

// insertRecord writes rec with parent as the owning key (0 for top-level
// records) and assigns the new key back, recursively.
func insertRecord(ctx context.Context, ex storage.Executor, rec *record.Record, parent, version int) (int, error) {
	v := rec.View()
	var cols []string
	var args []any
	for _, id := range rec.Populated() {
		p, _ := v.Property(id)
		if p.ReadOnly() {
			continue
		}
		val, _ := rec.Get(id)
		cols = append(cols, storage.QuoteIdent(p.Column))
		args = append(args, record.Native(val))
	}
	if v.IsChild() {
		cols = append(cols, storage.QuoteIdent(v.Parent))
		args = append(args, parent)
	}
	created, changed := versionProps(v)
	if created != nil && changed != nil {
		cols = append(cols, storage.QuoteIdent(created.Column), storage.QuoteIdent(changed.Column))
		args = append(args, version, version)
	}

	var sql string
	if len(cols) == 0 {
		sql = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", storage.QuoteIdent(v.Table))
	} else {
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			storage.QuoteIdent(v.Table),
			strings.Join(cols, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	}
	res, err := ex.Execute(ctx, storage.Exec(sql, args...))
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", v.Name, err)
	}
	id := int(res.LastInsertID)

	if v.HasKey() {
		if err := rec.Assign(v.Key, record.Int(id)); err != nil {
			return 0, err
		}
	}
	if v.IsChild() {
		for _, p := range v.Properties() {
			if p.Column == v.Parent {
				_ = rec.Assign(p.ID, record.Int(parent))
			}
		}
	}
	if created != nil && changed != nil {
		_ = rec.Assign(created.ID, record.Int(version))
		_ = rec.Assign(changed.ID, record.Int(version))
	}

	for _, p := range v.Properties() {
		if p.Type != schema.TypeRecord {
			continue
		}
		kids, _ := rec.Children(p.ID)
		for _, k := range kids {
			if _, err := insertRecord(ctx, ex, k, id, version); err != nil {
				return 0, err
			}
		}
	}
	return id, nil
}

// storedScope reads the address book of a stored record. It fails with
// NotFound when the record does not exist.
func (c *Conn) storedScope(ctx context.Context, v *schema.View, id int) (int, error) {
	keyProp, err := v.Property(v.Key)
	if err != nil {
		return 0, err
	}
	col := keyProp.Column
	if v.Scope != 0 {
		sp, err := v.Property(v.Scope)
		if err != nil {
			return 0, err
		}
		col = sp.Column
	}
	res, err := c.session.Executor().Execute(ctx, storage.Query(
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", storage.QuoteIdent(col), storage.QuoteIdent(v.Table), storage.QuoteIdent(keyProp.Column)),
		id))
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, errs.New(errs.NotFound, "contacts.lookup", "no %s with id %d", v.Name, id)
	}
	if v.Scope == 0 {
		return 0, nil
	}
	ab, err := record.FromAny(schema.TypeInt, res.Rows[0][0])
	if err != nil || ab == nil {
		return 0, nil
	}
	return int(ab.(record.Int)), nil
}

// Update writes the modified properties of rec. Record-typed properties
// that were modified, or whose children were, are synchronized: children
// without a key are inserted, modified ones updated, and stored children
// missing from rec deleted.
func (c *Conn) Update(ctx context.Context, rec *record.Record) (err error) {
	const op = "contacts.update"
	if rec == nil {
		return invalid(op, "nil record")
	}
	restore := rec.Checkpoint()
	defer func() {
		if err != nil {
			restore()
		}
	}()
	v, t, err := c.table(op, rec.View().Name)
	if err != nil {
		return err
	}
	if t.child || v.IsChild() {
		return invalid(op, "%s records are written through their parent", v.Name)
	}
	id := rec.Key()
	if id <= 0 {
		return invalid(op, "record has no key")
	}
	if !hasChanges(rec) {
		return nil
	}
	if t.prepare != nil {
		if err := t.prepare(rec, false); err != nil {
			return err
		}
	}

	if err := c.requireCap(op, t.write); err != nil {
		return err
	}
	stored, err := c.storedScope(ctx, v, id)
	if err != nil {
		return err
	}
	if v.Scope != 0 {
		if err := c.requireBook(op, stored); err != nil {
			return err
		}
		if moved := scopeOf(v, rec); rec.Modified(v.Scope) && moved != stored {
			if err := c.requireBook(op, moved); err != nil {
				return err
			}
		}
	}

	err = c.atomically(ctx, op, func(ex storage.Executor, version int) error {
		if err := updateRecord(ctx, ex, c.svc.reg, rec, version); err != nil {
			return err
		}
		if t.acl {
			c.aclDirty = true
		}
		return c.session.MarkChanged(v.Name)
	})
	if err != nil {
		return err
	}
	rec.ClearModified()
	return nil
}

func hasChanges(r *record.Record) bool {
	if len(r.ModifiedProperties()) > 0 {
		return true
	}
	for _, p := range r.View().Properties() {
		if p.Type != schema.TypeRecord {
			continue
		}
		kids, _ := r.Children(p.ID)
		for _, k := range kids {
			if k.Key() == 0 || hasChanges(k) {
				return true
			}
		}
	}
	return false
}

func updateRecord(ctx context.Context, ex storage.Executor, reg *schema.Registry, rec *record.Record, version int) error {
	v := rec.View()
	keyProp, _ := v.Property(v.Key)

	var sets []string
	var args []any
	for _, id := range rec.ModifiedProperties() {
		p, _ := v.Property(id)
		if p.Type == schema.TypeRecord || p.ReadOnly() {
			continue
		}
		val, _ := rec.Get(id)
		sets = append(sets, storage.QuoteIdent(p.Column)+" = ?")
		args = append(args, record.Native(val))
	}
	_, changed := versionProps(v)
	if changed != nil {
		sets = append(sets, storage.QuoteIdent(changed.Column)+" = ?")
		args = append(args, version)
	}

	if len(sets) > 0 {
		args = append(args, rec.Key())
		res, err := ex.Execute(ctx, storage.Exec(
			fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", storage.QuoteIdent(v.Table), strings.Join(sets, ", "), storage.QuoteIdent(keyProp.Column)),
			args...))
		if err != nil {
			return fmt.Errorf("update %s: %w", v.Name, err)
		}
		if res.RowsAffected == 0 {
			return errs.New(errs.NotFound, "contacts.update", "no %s with id %d", v.Name, rec.Key())
		}
	}
	if changed != nil {
		_ = rec.Assign(changed.ID, record.Int(version))
	}

	for _, p := range v.Properties() {
		if p.Type != schema.TypeRecord {
			continue
		}
		kids, _ := rec.Children(p.ID)
		dirty := rec.Modified(p.ID)
		for _, k := range kids {
			if k.Key() == 0 || hasChanges(k) {
				dirty = true
			}
		}
		if !dirty {
			continue
		}
		child, err := reg.View(p.Child)
		if err != nil {
			return err
		}
		if err := syncChildren(ctx, ex, reg, child, rec.Key(), kids, version); err != nil {
			return err
		}
	}
	return nil
}

// syncChildren makes the stored children of parent in the child view
// match kids.
func syncChildren(ctx context.Context, ex storage.Executor, reg *schema.Registry, child *schema.View, parent int, kids []*record.Record, version int) error {
	keyProp, err := child.Property(child.Key)
	if err != nil {
		return err
	}

	res, err := ex.Execute(ctx, storage.Query(
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", storage.QuoteIdent(keyProp.Column), storage.QuoteIdent(child.Table), storage.QuoteIdent(child.Parent)),
		parent))
	if err != nil {
		return err
	}
	var stored []int
	for _, row := range res.Rows {
		if k, err := record.FromAny(schema.TypeInt, row[0]); err == nil && k != nil {
			stored = append(stored, int(k.(record.Int)))
		}
	}

	keep := make(map[int]bool, len(kids))
	for _, k := range kids {
		switch {
		case k.Key() == 0:
			if _, err := insertRecord(ctx, ex, k, parent, version); err != nil {
				return err
			}
		case !slices.Contains(stored, k.Key()):
			return errs.New(errs.NotFound, "contacts.update", "%s %d does not belong to record %d", child.Name, k.Key(), parent)
		default:
			if err := updateRecord(ctx, ex, reg, k, version); err != nil {
				return err
			}
		}
		keep[k.Key()] = true
	}

	for _, id := range stored {
		if keep[id] {
			continue
		}
		if _, err := ex.Execute(ctx, storage.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE %s = ?", storage.QuoteIdent(child.Table), storage.QuoteIdent(keyProp.Column)),
			id)); err != nil {
			return fmt.Errorf("delete %s %d: %w", child.Name, id, err)
		}
	}
	return nil
}

// Delete removes the record id of view, with its children, and records a
// tombstone for incremental sync.
func (c *Conn) Delete(ctx context.Context, view string, id int) error {
	const op = "contacts.delete"
	if id <= 0 {
		return invalid(op, "invalid id %d", id)
	}
	v, t, err := c.table(op, view)
	if err != nil {
		return err
	}
	if t.child || v.IsChild() {
		return invalid(op, "%s records are deleted through their parent", v.Name)
	}
	if !v.HasKey() {
		return invalid(op, "view %q has no key", v.Name)
	}

	if err := c.requireCap(op, t.write); err != nil {
		return err
	}
	ab, err := c.storedScope(ctx, v, id)
	if err != nil {
		return err
	}
	if v.Scope != 0 {
		if err := c.requireBook(op, ab); err != nil {
			return err
		}
	}

	return c.atomically(ctx, op, func(ex storage.Executor, version int) error {
		if t.beforeDelete != nil {
			if err := t.beforeDelete(ctx, ex, id, version); err != nil {
				return err
			}
		}
		keyProp, _ := v.Property(v.Key)
		res, err := ex.Execute(ctx, storage.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE %s = ?", storage.QuoteIdent(v.Table), storage.QuoteIdent(keyProp.Column)),
			id))
		if err != nil {
			return fmt.Errorf("delete %s: %w", v.Name, err)
		}
		if res.RowsAffected == 0 {
			return errs.New(errs.NotFound, op, "no %s with id %d", v.Name, id)
		}
		if _, err := ex.Execute(ctx, storage.Exec(
			"INSERT OR REPLACE INTO deleted_records (view_name, record_id, address_book_id, deleted_ver) VALUES (?, ?, ?, ?)",
			v.Name, id, ab, version)); err != nil {
			return err
		}

		if t.acl {
			c.aclDirty = true
			_ = c.session.MarkChanged(schema.ViewContact)
			_ = c.session.MarkChanged(schema.ViewGroup)
		}
		return c.session.MarkChanged(v.Name)
	})
}
