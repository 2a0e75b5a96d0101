package record

import (
	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/schema"
)

// List is an ordered collection of records of one view with a cursor.
//
// Records removed with keepDeleted are kept as tombstones: clones taken at
// removal time, in removal order. Tombstones are independent of the live
// sequence and its cursor.
type List struct {
	view    *schema.View
	records []*Record
	deleted []*Record
	cursor  int
}

// NewList returns an empty list. The first inserted record fixes its view.
func NewList() *List {
	return &List{cursor: -1}
}

// NewListOf returns an empty list fixed to v.
func NewListOf(v *schema.View) *List {
	return &List{view: v, cursor: -1}
}

// View returns the list's view, or nil while the list has never held a
// record.
func (l *List) View() *schema.View {
	return l.view
}

// Len returns the number of live records.
func (l *List) Len() int {
	return len(l.records)
}

// Records returns the live records in order. The slice is a copy.
func (l *List) Records() []*Record {
	return append([]*Record(nil), l.records...)
}

// Deleted returns the tombstones in removal order.
func (l *List) Deleted() []*Record {
	return append([]*Record(nil), l.deleted...)
}

func (l *List) admit(op string, r *Record) error {
	if r == nil {
		return errs.New(errs.InvalidArgument, op, "nil record")
	}
	if l.view != nil && l.view.Name != r.view.Name {
		return errs.New(errs.TypeMismatch, op, "list holds %q records, not %q", l.view.Name, r.view.Name)
	}
	l.view = r.view
	return nil
}

// Add appends r.
func (l *List) Add(r *Record) error {
	if err := l.admit("list.add", r); err != nil {
		return err
	}
	l.records = append(l.records, r)
	if len(l.records) == 1 {
		l.cursor = 0
	}
	return nil
}

// Prepend inserts r at the front. The cursor keeps pointing at the same
// record.
func (l *List) Prepend(r *Record) error {
	if err := l.admit("list.prepend", r); err != nil {
		return err
	}
	l.records = append([]*Record{r}, l.records...)
	l.cursor++
	return nil
}

// Remove drops r from the live sequence. With keepDeleted a clone of r,
// flagged deleted, is appended to the tombstones.
func (l *List) Remove(r *Record, keepDeleted bool) error {
	idx := -1
	for i, m := range l.records {
		if m == r {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errs.New(errs.NotFound, "list.remove", "record is not a member of the list")
	}

	l.records = append(l.records[:idx:idx], l.records[idx+1:]...)
	switch {
	case len(l.records) == 0:
		l.cursor = -1
	case idx < l.cursor:
		l.cursor--
	case l.cursor >= len(l.records):
		l.cursor = len(l.records) - 1
	}

	if keepDeleted {
		t := r.Clone()
		t.deleted = true
		l.deleted = append(l.deleted, t)
	}
	return nil
}

// Current returns the record under the cursor.
func (l *List) Current() (*Record, error) {
	if l.cursor < 0 {
		return nil, errs.New(errs.NoData, "list.current", "list is empty")
	}
	return l.records[l.cursor], nil
}

func (l *List) move(op string, to int) (*Record, error) {
	if to < 0 || to >= len(l.records) {
		return nil, errs.New(errs.NoData, op, "no record at position %d", to)
	}
	l.cursor = to
	return l.records[to], nil
}

// First moves the cursor to the first record.
func (l *List) First() (*Record, error) {
	return l.move("list.first", 0)
}

// Last moves the cursor to the last record.
func (l *List) Last() (*Record, error) {
	return l.move("list.last", len(l.records)-1)
}

// Next advances the cursor. The cursor is unchanged on NoData.
func (l *List) Next() (*Record, error) {
	if l.cursor < 0 {
		return nil, errs.New(errs.NoData, "list.next", "list is empty")
	}
	return l.move("list.next", l.cursor+1)
}

// Prev moves the cursor back. The cursor is unchanged on NoData.
func (l *List) Prev() (*Record, error) {
	if l.cursor < 0 {
		return nil, errs.New(errs.NoData, "list.prev", "list is empty")
	}
	return l.move("list.prev", l.cursor-1)
}

// Reverse reverses the live records in place. The cursor follows its record.
func (l *List) Reverse() {
	for i, j := 0, len(l.records)-1; i < j; i, j = i+1, j-1 {
		l.records[i], l.records[j] = l.records[j], l.records[i]
	}
	if l.cursor >= 0 {
		l.cursor = len(l.records) - 1 - l.cursor
	}
}

// Destroy empties the list. With cascade every live record and tombstone
// is destroyed as well.
func (l *List) Destroy(cascade bool) {
	if cascade {
		for _, r := range l.records {
			r.Destroy(true)
		}
		for _, r := range l.deleted {
			r.Destroy(true)
		}
	}
	l.records = nil
	l.deleted = nil
	l.cursor = -1
}
