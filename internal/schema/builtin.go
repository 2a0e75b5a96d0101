package schema

import "sync"

// Built-in view names.
const (
	ViewAddressBook = "address_book"
	ViewGroup       = "group"
	ViewContact     = "contact"
	ViewName        = "name"
	ViewNumber      = "number"
	ViewEmail       = "email"
	ViewPhoneLog    = "phone_log"
)

// Built-in view IDs. Custom views loaded from CUE must use IDs above
// FirstCustomViewID.
const (
	viewIDAddressBook = 1
	viewIDGroup       = 2
	viewIDContact     = 3
	viewIDName        = 4
	viewIDNumber      = 5
	viewIDEmail       = 6
	viewIDPhoneLog    = 7

	FirstCustomViewID = 100
)

// Address book properties.
const (
	AddressBookID PropertyID = viewIDAddressBook<<16 + iota + 1
	AddressBookName
	AddressBookOwner
	AddressBookMode
	AddressBookCreatedVersion
	AddressBookChangedVersion
)

// Group properties.
const (
	GroupID PropertyID = viewIDGroup<<16 + iota + 1
	GroupAddressBookID
	GroupName
	GroupReadOnly
	GroupCreatedVersion
	GroupChangedVersion
)

// Contact properties.
const (
	ContactID PropertyID = viewIDContact<<16 + iota + 1
	ContactAddressBookID
	ContactDisplayName
	ContactNote
	ContactFavorite
	ContactFavoritePriority
	ContactLastUpdated
	ContactName
	ContactNumber
	ContactEmail
	ContactCreatedVersion
	ContactChangedVersion
)

// Name properties.
const (
	NameID PropertyID = viewIDName<<16 + iota + 1
	NameContactID
	NameFirst
	NameLast
)

// Number properties.
const (
	NumberID PropertyID = viewIDNumber<<16 + iota + 1
	NumberContactID
	NumberNumber
	NumberType
	NumberDefault
)

// Email properties.
const (
	EmailID PropertyID = viewIDEmail<<16 + iota + 1
	EmailContactID
	EmailEmail
	EmailType
)

// Phone log properties.
const (
	PhoneLogID PropertyID = viewIDPhoneLog<<16 + iota + 1
	PhoneLogAddress
	PhoneLogType
	PhoneLogTime
	PhoneLogDuration
	PhoneLogCreatedVersion
	PhoneLogChangedVersion
)

// Address book modes.
const (
	// ModeNone places no restriction on writers.
	ModeNone = 0
	// ModeReadOnly restricts writes to the owner and the admin principal.
	ModeReadOnly = 1
)

const (
	fp   = UsageFilterProject
	fpro = UsageFilterProject | UsageReadOnly
)

func versionProps() []PropSpec {
	return []PropSpec{
		{Name: "created_version", Type: TypeInt, Usage: fpro, Column: "created_ver"},
		{Name: "changed_version", Type: TypeInt, Usage: fpro, Column: "changed_ver"},
	}
}

func builtinSpecs() []ViewSpec {
	return []ViewSpec{
		{
			ID: viewIDAddressBook, Name: ViewAddressBook, Table: "address_books", Key: "id", Scope: "id",
			Props: append([]PropSpec{
				{Name: "id", Type: TypeInt, Usage: fpro},
				{Name: "name", Type: TypeString, Usage: fp},
				{Name: "owner", Type: TypeString, Usage: fp},
				{Name: "mode", Type: TypeInt, Usage: fp},
			}, versionProps()...),
		},
		{
			ID: viewIDGroup, Name: ViewGroup, Table: "contact_groups", Key: "id", Scope: "address_book_id",
			Props: append([]PropSpec{
				{Name: "id", Type: TypeInt, Usage: fpro},
				{Name: "address_book_id", Type: TypeInt, Usage: fp},
				{Name: "name", Type: TypeString, Usage: fp, Search: RangeName},
				{Name: "is_read_only", Type: TypeBool, Usage: fp},
			}, versionProps()...),
		},
		{
			ID: viewIDContact, Name: ViewContact, Table: "contacts", Key: "id", Scope: "address_book_id",
			Props: append([]PropSpec{
				{Name: "id", Type: TypeInt, Usage: fpro},
				{Name: "address_book_id", Type: TypeInt, Usage: fp},
				{Name: "display_name", Type: TypeString, Usage: fp, Search: RangeName},
				{Name: "note", Type: TypeString, Usage: fp, Search: RangeData},
				{Name: "is_favorite", Type: TypeBool, Usage: fp},
				{Name: "favorite_priority", Type: TypeDouble, Usage: fp},
				{Name: "last_updated", Type: TypeInt64, Usage: fp},
				{Name: "name", Type: TypeRecord, Child: ViewName},
				{Name: "number", Type: TypeRecord, Child: ViewNumber},
				{Name: "email", Type: TypeRecord, Child: ViewEmail},
			}, versionProps()...),
		},
		{
			ID: viewIDName, Name: ViewName, Table: "names", Key: "id", Parent: "contact_id",
			Props: []PropSpec{
				{Name: "id", Type: TypeInt, Usage: fpro},
				{Name: "contact_id", Type: TypeInt, Usage: fpro},
				{Name: "first", Type: TypeString, Usage: fp, Column: "first_name", Search: RangeName},
				{Name: "last", Type: TypeString, Usage: fp, Column: "last_name", Search: RangeName},
			},
		},
		{
			ID: viewIDNumber, Name: ViewNumber, Table: "numbers", Key: "id", Parent: "contact_id",
			Props: []PropSpec{
				{Name: "id", Type: TypeInt, Usage: fpro},
				{Name: "contact_id", Type: TypeInt, Usage: fpro},
				{Name: "number", Type: TypeString, Usage: fp, Search: RangeNumber},
				{Name: "type", Type: TypeInt, Usage: fp},
				{Name: "is_default", Type: TypeBool, Usage: fp},
			},
		},
		{
			ID: viewIDEmail, Name: ViewEmail, Table: "emails", Key: "id", Parent: "contact_id",
			Props: []PropSpec{
				{Name: "id", Type: TypeInt, Usage: fpro},
				{Name: "contact_id", Type: TypeInt, Usage: fpro},
				{Name: "email", Type: TypeString, Usage: fp, Search: RangeEmail},
				{Name: "type", Type: TypeInt, Usage: fp},
			},
		},
		{
			ID: viewIDPhoneLog, Name: ViewPhoneLog, Table: "phone_logs", Key: "id",
			Props: append([]PropSpec{
				{Name: "id", Type: TypeInt, Usage: fpro},
				{Name: "address", Type: TypeString, Usage: fp, Search: RangeNumber},
				{Name: "log_type", Type: TypeInt, Usage: fp},
				{Name: "log_time", Type: TypeInt64, Usage: fp},
				{Name: "duration", Type: TypeInt, Usage: fp},
			}, versionProps()...),
		},
	}
}

var (
	builtinOnce sync.Once
	builtin     *Registry
)

// Builtin returns the process-wide registry of built-in views.
// It is built once and never mutated.
func Builtin() *Registry {
	builtinOnce.Do(func() {
		specs := builtinSpecs()
		views := make([]*View, len(specs))
		for i, s := range specs {
			views[i] = MustView(s)
		}
		r, err := NewRegistry(views...)
		if err != nil {
			panic(err)
		}
		builtin = r
	})
	return builtin
}
