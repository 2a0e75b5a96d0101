package access

import "strings"

// Capability is a bitset of coarse permissions.
type Capability uint8

const (
	ContactRead Capability = 1 << iota
	ContactWrite
	PhoneLogRead
	PhoneLogWrite
)

// All is every capability.
const All = ContactRead | ContactWrite | PhoneLogRead | PhoneLogWrite

var capabilityNames = []struct {
	c        Capability
	obj, act string
}{
	{ContactRead, "contact", "read"},
	{ContactWrite, "contact", "write"},
	{PhoneLogRead, "phonelog", "read"},
	{PhoneLogWrite, "phonelog", "write"},
}

// Has reports whether every bit of other is set.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	var parts []string
	for _, n := range capabilityNames {
		if c.Has(n.c) {
			parts = append(parts, n.obj+"."+n.act)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseCapability converts a name such as "contact.read" to its bit.
// "all" selects every capability.
func ParseCapability(name string) (Capability, bool) {
	if name == "all" {
		return All, true
	}
	for _, n := range capabilityNames {
		if n.obj+"."+n.act == name {
			return n.c, true
		}
	}
	return 0, false
}
