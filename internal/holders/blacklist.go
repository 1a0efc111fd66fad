package holders

import "github.com/samber/lo"

// Blacklist is a set of system addresses excluded from holder accounting.
type Blacklist map[string]struct{}

// NewBlacklist builds a Blacklist from raw addresses.
func NewBlacklist(addrs ...string) Blacklist {
	b := make(Blacklist, len(addrs))
	for _, a := range addrs {
		if a = NormalizeAddress(a); a != "" {
			b[a] = struct{}{}
		}
	}
	return b
}

// Contains reports whether addr is blacklisted.
func (b Blacklist) Contains(addr string) bool {
	_, ok := b[NormalizeAddress(addr)]
	return ok
}

// Addresses returns the blacklist in a form usable as an `id_not_in` query variable.
func (b Blacklist) Addresses() []string {
	addrs := lo.Keys(b)
	if addrs == nil {
		// graph endpoints reject null for [ID!]!
		return []string{}
	}
	return addrs
}
