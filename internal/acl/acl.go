package acl

// Policy decides who may touch a collection tree. Ownership is the first
// path segment; with Personal set only the owner is let in.
type Policy struct {
	Personal bool
}

// HasRight reports whether user may read and write below owner. The root
// (empty owner) is open to any authenticated user so clients can discover
// their home.
func (p Policy) HasRight(owner, user string) bool {
	if !p.Personal {
		return true
	}
	if user == "" {
		return false
	}
	return owner == "" || owner == user
}
