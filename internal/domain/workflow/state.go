package workflow

// Status is a domain-specific status label. Which labels exist is decided by a
// workflow definition, so there is no global list here.
type Status string

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// statusSet is the set of labels a lattice was declared with
type statusSet map[Status]bool

func newStatusSet(statuses []Status) statusSet {
	set := make(statusSet, len(statuses))
	for _, s := range statuses {
		if s != "" {
			set[s] = true
		}
	}
	return set
}

func (s statusSet) has(status Status) bool {
	return s[status]
}
