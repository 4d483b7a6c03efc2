package models

import "slices"

// Machine lists the permitted target statuses for each source status.
type Machine map[string][]string

func (m Machine) Can(from, to string) bool {
	return slices.Contains(m[from], to)
}

// Terminal reports whether no transition leaves the status.
func (m Machine) Terminal(status string) bool {
	return len(m[status]) == 0
}
