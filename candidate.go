package devlink

import "strings"

// Candidate is one serial endpoint reported by an Enumerator.
type Candidate struct {
	Path         string
	Descriptor   string // manufacturer/product text, may be empty
	VendorID     string
	ProductID    string
	SerialNumber string
}

// Selector decides which candidate a Manager connects to.
type Selector struct {
	// Signature is matched case-insensitively against the descriptor.
	Signature string
	// Pin, if set, restricts the match to the candidate with this path.
	Pin string
}

// Matches reports whether c carries the selector's signature.
func (s Selector) Matches(c Candidate) bool {
	if c.Descriptor == "" {
		return false
	}
	return strings.Contains(strings.ToLower(c.Descriptor), strings.ToLower(s.Signature))
}

// Select returns the first candidate matching sel, in enumeration order.
// With a pin only the candidate at that path is accepted, even if
// others match the signature.
func Select(candidates []Candidate, sel Selector) (Candidate, bool) {
	for _, c := range candidates {
		if !sel.Matches(c) {
			continue
		}
		if sel.Pin != "" && c.Path != sel.Pin {
			continue
		}
		return c, true
	}
	return Candidate{}, false
}
