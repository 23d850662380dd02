// Package security is the post-extraction gate between C4 (extraction) and
// C5 (analytics): a candidate's mint and account keys are checked against a
// denylist of known-bad program/mint identifiers (rugged mints, honeypot
// program ids reported by operators) before the candidate is allowed to
// continue toward classification and handoff. Membership is an exact
// 32-byte match, unlike prefilter.Set's substring scan over raw bytes,
// since by this stage the keys are already parsed fixed-width identifiers.
package security

import "github.com/rawblock/sol-sniffer/pkg/candidate"

// Denylist is an immutable set of blocked mint/account identifiers.
type Denylist struct {
	blocked map[candidate.Identity]struct{}
}

// NewDenylist builds a Denylist from a list of 32-byte identifiers.
func NewDenylist(blocked []candidate.Identity) Denylist {
	d := Denylist{blocked: make(map[candidate.Identity]struct{}, len(blocked))}
	for _, id := range blocked {
		d.blocked[id] = struct{}{}
	}
	return d
}

// Len reports how many identifiers are loaded.
func (d Denylist) Len() int {
	return len(d.blocked)
}

// blocks reports whether id is on the denylist.
func (d Denylist) blocks(id candidate.Identity) bool {
	_, ok := d.blocked[id]
	return ok
}

// Check reports whether c is clear to proceed: false if its mint or any of
// its account keys appears on the denylist. An empty Denylist never
// rejects anything, matching prefilter.Set's "no targets configured"
// no-op behavior.
func Check(c *candidate.Candidate, d Denylist) bool {
	if d.Len() == 0 {
		return true
	}
	if d.blocks(c.Mint) {
		return false
	}
	for _, acc := range c.AccountList() {
		if d.blocks(acc) {
			return false
		}
	}
	return true
}
