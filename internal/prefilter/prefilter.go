// Package prefilter does the zero-copy byte-pattern scan that decides
// whether a raw transaction blob is worth extracting. It never allocates
// and never parses — just windowed byte comparisons over the regions most
// likely to hold an account key.
package prefilter

import "bytes"

// minTransactionLen rejects anything too small to plausibly carry a target
// identifier in the account-keys region.
const minTransactionLen = 128

// accountsRegionStart/End bound the byte window that holds the account-keys
// list for the overwhelming majority of transactions (empirically ~90%).
const (
	accountsRegionStart = 67
	accountsRegionEnd   = 512
)

// identitySize is the width of a target program identifier.
const identitySize = 32

// voteTransactionSignature is the byte prefix that marks a validator vote
// transaction; these are rejected immediately regardless of content.
var voteTransactionSignature = []byte{0x07, 0x00, 0x00, 0x00}

// Set is a small collection of target 32-byte program identifiers to scan
// for. It is immutable after construction.
type Set struct {
	targets [][]byte
}

// NewSet builds a target Set from a list of 32-byte identifiers. Entries
// that are not exactly 32 bytes are skipped (configuration error, not a
// panic — the caller is expected to validate at config-load time).
func NewSet(targets [][]byte) Set {
	s := Set{targets: make([][]byte, 0, len(targets))}
	for _, t := range targets {
		if len(t) == identitySize {
			s.targets = append(s.targets, t)
		}
	}
	return s
}

// Len reports how many valid target identifiers are loaded.
func (s Set) Len() int {
	return len(s.targets)
}

// isVoteTransaction applies the simple byte-signature check for validator
// vote transactions, which are never trading candidates.
func isVoteTransaction(data []byte) bool {
	return len(data) >= len(voteTransactionSignature) &&
		bytes.Equal(data[:len(voteTransactionSignature)], voteTransactionSignature)
}

// scanWindow reports whether any target identifier appears as a 32-byte
// window anywhere in data[start:end], aligned or not. Early-exits on the
// first match.
func scanWindow(data []byte, start, end int, targets [][]byte) bool {
	if end > len(data) {
		end = len(data)
	}
	if start < 0 {
		start = 0
	}
	regionLen := end - start
	if regionLen < identitySize {
		return false
	}
	region := data[start:end]
	for _, t := range targets {
		if bytes.Contains(region, t) {
			return true
		}
	}
	return false
}

// Matches implements the regional-scan algorithm: reject
// anything under minTransactionLen or that looks like a vote transaction,
// then scan the account-keys region [67,512) first and only fall back to
// the rest of the blob if nothing was found there. The fallback windows
// overlap the region by identitySize-1 bytes ([0,98) and [481,len)), so
// this never produces a false negative relative to a full linear scan —
// a target straddling the 67 or 512 boundary lies wholly inside one of
// the fallback windows.
func Matches(data []byte, targets Set) bool {
	if len(data) < minTransactionLen {
		return false
	}
	if isVoteTransaction(data) {
		return false
	}
	if targets.Len() == 0 {
		return false
	}

	if scanWindow(data, accountsRegionStart, accountsRegionEnd, targets.targets) {
		return true
	}

	// Head fallback extends one identitySize-1 bytes into the primary region
	// so a target starting just before accountsRegionStart (e.g. offset 40 in
	// a 256-byte blob) that straddles byte 67 is still caught even though the
	// primary scan above already covers the region from 67 onward.
	if scanWindow(data, 0, accountsRegionStart+identitySize-1, targets.targets) {
		return true
	}
	// Tail fallback starts identitySize-1 bytes before accountsRegionEnd so a
	// target whose first byte lands anywhere in [481,511] (straddling 512)
	// is still caught even though the primary scan above already covers
	// it — this overlap is required so a match straddling the boundary is never missed.
	if scanWindow(data, accountsRegionEnd-identitySize+1, len(data), targets.targets) {
		return true
	}
	return false
}
