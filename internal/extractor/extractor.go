// Package extractor derives a Candidate from prefiltered transaction bytes.
// Two modes are supported: hot-path offset-based extraction (the default)
// and a strict mode that defers to a full deserializer. Errors are tagged
// variants, never panics, and the hot path never allocates a new structured
// error type — extraction failures reuse a small set of sentinel values.
package extractor

import (
	"errors"

	"github.com/rawblock/sol-sniffer/pkg/candidate"
)

// Error taxonomy for extraction failures. Compare with errors.Is.
var (
	ErrTooSmall              = errors.New("extractor: blob too small")
	ErrOutOfBounds           = errors.New("extractor: account window out of bounds")
	ErrInvalidMint           = errors.New("extractor: invalid mint identifier")
	ErrInvalidAccount        = errors.New("extractor: invalid account identifier")
	ErrDeserializationFailed = errors.New("extractor: deserialization failed")
)

const (
	mintOffsetStart = 64
	mintOffsetEnd   = 96
	accountsStart   = 96
)

// Mode selects between hot-path offset extraction and strict deserialization.
type Mode int

const (
	ModeHotPath Mode = iota
	ModeStrict
)

// Options configures a single Extract call.
type Options struct {
	Mode Mode
	// SafeOffsets, when true, rejects any extracted key equal to the
	// default-zero identifier (mint or account).
	SafeOffsets bool
}

// Extract derives a Candidate from raw transaction bytes per the configured
// mode. traceID is supplied by the caller; the returned Candidate's
// PriceHint is 0 since extraction precedes classification (the integration
// loop fills it in from the analytics stage afterwards).
func Extract(data []byte, opts Options, traceID uint64) (candidate.Candidate, error) {
	switch opts.Mode {
	case ModeStrict:
		return extractStrict(data, opts, traceID)
	default:
		return extractHotPath(data, opts, traceID)
	}
}

func toIdentity(b []byte) candidate.Identity {
	var id candidate.Identity
	copy(id[:], b)
	return id
}

func extractHotPath(data []byte, opts Options, traceID uint64) (candidate.Candidate, error) {
	if len(data) < mintOffsetEnd {
		return candidate.Candidate{}, ErrTooSmall
	}

	mint := toIdentity(data[mintOffsetStart:mintOffsetEnd])
	if opts.SafeOffsets && mint.IsZero() {
		return candidate.Candidate{}, ErrInvalidMint
	}

	if len(data) < accountsStart+candidate.IdentitySize {
		return candidate.Candidate{}, ErrOutOfBounds
	}

	accounts := make([]candidate.Identity, 0, candidate.MaxAccounts)
	offset := accountsStart
	for len(accounts) < candidate.MaxAccounts {
		end := offset + candidate.IdentitySize
		if end > len(data) {
			break
		}
		acc := toIdentity(data[offset:end])
		if opts.SafeOffsets && acc.IsZero() {
			offset = end
			continue
		}
		accounts = append(accounts, acc)
		offset = end
	}

	if len(accounts) == 0 {
		return candidate.Candidate{}, ErrInvalidAccount
	}
	if len(accounts) > candidate.MaxAccounts {
		return candidate.Candidate{}, ErrInvalidAccount
	}

	c, ok := candidate.NewCandidate(mint, accounts, 0, traceID)
	if !ok {
		if mint.IsZero() {
			return candidate.Candidate{}, ErrInvalidMint
		}
		return candidate.Candidate{}, ErrInvalidAccount
	}
	return c, nil
}

// DeserializedTx is the minimal shape a full transaction deserializer would
// hand back in strict mode. The actual deserializer is an external
// collaborator outside this package's scope; this is the interface extractor.go consumes.
type DeserializedTx struct {
	AccountKeys []candidate.Identity
}

// Deserializer is implemented by the (external) full transaction parser
// used in strict mode.
type Deserializer interface {
	Deserialize(data []byte) (DeserializedTx, error)
}

var strictDeserializer Deserializer

// SetStrictDeserializer installs the deserializer used by ModeStrict. Only
// the package tests call it; the field defaults to nil, in which case
// ModeStrict always fails with ErrDeserializationFailed.
func SetStrictDeserializer(d Deserializer) {
	strictDeserializer = d
}

func extractStrict(data []byte, opts Options, traceID uint64) (candidate.Candidate, error) {
	if len(data) < mintOffsetEnd {
		return candidate.Candidate{}, ErrTooSmall
	}
	if strictDeserializer == nil {
		return candidate.Candidate{}, ErrDeserializationFailed
	}
	tx, err := strictDeserializer.Deserialize(data)
	if err != nil {
		return candidate.Candidate{}, ErrDeserializationFailed
	}

	var nonZero []candidate.Identity
	for _, k := range tx.AccountKeys {
		if !k.IsZero() {
			nonZero = append(nonZero, k)
		}
	}
	if len(nonZero) == 0 {
		return candidate.Candidate{}, ErrInvalidMint
	}

	mint := nonZero[0]
	rest := nonZero[1:]
	if len(rest) == 0 {
		return candidate.Candidate{}, ErrInvalidAccount
	}
	if len(rest) > candidate.MaxAccounts {
		rest = rest[:candidate.MaxAccounts]
	}

	c, ok := candidate.NewCandidate(mint, rest, 0, traceID)
	if !ok {
		return candidate.Candidate{}, ErrInvalidAccount
	}
	return c, nil
}
