package prefilter

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func target() []byte {
	t := make([]byte, identitySize)
	for i := range t {
		t[i] = byte(i + 1)
	}
	return t
}

func randomBlob(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func TestRejectsShortBlobs(t *testing.T) {
	set := NewSet([][]byte{target()})
	data := make([]byte, minTransactionLen-1)
	if Matches(data, set) {
		t.Fatal("blob shorter than 128 bytes should never match")
	}
}

func TestRejectsVoteTransaction(t *testing.T) {
	set := NewSet([][]byte{target()})
	data := randomBlob(256)
	copy(data, voteTransactionSignature)
	copy(data[100:], target())
	if Matches(data, set) {
		t.Fatal("vote transaction should be rejected regardless of content")
	}
}

func TestMatchesInAccountsRegion(t *testing.T) {
	set := NewSet([][]byte{target()})
	data := randomBlob(256)
	data[0] = 0xAA // avoid accidental vote signature
	copy(data[100:], target())
	if !Matches(data, set) {
		t.Fatal("expected match inside [67,512) region")
	}
}

func TestMatchesInFallbackHeadRegion(t *testing.T) {
	set := NewSet([][]byte{target()})
	data := randomBlob(256)
	data[0] = 0xAA
	copy(data[10:], target())
	if !Matches(data, set) {
		t.Fatal("expected match inside [0,67) fallback region")
	}
}

func TestMatchesInFallbackTailRegion(t *testing.T) {
	set := NewSet([][]byte{target()})
	data := randomBlob(600)
	data[0] = 0xAA
	copy(data[550:], target())
	if !Matches(data, set) {
		t.Fatal("expected match inside [512,len) fallback region")
	}
}

func TestMatchesStraddlingBoundary(t *testing.T) {
	set := NewSet([][]byte{target()})
	data := randomBlob(600)
	data[0] = 0xAA
	// Target starts at 500, so it spans bytes [500,532) straddling 511/512.
	copy(data[500:], target())
	if !Matches(data, set) {
		t.Fatal("target straddling byte 511/512 must still be detected")
	}
}

func TestMatchesStraddlingLowerBoundary(t *testing.T) {
	set := NewSet([][]byte{target()})
	data := randomBlob(256)
	data[0] = 0xAA
	// Target starts at 40, so it spans bytes [40,72) straddling byte 67:
	// neither [0,67) nor [67,512) alone contains the full 32-byte window.
	copy(data[40:], target())
	if !Matches(data, set) {
		t.Fatal("target straddling byte 67 must still be detected")
	}
}

func TestPositionIndependence(t *testing.T) {
	set := NewSet([][]byte{target()})
	base := randomBlob(700)
	base[0] = 0xAA

	positions := []int{10, 40, 67, 200, 511, 512, 600}
	for _, pos := range positions {
		data := make([]byte, len(base))
		copy(data, base)
		copy(data[pos:], target())
		if !Matches(data, set) {
			t.Fatalf("expected match with target at position %d", pos)
		}
	}
}

func TestNoFalsePositiveOnRandomData(t *testing.T) {
	set := NewSet([][]byte{target()})
	for i := 0; i < 20; i++ {
		data := randomBlob(256)
		data[0] = 0xAA
		if bytes.Contains(data, target()) {
			continue // astronomically unlikely, but skip if it happens
		}
		if Matches(data, set) {
			t.Fatal("random data should not match target identifier")
		}
	}
}

func TestNewSetSkipsWrongSizedEntries(t *testing.T) {
	set := NewSet([][]byte{{1, 2, 3}, target()})
	if set.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (malformed entries skipped)", set.Len())
	}
}
