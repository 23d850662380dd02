package extractor

import (
	"errors"
	"testing"

	"github.com/rawblock/sol-sniffer/pkg/candidate"
)

func blobWithKeys(mint []byte, accounts [][]byte, total int) []byte {
	data := make([]byte, total)
	copy(data[mintOffsetStart:mintOffsetEnd], mint)
	offset := accountsStart
	for _, a := range accounts {
		copy(data[offset:offset+candidate.IdentitySize], a)
		offset += candidate.IdentitySize
	}
	return data
}

func nonZeroKey(b byte) []byte {
	k := make([]byte, candidate.IdentitySize)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestExtractHotPathHappyPath(t *testing.T) {
	data := blobWithKeys(nonZeroKey(1), [][]byte{nonZeroKey(2), nonZeroKey(3)}, 256)
	c, err := Extract(data, Options{Mode: ModeHotPath, SafeOffsets: true}, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.NumAccts != 2 {
		t.Fatalf("NumAccts = %d, want 2", c.NumAccts)
	}
	if c.TraceID != 42 {
		t.Fatalf("TraceID = %d, want 42", c.TraceID)
	}
}

func TestExtractTooSmall(t *testing.T) {
	data := make([]byte, 50)
	_, err := Extract(data, Options{Mode: ModeHotPath}, 1)
	if !errors.Is(err, ErrTooSmall) {
		t.Fatalf("err = %v, want ErrTooSmall", err)
	}
}

func TestExtractNoRoomForAccountsIsOutOfBounds(t *testing.T) {
	// 96 bytes is exactly enough for the mint and leaves no room for even
	// one 32-byte account window.
	data := blobWithKeys(nonZeroKey(1), nil, 96)
	_, err := Extract(data, Options{Mode: ModeHotPath}, 1)
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("err = %v, want ErrOutOfBounds", err)
	}
}

func TestExtractSafeOffsetsFilteringAllAccountsIsInvalid(t *testing.T) {
	// Room exists for two account windows but both are the zero identity,
	// so SafeOffsets filters every candidate account out.
	data := blobWithKeys(nonZeroKey(1), [][]byte{make([]byte, candidate.IdentitySize), make([]byte, candidate.IdentitySize)}, 160)
	_, err := Extract(data, Options{Mode: ModeHotPath, SafeOffsets: true}, 1)
	if !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("err = %v, want ErrInvalidAccount", err)
	}
}

func TestExtractSafeOffsetsRejectsZeroMint(t *testing.T) {
	data := blobWithKeys(make([]byte, candidate.IdentitySize), [][]byte{nonZeroKey(2)}, 256)
	_, err := Extract(data, Options{Mode: ModeHotPath, SafeOffsets: true}, 1)
	if !errors.Is(err, ErrInvalidMint) {
		t.Fatalf("err = %v, want ErrInvalidMint", err)
	}
}

func TestExtractSafeOffsetsSkipsZeroAccounts(t *testing.T) {
	data := blobWithKeys(nonZeroKey(1), [][]byte{make([]byte, candidate.IdentitySize), nonZeroKey(2)}, 256)
	c, err := Extract(data, Options{Mode: ModeHotPath, SafeOffsets: true}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.NumAccts != 1 {
		t.Fatalf("NumAccts = %d, want 1 (zero account skipped)", c.NumAccts)
	}
}

func TestExtractCapsAtEightAccounts(t *testing.T) {
	accs := make([][]byte, 10)
	for i := range accs {
		accs[i] = nonZeroKey(byte(i + 1))
	}
	data := blobWithKeys(nonZeroKey(1), accs, 96+10*32)
	c, err := Extract(data, Options{Mode: ModeHotPath}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.NumAccts != candidate.MaxAccounts {
		t.Fatalf("NumAccts = %d, want %d", c.NumAccts, candidate.MaxAccounts)
	}
}

type stubDeserializer struct {
	tx  DeserializedTx
	err error
}

func (s stubDeserializer) Deserialize(data []byte) (DeserializedTx, error) {
	return s.tx, s.err
}

func TestExtractStrictModeHappyPath(t *testing.T) {
	mint := candidate.Identity{}
	copy(mint[:], nonZeroKey(1))
	acc := candidate.Identity{}
	copy(acc[:], nonZeroKey(2))

	SetStrictDeserializer(stubDeserializer{tx: DeserializedTx{AccountKeys: []candidate.Identity{mint, acc}}})
	defer SetStrictDeserializer(nil)

	data := make([]byte, 128)
	c, err := Extract(data, Options{Mode: ModeStrict}, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mint != mint {
		t.Fatalf("Mint mismatch")
	}
}

func TestExtractStrictModeNoDeserializerConfigured(t *testing.T) {
	SetStrictDeserializer(nil)
	data := make([]byte, 128)
	_, err := Extract(data, Options{Mode: ModeStrict}, 1)
	if !errors.Is(err, ErrDeserializationFailed) {
		t.Fatalf("err = %v, want ErrDeserializationFailed", err)
	}
}
