// Package shardid implements BigMap's opaque shard handle and its
// human-readable display form (spec.md §6.2): a CRC32-framed, base32
// encoded, dash-grouped string, in the style of the Internet Computer's
// canister/principal textual representation that the original
// dfinity/bigmap-poc canister platform used.
package shardid

import (
	"encoding/base32"
	"fmt"
	"hash/crc32"
	"strings"
)

// ID is a stable, opaque platform identifier for a shard. Its byte contents
// are meaningless to BigMap's core; only Fabric implementations interpret
// them.
type ID []byte

// checksumEncoding is the unpadded lowercase RFC4648 base32 alphabet used
// for ShardId's textual form.
var checksumEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// String renders id as base32(crc32_be(id) ++ id), lowercased, grouped into
// dash-separated blocks of 5 characters, per spec.md §6.2.
func (id ID) String() string {
	sum := crc32.ChecksumIEEE(id)
	buf := make([]byte, 4+len(id))
	buf[0] = byte(sum >> 24)
	buf[1] = byte(sum >> 16)
	buf[2] = byte(sum >> 8)
	buf[3] = byte(sum)
	copy(buf[4:], id)

	encoded := strings.ToLower(checksumEncoding.EncodeToString(buf))
	return groupBy5(encoded)
}

func groupBy5(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i += 5 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 5
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}

// Parse reverses String, verifying the embedded CRC32 checksum. It returns
// an error if the string is not valid base32 once dashes are stripped, if it
// is shorter than the 4-byte checksum prefix, or if the checksum does not
// match.
func Parse(s string) (ID, error) {
	stripped := strings.ReplaceAll(s, "-", "")
	raw, err := checksumEncoding.DecodeString(strings.ToUpper(stripped))
	if err != nil {
		return nil, fmt.Errorf("shardid: invalid base32 encoding: %w", err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("shardid: %q too short to contain a checksum", s)
	}

	want := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	body := raw[4:]
	got := crc32.ChecksumIEEE(body)
	if got != want {
		return nil, fmt.Errorf("shardid: checksum mismatch for %q: got %08x, want %08x", s, got, want)
	}
	return ID(body), nil
}
