package cos

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/OneOfOne/xxhash"
)

// RandHex8 returns a random 8-character hex tag, used for output shard
// filenames (spec §4.7). Collisions are rejected by the caller checking the
// output directory, not by this generator.
func RandHex8() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// EdgeKey packs a citing/cited corpusid pair into a single uint64 digest,
// used by the citation graph builder's in-run cuckoo filter to approximate
// "have we already queued this exact edge in this ingest" before it reaches
// COPY (see graph package).
func EdgeKey(citing, cited int64) uint64 {
	var buf [16]byte
	putInt64(buf[0:8], citing)
	putInt64(buf[8:16], cited)
	return xxhash.Checksum64(buf[:])
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}
