package cos

// ScanCorpusID is the byte-level fast path for pulling the first
// "corpusid": <digits> occurrence out of a raw JSON line without paying for
// a full parse. Used by decode in edge mode and by the title-loader's
// primary-key extraction where only the key and the title are needed.
// Returns ok=false if the key is absent or not followed by a bare integer.
func ScanCorpusID(line []byte) (id int64, ok bool) {
	return scanIntKey(line, "corpusid")
}

// ScanIntKey is the general form of ScanCorpusID for other integer-keyed
// datasets (authorid, publicationvenueid via "id", citingcorpusid,
// citedcorpusid).
func ScanIntKey(line []byte, key string) (id int64, ok bool) {
	return scanIntKey(line, key)
}

func scanIntKey(line []byte, key string) (int64, bool) {
	needle := []byte(`"` + key + `"`)
	idx := indexBytes(line, needle)
	if idx < 0 {
		return 0, false
	}
	i := idx + len(needle)
	// skip whitespace and colon
	for i < len(line) && (line[i] == ' ' || line[i] == ':' || line[i] == '\t') {
		i++
	}
	neg := false
	if i < len(line) && line[i] == '-' {
		neg = true
		i++
	}
	start := i
	var v int64
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		v = v*10 + int64(line[i]-'0')
		i++
	}
	if i == start {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

func indexBytes(haystack, needle []byte) int {
	n, m := len(haystack), len(needle)
	if m == 0 || m > n {
		return -1
	}
outer:
	for i := 0; i+m <= n; i++ {
		for j := 0; j < m; j++ {
			hc := haystack[i+j]
			// case-insensitive on the key name per spec §4.2 design note
			if lower(hc) != lower(needle[j]) {
				continue outer
			}
		}
		return i
	}
	return -1
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
