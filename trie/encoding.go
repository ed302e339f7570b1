package trie

// Keys are handled in three forms:
//
// KEYBYTES is the raw key as supplied by callers.
//
// HEX holds one nibble per byte plus an optional terminator nibble (16)
// marking that the key ends at a value. Nodes in memory use this form.
//
// COMPACT is the hex-prefix form stored in short-node records: the first
// byte carries flags for terminator and odd length, followed by packed
// nibbles.

const terminator = 16

func keybytesToHex(str []byte) []byte {
	l := len(str)*2 + 1
	nibbles := make([]byte, l)
	for i, b := range str {
		nibbles[i*2] = b / 16
		nibbles[i*2+1] = b % 16
	}
	nibbles[l-1] = terminator
	return nibbles
}

// hexToKeybytes turns hex nibbles into key bytes. It only works for keys of
// even length once the terminator is removed.
func hexToKeybytes(hex []byte) []byte {
	if hasTerm(hex) {
		hex = hex[:len(hex)-1]
	}
	if len(hex)&1 != 0 {
		panic("can't convert hex key of odd length")
	}
	key := make([]byte, len(hex)/2)
	decodeNibbles(hex, key)
	return key
}

func hexToCompact(hex []byte) []byte {
	flag := byte(0)
	if hasTerm(hex) {
		flag = 1
		hex = hex[:len(hex)-1]
	}
	buf := make([]byte, len(hex)/2+1)
	buf[0] = flag << 5
	if len(hex)&1 == 1 {
		buf[0] |= 1 << 4
		buf[0] |= hex[0]
		hex = hex[1:]
	}
	decodeNibbles(hex, buf[1:])
	return buf
}

func compactToHex(compact []byte) []byte {
	if len(compact) == 0 {
		return compact
	}
	base := keybytesToHex(compact)
	// drop the terminator unless the flag says the key ends at a value
	if base[0] < 2 {
		base = base[:len(base)-1]
	}
	// skip the flag nibble, and the padding nibble for even lengths
	chop := 2 - base[0]&1
	return base[chop:]
}

func decodeNibbles(nibbles []byte, bytes []byte) {
	for bi, ni := 0, 0; ni < len(nibbles); bi, ni = bi+1, ni+2 {
		bytes[bi] = nibbles[ni]<<4 | nibbles[ni+1]
	}
}

// prefixLen returns the length of the common prefix of a and b.
func prefixLen(a, b []byte) int {
	i, length := 0, len(a)
	if len(b) < length {
		length = len(b)
	}
	for ; i < length; i++ {
		if a[i] != b[i] {
			break
		}
	}
	return i
}

func hasTerm(s []byte) bool {
	return len(s) > 0 && s[len(s)-1] == terminator
}

func concat(s1 []byte, s2 ...byte) []byte {
	r := make([]byte, len(s1)+len(s2))
	copy(r, s1)
	copy(r[len(s1):], s2)
	return r
}
