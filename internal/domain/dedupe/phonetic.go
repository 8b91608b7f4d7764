package dedupe

import "strings"

// Encoder maps a name to a phonetic key. Names with equal keys are treated
// as sounding alike.
type Encoder interface {
	Encode(name string) string
}

// Soundex is the American Soundex encoder. The zero value is ready to use.
type Soundex struct{}

var soundexClass = [26]byte{
	'0', '1', '2', '3', '0', '1', '2', '0', '0', '2', '2', '4', '5',
	'5', '0', '1', '2', '6', '2', '3', '0', '1', '0', '2', '0', '2',
}

// Encode returns the four character Soundex code of name, or "" when name
// holds no ASCII letters.
func (Soundex) Encode(name string) string {
	var code [4]byte
	n := 0
	var prev byte
	for i := 0; i < len(name) && n < 4; i++ {
		c := name[i] | 0x20
		if c < 'a' || c > 'z' {
			continue
		}
		class := soundexClass[c-'a']
		if n == 0 {
			code[0] = c &^ 0x20
			n = 1
			prev = class
			continue
		}
		switch {
		case c == 'h' || c == 'w':
			// h and w do not separate letters of the same class
		case class == '0':
			prev = 0
		case class != prev:
			code[n] = class
			n++
			prev = class
		}
	}
	if n == 0 {
		return ""
	}
	for ; n < 4; n++ {
		code[n] = '0'
	}
	return string(code[:])
}

// EncodeName encodes given and family names of a person.
func EncodeName(enc Encoder, given, family string) (string, string) {
	return enc.Encode(strings.TrimSpace(given)), enc.Encode(strings.TrimSpace(family))
}
