package codec

import (
	"errors"
	"strconv"
	"strings"
)

// Number of bits used for every character
const BitsPerChar = 8

// Returned when a character cannot be represented in a single byte.
// No bits are produced for a message containing such a character.
type EncodingError struct {
	Index int
	Char  rune
}

func (e *EncodingError) Error() string {
	return "Character " + strconv.QuoteRune(e.Char) + " at index " + strconv.Itoa(e.Index) + " is outside the single byte range"
}

// Encode converts text into a bit string of '0' and '1' characters.
// Every character becomes 8 bits, most significant bit first.
func Encode(text string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(text) * BitsPerChar)

	var i int = 0
	for _, r := range text {
		if r < 0 || r > 0xFF {
			return "", &EncodingError{Index: i, Char: r}
		}
		for j := 0; j < BitsPerChar; j += 1 {
			if 0 != (0x80>>uint(j))&r {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		i += 1
	}
	return sb.String(), nil
}

// DecodeByte interprets exactly 8 bits as the code point of a character.
func DecodeByte(bits string) (rune, error) {
	if len(bits) != BitsPerChar {
		return 0, errors.New("DecodeByte requires exactly 8 bits; found " + strconv.Itoa(len(bits)))
	}
	var r rune = 0
	for j := 0; j < BitsPerChar; j += 1 {
		switch bits[j] {
		case '1':
			r |= 0x80 >> uint(j)
		case '0':
		default:
			return 0, errors.New("Invalid bit " + strconv.QuoteRune(rune(bits[j])) + " at position " + strconv.Itoa(j))
		}
	}
	return r, nil
}

// Decode converts a bit string back into text.
// The length of the bit string must be a multiple of 8.
func Decode(bits string) (string, error) {
	if len(bits)%BitsPerChar != 0 {
		return "", errors.New("Bit string must be a multiple of 8 bits; found " + strconv.Itoa(len(bits)))
	}
	var rs []rune = make([]rune, 0, len(bits)/BitsPerChar)
	for len(bits) > 0 {
		r, err := DecodeByte(bits[:BitsPerChar])
		if err != nil {
			return "", err
		}
		rs = append(rs, r)
		bits = bits[BitsPerChar:]
	}
	return string(rs), nil
}
