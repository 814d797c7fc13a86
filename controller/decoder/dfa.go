package decoder

import (
	"strconv"
	"strings"

	"github.com/whispernet/whispernet/controller/codec"
)

// The accepting state. Reaching it emits a character and returns to Start.
const Accept = codec.BitsPerChar

const Start = 0

// StateLabel names a state the way the receiver display shows it
func StateLabel(state int) string {
	switch {
	case state == Start:
		return "START"
	case state == Accept:
		return "ACCEPT"
	case state > Start && state < Accept:
		return "B" + strconv.Itoa(state)
	default:
		return "INVALID"
	}
}

// A deterministic finite automaton over the bits of a stream.
// States are the number of buffered bits. Every eighth bit passes
// through the accepting state, which decodes the buffer into a character.
type Machine struct {
	buffer []byte
	chars  []rune
}

func NewMachine() *Machine {
	return &Machine{buffer: make([]byte, 0, codec.BitsPerChar)}
}

// Step feeds a single bit symbol and returns the state it leads to.
// Symbols other than '0' and '1' leave the machine where it is.
// When the returned state is Accept the character is already decoded
// and the buffer has been cleared.
func (m *Machine) Step(symbol byte) int {
	if symbol != '0' && symbol != '1' {
		return len(m.buffer)
	}
	m.buffer = append(m.buffer, symbol)
	if len(m.buffer) < Accept {
		return len(m.buffer)
	}
	// The buffer only ever holds binary symbols so DecodeByte cannot fail
	r, _ := codec.DecodeByte(string(m.buffer))
	m.chars = append(m.chars, r)
	m.buffer = m.buffer[:0]
	return Accept
}

// State of the machine between steps; it is never Accept
func (m *Machine) State() int {
	return len(m.buffer)
}

func (m *Machine) Buffer() string {
	return string(m.buffer)
}

func (m *Machine) Chars() []rune {
	return append([]rune(nil), m.chars...)
}

// The result of decoding a whole bit stream
type Frame struct {
	// Decoded characters in order, one string per character
	Chars []string
	Text  string
	// Trailing bits that do not yet form a character
	Buffer string
	// Number of buffered bits, equal to len(Buffer)
	State int
	// Distinguishes a stream ending on a byte boundary from an empty one
	BytesDecoded int
}

// Decode runs a fresh machine over the whole stream.
// The same stream always gives the same Frame.
func Decode(bits string) Frame {
	m := NewMachine()
	for i := 0; i < len(bits); i++ {
		m.Step(bits[i])
	}
	runes := m.Chars()
	chars := make([]string, len(runes))
	for i, r := range runes {
		chars[i] = string(r)
	}
	return Frame{
		Chars:        chars,
		Text:         string(runes),
		Buffer:       m.Buffer(),
		State:        m.State(),
		BytesDecoded: len(runes),
	}
}

// Label of the state the frame ends in
func (f Frame) StateLabel() string {
	return StateLabel(f.State)
}

// Trailing bits padded for display, e.g. "010" -> "010_____ (3/8 bits)"
func (f Frame) BufferString() string {
	if f.Buffer == "" {
		return "Empty"
	}
	return f.Buffer + strings.Repeat("_", Accept-len(f.Buffer)) + " (" + strconv.Itoa(len(f.Buffer)) + "/8 bits)"
}
