package embedders

import (
	"errors"
	"time"
)

// Maps a bit onto one of two delays and back.
// Short is used for 0 and Long for 1. When reading,
// the midpoint between both delays splits the two symbols.
type DelayEmbedder struct {
	Short time.Duration
	Long  time.Duration
}

func (de *DelayEmbedder) Midpoint() time.Duration {
	return de.Short + (de.Long-de.Short)/2
}

// Whether the two delays can be told apart by timing alone
func (de *DelayEmbedder) Distinguishable() bool {
	return de.Short != de.Long
}

func (de *DelayEmbedder) SetBit(b byte) (time.Duration, error) {
	switch b {
	case 0:
		return de.Short, nil
	case 1:
		return de.Long, nil
	default:
		return 0, errors.New("Bit must be 0 or 1")
	}
}

func (de *DelayEmbedder) GetBit(t time.Duration) (byte, error) {
	if !de.Distinguishable() {
		return 0, errors.New("Short and long delays are equal")
	}
	mid := de.Midpoint()
	// The long delay may be configured below the short one
	if (t > mid) == (de.Long > de.Short) {
		return 1, nil
	} else {
		return 0, nil
	}
}
