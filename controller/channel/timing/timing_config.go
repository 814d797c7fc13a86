package timing

import (
	"errors"
	"time"

	"github.com/whispernet/whispernet/controller/config"
)

type ConfigClient struct {
	ShortDelay config.U64Param
	LongDelay  config.U64Param
}

func GetDefault() ConfigClient {
	return ConfigClient{
		ShortDelay: config.MakeU64(100, config.DelayRange, config.Display{Description: "The delay in milliseconds that encodes a 0 bit.", Name: "Short Delay (0)"}),
		LongDelay:  config.MakeU64(300, config.DelayRange, config.Display{Description: "The delay in milliseconds that encodes a 1 bit.", Name: "Long Delay (1)"}),
	}
}

// Build the client config from delays given in milliseconds
func FromDelays(shortMS, longMS uint64) ConfigClient {
	cc := GetDefault()
	cc.ShortDelay.Value = shortMS
	cc.LongDelay.Value = longMS
	return cc
}

func ToChannel(cc ConfigClient, clock Clock) (*Channel, error) {
	if err := config.Validate(cc); err != nil {
		return nil, errors.New("Invalid timing config: " + err.Error())
	}
	return MakeChannel(Config{
		ShortDelay: time.Duration(cc.ShortDelay.Value) * time.Millisecond,
		LongDelay:  time.Duration(cc.LongDelay.Value) * time.Millisecond,
		Clock:      clock,
	})
}
