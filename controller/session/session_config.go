package session

import (
	"github.com/whispernet/whispernet/controller/config"
)

type ConfigClient struct {
	VerifyTiming config.BoolParam
}

func GetDefault() ConfigClient {
	return ConfigClient{
		VerifyTiming: config.MakeBool(false, config.Display{Description: "Recover the bits from the observed packet timing as well and report disagreements.", Name: "Verify Timing"}),
	}
}
