package store

import (
	"github.com/2ndtlmining/fluxrevenue/logger"
	"github.com/btcsuite/btclog"
)

var log btclog.Logger

func init() {
	log, _ = logger.Get(logger.SubsystemTags.STOR)
}
