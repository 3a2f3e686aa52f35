package main

import (
	"github.com/2ndtlmining/fluxrevenue/logger"
	"github.com/2ndtlmining/fluxrevenue/util/panics"
	"github.com/btcsuite/btclog"
)

var log btclog.Logger
var spawn func(func())

func init() {
	log, _ = logger.Get(logger.SubsystemTags.MAIN)
	spawn = panics.GoroutineWrapperFunc(log)
}
