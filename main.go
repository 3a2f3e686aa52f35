package main

import (
	"fmt"

	"github.com/2ndtlmining/fluxrevenue/aggregator"
	"github.com/2ndtlmining/fluxrevenue/chainclient"
	"github.com/2ndtlmining/fluxrevenue/config"
	"github.com/2ndtlmining/fluxrevenue/controllers"
	"github.com/2ndtlmining/fluxrevenue/database"
	"github.com/2ndtlmining/fluxrevenue/logger"
	"github.com/2ndtlmining/fluxrevenue/netstats"
	"github.com/2ndtlmining/fluxrevenue/server"
	"github.com/2ndtlmining/fluxrevenue/signal"
	"github.com/2ndtlmining/fluxrevenue/store"
	"github.com/2ndtlmining/fluxrevenue/syncd"
	"github.com/2ndtlmining/fluxrevenue/util/panics"
)

func main() {
	defer panics.HandlePanic(log, nil)

	cfg, err := config.Parse()
	if err != nil {
		panic(fmt.Errorf("Error parsing command-line arguments: %s", err))
	}

	logger.InitLogRotator(cfg.LogFile())
	err = logger.ParseAndSetDebugLevels(cfg.DebugLevel)
	if err != nil {
		panic(fmt.Errorf("Error setting debug levels: %s", err))
	}

	if len(cfg.Addresses) == 0 {
		log.Warnf("No watched addresses configured; blocks will be indexed without payments")
	}

	err = database.Connect(cfg)
	if err != nil {
		panic(fmt.Errorf("Error connecting to database: %s", err))
	}
	defer func() {
		err := database.Close()
		if err != nil {
			panic(fmt.Errorf("Error closing the database: %s", err))
		}
	}()

	db, err := database.DB()
	if err != nil {
		panic(err)
	}
	revenueStore := store.New(db)

	client, err := chainclient.New(cfg)
	if err != nil {
		panic(fmt.Errorf("Error creating chain client: %s", err))
	}
	defer client.Close()

	engine := syncd.New(cfg, client, revenueStore)
	agg := aggregator.New(cfg, revenueStore)

	if !cfg.DisableServer {
		controllers.Init(engine, agg, client, revenueStore)
		shutdownServer := server.Start(cfg.HTTPListen)
		defer shutdownServer()
	}

	syncDoneChan := make(chan struct{}, 1)
	spawn(func() {
		err := engine.Start(syncDoneChan)
		if err != nil {
			panic(err)
		}
	})

	statsDoneChan := make(chan struct{}, 1)
	if !cfg.DisableNetStats {
		collector := netstats.New(cfg, client, revenueStore)
		spawn(func() {
			collector.Start(statsDoneChan)
		})
	}

	interrupt := signal.InterruptListener()
	<-interrupt

	// Gracefully stop the background loops.
	syncDoneChan <- struct{}{}
	if !cfg.DisableNetStats {
		statsDoneChan <- struct{}{}
	}
}
