package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const gracefulShutdownTimeout = 30 * time.Second

// Start starts the HTTP server and returns a function to gracefully shut it
// down.
func Start(listenAddr string) func() {
	router := mux.NewRouter()
	addRoutes(router)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}
	spawn(func() {
		log.Infof("HTTP server listening on %s", listenAddr)
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server stopped: %s", err)
		}
	})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(ctx)
		if err != nil {
			log.Errorf("Error shutting down HTTP server: %s", err)
		}
	}
}
