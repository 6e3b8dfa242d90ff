package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/vmio/internal/config"
	"github.com/GriffinCanCode/vmio/internal/server"
)

func main() {
	// Flags override environment for development convenience.
	port := flag.String("port", "", "Admin server port")
	topology := flag.String("topology", "", "Pipeline topology YAML file")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Admin.Port = *port
	}
	if *topology != "" {
		cfg.TopologyPath = *topology
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
