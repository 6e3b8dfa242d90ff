// Package server assembles the plugin runtime daemon.
//
// This package orchestrates all components:
//   - Host environment (in-memory guest for the demo daemon)
//   - Pipeline registry and plugin construction from the topology
//   - Per-device migration controllers
//   - Admin HTTP surface (health, plugins, migration control, metrics,
//     viewer stream)
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Build the plugin chain from the topology file
//  4. Start the pipeline (plugin init, bottom-up)
//  5. Mark migration controllers ready
//  6. Serve the admin surface
//  7. Graceful shutdown on signal: admin first, then the chain top-down
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
