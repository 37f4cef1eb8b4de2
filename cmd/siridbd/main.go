// Command siridbd is the storage-core daemon entrypoint: it loads one
// database directory and keeps it open for the (external, out-of-scope)
// RPC/query layer to drive. Grounded on memcp's root main.go
// (flag parsing + storage.LoadDatabases() + serve-loop shape), deliberately
// thin since CLI/signal plumbing and the query grammar are explicit
// out-of-scope collaborators (spec.md §1).
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/siridb/siridbd/internal/config"
	"github.com/siridb/siridbd/internal/log"
	"github.com/siridb/siridbd/internal/persist"
	"github.com/siridb/siridbd/internal/siridb"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "database data directory")
	dbName := flag.String("db", "default", "database name")
	backend := flag.String("backend", "file", "persistence backend: file")
	pretty := flag.Bool("pretty-log", true, "write human-readable console logs instead of JSON")
	flag.Parse()

	logger := log.New(os.Stderr, *pretty)

	if *backend != "file" {
		if _, ok := persist.BackendRegistry[*backend]; !ok {
			logger.Error().Str("backend", *backend).Msg("unknown persistence backend")
			os.Exit(1)
		}
		logger.Warn().Str("backend", *backend).
			Msg("backend requires connection config not exposed on this CLI yet, falling back to file")
	}

	eng := (&persist.FileFactory{BaseDir: *dataDir}).CreateDatabase(*dbName)
	cfg := config.Default(*dataDir + "/" + *dbName)
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		logger.Error().Err(err).Msg("could not create data directory")
		os.Exit(1)
	}

	db, err := siridb.Open(*dbName, cfg, eng, logger)
	if err != nil {
		logger.Error().Err(err).Str("db", *dbName).Msg("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	logger.Info().Str("db", *dbName).Str("dir", cfg.DataDir).Msg("database ready")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")
}
