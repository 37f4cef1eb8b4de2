// Package log provides structured daemon logging for siridbd. memcp, an
// embedded interpreter, marks mutating operations with inline
// fmt.Println/Printf calls (storage/database.go "rebuilding table ...",
// storage/index.go "building index on ..."); this repo runs as a long-lived
// server (cmd/siridbd) instead, so the same "log at the point a mutation
// happens" idiom is promoted to github.com/rs/zerolog's structured,
// leveled logging (SPEC_FULL.md §10.1).
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the field names this repo's call
// sites use consistently: db, series, shard, pool, server.
type Logger struct {
	zerolog.Logger
}

// New returns a Logger writing leveled, timestamped JSON to w, or human
// readable console output when pretty is true (whether or not w is a
// terminal).
func New(w io.Writer, pretty bool) Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return Logger{zerolog.New(w).With().Timestamp().Logger()}
}

// Default returns a Logger writing pretty console output to stderr, the
// shape cmd/siridbd uses unless a config overrides it.
func Default() Logger {
	return New(os.Stderr, true)
}

// WithDB returns a child logger scoped to one database name, the field
// every series/shard/pool log line in this repo carries.
func (l Logger) WithDB(name string) Logger {
	return Logger{l.Logger.With().Str("db", name).Logger()}
}

// SeriesCreated logs a new series the way memcp's database.go marks a
// mutating catalog operation.
func (l Logger) SeriesCreated(name string, id uint32) {
	l.Info().Str("series", name).Uint32("id", id).Msg("series created")
}

// SeriesDropped logs a series drop.
func (l Logger) SeriesDropped(name string, id uint32) {
	l.Info().Str("series", name).Uint32("id", id).Msg("series dropped")
}

// ShardOpened logs a shard file being opened or created.
func (l Logger) ShardOpened(id uint64) {
	l.Debug().Uint64("shard", id).Msg("shard opened")
}

// ShardOptimized logs a completed optimizer/compaction pass over one shard.
func (l Logger) ShardOptimized(id uint64, chunks int) {
	l.Info().Uint64("shard", id).Int("chunks", chunks).Msg("shard optimized")
}

// PoolMembershipChanged logs a server transitioning online/available state
// within a pool.
func (l Logger) PoolMembershipChanged(poolID uint16, server string, online bool) {
	l.Info().Uint16("pool", poolID).Str("server", server).Bool("online", online).
		Msg("pool membership changed")
}

// AuthFailure logs a failed authentication attempt without the password.
func (l Logger) AuthFailure(user string) {
	l.Warn().Str("user", user).Msg("authentication failed")
}
