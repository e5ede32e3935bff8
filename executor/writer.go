package main

import (
	"github.com/rs/zerolog/log"

	"github.com/AllenAnZifeng/Go-AI/store"
)

type gameWriteRequest struct {
	rows []store.TrajectoryRow
	// flushed, when set, asks for the open batch to be finalized and is
	// closed once it has been.
	flushed chan struct{}
}

// parquetWriterLoop writes incoming games into batch files of gamesPerFlush
// games each. A final partial batch is written when in is closed.
func parquetWriterLoop(outDir string, gamesPerFlush int, in <-chan gameWriteRequest) {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	var w *store.BatchWriter
	finalize := func(reason string) {
		if w == nil {
			return
		}
		outPath, rows, games, err := w.Finalize()
		w = nil
		if err != nil {
			log.Error().Err(err).Str("reason", reason).Msg("parquet flush failed")
			return
		}
		if rows > 0 {
			log.Info().Str("path", outPath).Int("games", games).Int("rows", rows).Str("reason", reason).Msg("parquet flush ok")
		}
	}

	for req := range in {
		if req.flushed != nil {
			finalize("request")
			close(req.flushed)
			continue
		}
		if len(req.rows) == 0 {
			continue
		}
		if w == nil {
			var err error
			w, err = store.NewBatchWriter(outDir)
			if err != nil {
				log.Error().Err(err).Str("dir", outDir).Msg("open batch writer")
				continue
			}
		}
		if err := w.WriteGame(req.rows); err != nil {
			log.Error().Err(err).Int("rows", len(req.rows)).Msg("write game rows")
			continue
		}
		if w.BufferedGames() >= gamesPerFlush {
			finalize("count")
		}
	}
	finalize("final")
}
