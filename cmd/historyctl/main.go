package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reactivator/internal/utils"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	_ = utils.LoadEnv()

	if err := NewRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("historyctl failed")
		os.Exit(1)
	}
}
