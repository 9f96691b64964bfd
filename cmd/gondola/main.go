package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/pastaland/gondola"
)

func main() {
	configPath := flag.String("config", "gondola.json", "path to the configuration file")
	level := flag.String("level", "info", "log level (trace, debug, info, warn, error)")
	flag.Parse()

	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	log := zerolog.New(writer).With().Timestamp().Logger()

	logLevel, err := zerolog.ParseLevel(*level)
	if err != nil {
		log.Warn().Str("level", *level).Msg("Unknown log level, using info")
		logLevel = zerolog.InfoLevel
	}
	log = log.Level(logLevel)

	config, err := gondola.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	manager := gondola.NewManager(config, log)

	if err = manager.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open manager")
	}

	log.Info().Msg("Shards are running. Send SIGINT to stop")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	manager.Close()
}
