package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/room4-2/ReminderRelay/config"
	"github.com/room4-2/ReminderRelay/realtime"
	"github.com/room4-2/ReminderRelay/session"
)

func main() {
	reminder := flag.String("reminder", "Dentist appointment Friday 10am", "Reminder text")
	timeout := flag.Duration("timeout", 30*time.Second, "Give up after this long")
	flag.Parse()

	log := logrus.New()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	if cfg.APIKey() == "" {
		log.WithField("provider", cfg.Provider).Fatal("API key not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	up, err := session.NewUpstreamDialer(cfg)(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect upstream")
	}
	defer up.Close()

	// Receive blocks, so unblock it on timeout
	go func() {
		<-ctx.Done()
		_ = up.Close()
	}()

	err = session.Initialize(up, session.BuildInstructions(*reminder), session.SettingsFromConfig(cfg))
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize session")
	}
	log.WithField("provider", cfg.Provider).Info("Waiting for greeting")

	audioChunks := 0
	for {
		ev, err := up.Receive()
		if err != nil {
			log.WithError(err).Fatal("Receive failed")
		}

		switch ev.Type {
		case realtime.TypeTranscriptDelta:
			fmt.Print(ev.Delta)
		case realtime.TypeResponseAudioDelta:
			audioChunks++
		case realtime.TypeError:
			log.WithField("error", string(ev.Error)).Error("Upstream error")
		case realtime.TypeResponseDone:
			fmt.Println()
			log.WithField("audio_chunks", audioChunks).Info("Response done")
			return
		}
	}
}
