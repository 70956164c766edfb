package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/savegress/labsync/internal/api"
	"github.com/savegress/labsync/internal/astm"
	"github.com/savegress/labsync/internal/config"
	"github.com/savegress/labsync/internal/journal"
	"github.com/savegress/labsync/internal/link"
	"github.com/savegress/labsync/pkg/models"
)

func main() {
	log.Println("Starting LabSync...")

	// Load configuration
	cfg := loadConfig()

	// Initialize message generator
	generator := astm.NewGenerator(&astm.GeneratorConfig{
		SenderID:     cfg.Codec.SenderID,
		Version:      cfg.Codec.Version,
		LineEnding:   lineEnding(cfg.Codec.LineEnding),
		FillDefaults: cfg.Codec.FillDefaults,
	})

	// Initialize message journal
	messageJournal := journal.New(&cfg.Journal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := messageJournal.Start(ctx); err != nil {
		log.Fatalf("Failed to start journal: %v", err)
	}

	// Start instrument line
	var tx api.Transmitter
	var port *link.Port
	listenerDone := make(chan struct{})
	if cfg.Serial.Enabled {
		var err error
		port, err = link.OpenSerial(&cfg.Serial)
		if err != nil {
			log.Fatalf("Failed to open serial port: %v", err)
		}

		session := link.NewSession(port)
		if cfg.Serial.LineTimeout > 0 {
			session.Timeout = cfg.Serial.LineTimeout
		}
		session.Policy.MaxRetransmits = cfg.Serial.MaxRetransmits

		listener := link.NewListener(session, func(ctx context.Context, raw string, m *astm.ParsedMessage, err error) {
			req := &journal.RecordRequest{
				Direction: models.DirectionInbound,
				Source:    "serial",
				Raw:       raw,
				Framed:    true,
				Err:       err,
			}
			if m != nil {
				req.RecordCounts = m.Counts()
				log.Printf("Received message from %s with %d results", astm.ExtractHeader(m).SenderID, m.Count(astm.RecordResult))
			}
			messageJournal.Record(ctx, req)
		})
		tx = listener

		go func() {
			defer close(listenerDone)
			log.Printf("Instrument listener active on %s", port.Name())
			if err := listener.Run(ctx); err != nil {
				log.Printf("Instrument listener stopped: %v", err)
			}
		}()
	} else {
		close(listenerDone)
	}

	// Create API server
	server := api.NewServer(cfg, generator, messageJournal, tx)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("LabSync API listening on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down LabSync...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	cancel()
	if port != nil {
		port.Close()
	}
	<-listenerDone
	messageJournal.Stop()

	log.Println("LabSync stopped")
}

func loadConfig() *config.Config {
	configPath := os.Getenv("LABSYNC_CONFIG")
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Printf("Failed to load config from %s: %v, using defaults", configPath, err)
			return config.LoadFromEnv()
		}
		return cfg
	}
	return config.LoadFromEnv()
}

func lineEnding(name string) string {
	if strings.EqualFold(name, "CRLF") {
		return astm.LineEndingCRLF
	}
	return astm.LineEndingCR
}
