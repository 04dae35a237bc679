package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"studioflow/internal/booking"
	"studioflow/internal/config"
	"studioflow/internal/database"
)

type RoomsConfig struct {
	Rooms []config.RoomSeed `yaml:"rooms"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		roomsPath = flag.String("rooms", "configs/rooms.yaml", "path to rooms.yaml")
		dbPath    = flag.String("db", "./data/studioflow.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*roomsPath)
	if err != nil {
		return fmt.Errorf("read rooms: %w", err)
	}
	var cfg RoomsConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse rooms: %w", err)
	}
	rooms, err := config.BuildRooms(cfg.Rooms)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		return fmt.Errorf("no rooms in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created := 0
	updated := 0
	for _, r := range rooms {
		_, err := db.GetRoom(ctx, r.ID)
		switch {
		case err == nil:
			updated++
		case errors.Is(err, booking.ErrResourceNotFound):
			created++
		default:
			return fmt.Errorf("get room %d: %w", r.ID, err)
		}
	}

	if err := db.SyncRooms(ctx, rooms); err != nil {
		return err
	}

	fmt.Printf("done: created=%d updated=%d\n", created, updated)
	return nil
}
