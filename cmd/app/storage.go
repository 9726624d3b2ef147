package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"studio-schedule/internal/config"
	"studio-schedule/internal/fanout"
	"studio-schedule/internal/models"
	svc "studio-schedule/internal/service"
	"studio-schedule/internal/storage/memory"
	"studio-schedule/internal/storage/postgres"
)

// scheduleStore is what both storage drivers provide.
type scheduleStore interface {
	svc.Store
	svc.UserDirectory
	svc.Inbox
	fanout.NotificationStore
	fanout.Directory
	Close() error
}

func openStorage(log *slog.Logger, cfg config.Storage) (scheduleStore, error) {
	switch cfg.Driver {
	case "memory":
		store := memory.New()
		for _, u := range cfg.Seed {
			store.PutUser(models.User{
				ID:        u.ID,
				Role:      models.Role(u.Role),
				FirstName: u.FirstName,
				LastName:  u.LastName,
				Email:     u.Email,
				IsActive:  true,
			})
		}
		log.Warn("Using in-memory storage, data is lost on restart", slog.Int("seeded_users", len(cfg.Seed)))
		return store, nil

	case "postgres":
		store, err := postgres.New(cfg.DSN)
		if err != nil {
			return nil, err
		}

		if cfg.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, err
			}
			log.Info("Storage schema applied")
		}

		return store, nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
