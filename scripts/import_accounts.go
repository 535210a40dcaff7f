package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"bridgesync/internal/database"
	"bridgesync/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type AccountsConfig struct {
	Accounts []models.Account `yaml:"accounts"`
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
		accountsPath = flag.String("accounts", "configs/accounts.yaml", "path to accounts.yaml")
		dbPath       = flag.String("db", "./data/accounts.db", "path to sqlite db")
		prune        = flag.Bool("prune", false, "delete accounts missing from the file")
	)
	flag.Parse()

	data, err := os.ReadFile(*accountsPath)
	if err != nil {
		return fmt.Errorf("read accounts: %w", err)
	}
	var cfg AccountsConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse accounts: %w", err)
	}
	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("no accounts in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var fresh []models.Account
	listed := make(map[string]struct{}, len(cfg.Accounts))
	updated := 0
	for _, a := range cfg.Accounts {
		if a.ID == "" {
			continue
		}
		listed[a.ID] = struct{}{}

		err = db.UpdateAccount(ctx, a.ID, func(cur models.Account) models.Account {
			cur.Currency = a.Currency
			cur.DerivationMode = a.DerivationMode
			cur.FreshAddress = a.FreshAddress
			cur.FreshAddressPath = a.FreshAddressPath
			return cur
		})
		if err == nil {
			updated++
			continue
		}
		if !errors.Is(err, models.ErrAccountNotFound) {
			return fmt.Errorf("update %s: %w", a.ID, err)
		}
		fresh = append(fresh, a)
	}

	if err = db.UpsertAccounts(ctx, fresh); err != nil {
		return fmt.Errorf("create accounts: %w", err)
	}

	deleted := 0
	if *prune {
		existing, err := db.ListAccounts(ctx)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for _, a := range existing {
			if _, ok := listed[a.ID]; ok {
				continue
			}
			if err := db.DeleteAccount(ctx, a.ID); err != nil {
				return fmt.Errorf("delete %s: %w", a.ID, err)
			}
			deleted++
		}
	}

	fmt.Printf("done: created=%d updated=%d deleted=%d\n", len(fresh), updated, deleted)
	return nil
}
