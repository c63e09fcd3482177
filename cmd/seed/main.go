package main

import (
	"context"
	"flag"
	"os"
	"time"

	"envelopes/internal/cli"
	applog "envelopes/internal/log"
	"envelopes/internal/seed"
)

func main() {
	adminID := flag.String("admin", "admin", "user id granted the admin role")
	memberID := flag.String("member", "member", "user id granted the member role (empty to skip)")
	year := flag.Int("year", time.Now().Year(), "year used in the budget template name")
	flag.Parse()

	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentSeed)
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	res, err := seed.Run(context.Background(), repo, seed.Users{
		System: cfg.SystemUserID,
		Admin:  *adminID,
		Member: *memberID,
	}, *year)
	if err != nil {
		logger.Error("Seeding failed", "error", err)
		repo.Close()
		os.Exit(1)
	}
	if res.Skipped {
		logger.Info("Store already seeded, nothing to do", "system_user_id", cfg.SystemUserID)
		return
	}
	logger.Info("Seed complete",
		"accounts", res.Accounts,
		"envelopes", res.Envelopes,
		"template_id", res.TemplateID)
}
