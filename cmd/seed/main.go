package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/govease-queue/internal/app"
	"github.com/hackgods/govease-queue/internal/catalog"
	"github.com/hackgods/govease-queue/internal/config"
	"github.com/hackgods/govease-queue/internal/logger"
	"github.com/hackgods/govease-queue/internal/logger/sl"
	"github.com/hackgods/govease-queue/internal/token"
)

var purposes = []string{
	"New application",
	"Document renewal",
	"Certificate collection",
	"General consultation",
	"Follow-up visit",
	"Lab report",
	"Address change",
	"Complaint",
}

func main() {
	file := flag.String("centers", "centers.yaml", "centers catalog to import")
	perScope := flag.Int("tokens", 20, "demo tokens per center and department")
	qrPerCenter := flag.Int("qr", 5, "QR codes per center")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load", sl.Err(err))
		os.Exit(1)
	}
	log := logger.Setup(cfg.Env, cfg.LogLevel)
	log.Info("seed starting", slog.String("store", cfg.StoreBackend), slog.String("centers", *file))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("startup", sl.Err(err))
		os.Exit(1)
	}
	defer a.Close()

	centers, err := catalog.Load(*file)
	if err != nil {
		log.Error("load catalog", sl.Err(err))
		os.Exit(1)
	}
	if _, err := catalog.Import(ctx, a.Service, centers); err != nil {
		log.Error("import catalog", sl.Err(err))
		os.Exit(1)
	}

	gofakeit.Seed(time.Now().UnixNano())

	for _, c := range centers {
		if err := seedCenter(ctx, a.Service, c, *perScope, *qrPerCenter); err != nil {
			log.Error("seed center", slog.String("center_id", c.ID), sl.Err(err))
			os.Exit(1)
		}
		log.Info("center seeded", slog.String("center_id", c.ID), slog.Int("departments", len(c.Departments)))
	}

	log.Info("seed complete", slog.Int("centers", len(centers)))
}

func seedCenter(ctx context.Context, svc *token.Service, c token.Center, perScope, qrCount int) error {
	if qrCount > 0 {
		if _, err := svc.CreateQRCodes(ctx, c.ID, qrCount); err != nil {
			return err
		}
	}

	departments := c.Departments
	if len(departments) == 0 {
		departments = []string{token.DefaultDepartment}
	}

	for _, dept := range departments {
		for i := 0; i < perScope; i++ {
			var createdBy *string
			if gofakeit.Bool() {
				email := gofakeit.Email()
				createdBy = &email
			}

			t, err := svc.CreateToken(ctx, token.Draft{
				CenterID:   c.ID,
				Department: dept,
				Name:       gofakeit.Name(),
				Phone:      gofakeit.Phone(),
				Purpose:    purposes[gofakeit.Number(0, len(purposes)-1)],
				CreatedBy:  createdBy,
			})
			if err != nil {
				return err
			}

			// move the older half of the queue along so the demo shows every status
			if i < perScope/2 {
				if err := advance(ctx, svc, t); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func advance(ctx context.Context, svc *token.Service, t *token.Token) error {
	var err error
	switch gofakeit.Number(0, 3) {
	case 0:
		_, err = svc.ApproveToken(ctx, t.ID)
	case 1:
		_, err = svc.RejectToken(ctx, t.ID)
	case 2:
		if _, err = svc.ApproveToken(ctx, t.ID); err == nil {
			_, err = svc.ClearToken(ctx, t.ID)
		}
	}
	return err
}
