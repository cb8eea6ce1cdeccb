package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/hackreg/authority"
	"github.com/hackreg/authority/internal/app"
	"github.com/hackreg/authority/internal/platform/db"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg, err := app.LoadConfig()
	if err != nil {
		logger.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	dsn, err := cfg.DSN()
	if err != nil {
		logger.Error("database url", slog.Any("error", err))
		os.Exit(1)
	}
	conn, err := db.Open(ctx, dsn, logger)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	auth, err := authority.New(ctx, authority.Options{
		TablesPrefix: "example_",
		DB:           conn,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("init authority", slog.Any("error", err))
		return
	}

	organizer, err := auth.CreateRole(ctx, "organizer", "Event organizers")
	fmt.Println(organizer, err)

	manage, err := auth.AddPermission(ctx, "event:manage:all", "Manage every event")
	fmt.Println(manage, err)
	review, err := auth.AddPermission(ctx, "submission:all:all", "Full control over submissions")
	fmt.Println(review, err)

	err = auth.GrantPermissionToRole(ctx, organizer.ID, manage.ID)
	fmt.Println(err)

	u1 := authority.UserID(uuid.NewString())
	err = auth.AssignRoleToUser(ctx, u1, organizer.ID)
	fmt.Println(err)
	err = auth.GrantPermissionToUser(ctx, u1, review.ID)
	fmt.Println(err)

	fmt.Println(auth.UserPermissions(ctx, u1))
	fmt.Println(auth.HasPermission(ctx, u1, "event:manage:all"))
	fmt.Println(auth.HasPermission(ctx, u1, "event:manage:self"))
	fmt.Println(auth.HasPermission(ctx, u1, "submission:review:any"))
	fmt.Println(auth.RequirePermission(ctx, u1, "user:read:all"))

	err = auth.DeleteRole(ctx, organizer.ID)
	fmt.Println(err)
	fmt.Println(auth.UserRoles(ctx, u1))
	fmt.Println(auth.HasPermission(ctx, u1, "event:manage:all"))
}
