package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jkubiena/Weddinko/app/controllers"
	"github.com/jkubiena/Weddinko/internal/pkg/affiliate"
	"github.com/jkubiena/Weddinko/internal/pkg/cache"
	"github.com/jkubiena/Weddinko/internal/pkg/database"
	"github.com/jkubiena/Weddinko/internal/pkg/env"
	"github.com/jkubiena/Weddinko/internal/pkg/invoicing"
	"github.com/jkubiena/Weddinko/internal/pkg/jobqueue"
	"github.com/jkubiena/Weddinko/internal/pkg/payments"
	"github.com/jkubiena/Weddinko/internal/pkg/router"
)

func main() {
	app, queue := NewApplication()
	defer queue.Stop()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Queue) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repo := payments.NewRepository(db)
	sequencer := invoicing.NewSequencerFromDB(db)
	affiliates := affiliate.NewServiceFromDB(db)

	queue := jobqueue.NewQueue(3)
	queue.RegisterDefaultProcessors(sequencer, affiliates)

	engine := payments.NewEngine(repo, sequencer, affiliates, queue)
	controllers.SetupPaymentStack(
		engine,
		payments.NewCardProviderFromEnv(),
		payments.NewRedirectNormalizer(payments.NewRedirectProviderClientFromEnv(), repo),
	)

	queue.Start()

	app := fiber.New(fiber.Config{
		AppName: "Weddinko Billing",
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app)

	return app, queue
}
