package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/jkubiena/Weddinko/app/controllers"
	"github.com/jkubiena/Weddinko/internal/pkg/cache"
	"github.com/jkubiena/Weddinko/internal/pkg/env"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))

	v1 := api.Group("/v1")
	v1.Get("/accounts/:account_id/subscription", controllers.HandleGetAccountSubscription)
	v1.Get("/accounts/:account_id/invoices", controllers.HandleListAccountInvoices)
	v1.Get("/invoices/:number", controllers.HandleGetInvoice)
	v1.Post("/affiliate/registrations", controllers.HandleCreateAffiliateRegistration)
}

// newLimiterStorage backs the rate limiter with Redis so counters survive
// restarts and are shared across instances. Reuses the cache connection
// settings, on a separate database.
func newLimiterStorage() *redisstorage.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
