package main

import (
	"log"
	"os"
	"strconv"

	"rei360.com/broker"
	"rei360.com/cron"
	"rei360.com/db"
	"rei360.com/escrow"
	"rei360.com/oauth"
	"rei360.com/rail"
	"rei360.com/routes"

	_ "rei360.com/docs"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	fiberSwagger "github.com/swaggo/fiber-swagger"
)

//	@title			Escrow Service
//	@version		1.0
//	@description	Escrow transaction lifecycle engine for REI360 property transactions

// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
// @description				Enter the token. Example: "Bearer eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."
func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, relying on process environment")
	}

	db.Init()

	feeRateBps := int64(200)
	if raw := os.Getenv("FEE_RATE_BPS"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Fatalf("Invalid FEE_RATE_BPS: %v", err)
		}
		feeRateBps = parsed
	}

	oauthClient := oauth.NewClient(oauth.ConfigFromEnv())
	railClient := rail.NewClient(oauthClient)
	executor := escrow.NewExecutor(railClient)
	store := escrow.NewStore(db.DB)

	engine, err := escrow.NewEngine(store, executor, nil, feeRateBps)
	if err != nil {
		log.Fatalf("Failed to build escrow engine: %v", err)
	}

	if err := broker.Connect(os.Getenv("MESSAGE_BROKER_NETWORK"), os.Getenv("MESSAGE_BROKER_HOST")); err == nil {
		broker.StartListeners(engine)
	}

	cron.StartScheduler(engine)

	app := fiber.New()

	app.Use(func(c *fiber.Ctx) error {
		c.Set("Access-Control-Allow-Origin", "*")
		c.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
		return c.Next()
	})

	routes.Setup(app, engine)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(200)
	})

	app.Get("/swagger/*", fiberSwagger.WrapHandler)

	port := os.Getenv("LISTEN_PATH")
	if port == "" {
		port = ":3000"
	}
	log.Printf("Swagger UI available at http://localhost%s/swagger/index.html", port)
	log.Fatal(app.Listen(port))
}
