package routes

import (
	"rei360.com/controllers"
	"rei360.com/escrow"

	"github.com/gofiber/fiber/v2"
)

func Setup(app *fiber.App, engine *escrow.Engine) {
	controllers.InitEscrowRoutes(app, engine)
}
