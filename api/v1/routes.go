package v1

import (
	"ballotd/api/v1/handlers"

	"github.com/gofiber/fiber/v2"
)

func SetupRoutes(app *fiber.App, s *handlers.Services) {
	api := app.Group("/api/v1")

	handlers.RegisterAuth(api.Group("/auth"), s)
	handlers.RegisterElections(api.Group("/elections"), s)
	handlers.RegisterVotes(api.Group("/votes"), s)
	handlers.RegisterAdmin(api.Group("/admin"), s)
	handlers.RegisterSystem(api.Group("/system"), s.SystemKey)
}
