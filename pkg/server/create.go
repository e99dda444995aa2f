package server

import (
	"strconv"

	"ballotd/internal/errs"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/fiberzerolog"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func NewFiber() *fiber.App {
	app := fiber.New(fiber.Config{
		ProxyHeader:  "X-Real-Ip",
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		Network:      "tcp4",
		ServerHeader: "ballotd",
		ErrorHandler: ErrorHandler,
	})

	app.Use(recover.New())

	app.Use(fiberzerolog.New(fiberzerolog.Config{
		Logger: &log.Logger,
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowCredentials: false,
		AllowMethods:     "GET, POST, DELETE, PUT, OPTIONS",
		AllowHeaders:     "authorization, content-type, origin, x-request-id, x-voter-id, x-admin-key",
		MaxAge:           864000,
	}))

	return app
}

// ErrorHandler 业务错误按类别返回状态码和提示，其余一律 500
func ErrorHandler(c *fiber.Ctx, err error) error {
	var domain *errs.Error
	if errors.As(err, &domain) {
		return c.Status(domain.Status).JSON(fiber.Map{
			"code":  strconv.Itoa(domain.Status),
			"error": domain.Message,
		})
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"code":  strconv.Itoa(fe.Code),
			"error": fe.Message,
		})
	}

	log.Error().Stack().Err(err).Str("path", c.Path()).Msg("unhandled error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"code":  "500",
		"error": "internal server error",
	})
}
