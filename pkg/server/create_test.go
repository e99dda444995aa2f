package server

import (
	"io"
	"net/http/httptest"
	"testing"

	"ballotd/internal/errs"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, app *fiber.App, path string) (int, map[string]string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp.StatusCode, body
}

func TestErrorHandler(t *testing.T) {
	app := NewFiber()
	app.Get("/domain", func(c *fiber.Ctx) error { return errors.Wrap(errs.ErrAlreadyVoted, "cast") })
	app.Get("/fiber", func(c *fiber.Ctx) error { return fiber.ErrUnprocessableEntity })
	app.Get("/other", func(c *fiber.Ctx) error { return errors.New("database on fire") })
	app.Get("/panic", func(c *fiber.Ctx) error { panic("boom") })

	status, body := call(t, app, "/domain")
	assert.Equal(t, 409, status)
	assert.Equal(t, errs.ErrAlreadyVoted.Message, body["error"])

	status, _ = call(t, app, "/fiber")
	assert.Equal(t, 422, status)

	status, body = call(t, app, "/other")
	assert.Equal(t, 500, status)
	assert.Equal(t, "internal server error", body["error"])

	status, _ = call(t, app, "/panic")
	assert.Equal(t, 500, status)

	status, _ = call(t, app, "/missing")
	assert.Equal(t, 404, status)
}
