package handlers

import (
	"crypto/subtle"
	"strings"

	"ballotd/internal/ballot"
	"ballotd/internal/errs"
	"ballotd/internal/guard"
	"ballotd/internal/models"
	"ballotd/internal/otp"
	"ballotd/internal/tally"
	"ballotd/pkg/third/geetest"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Services 路由依赖的业务组件
type Services struct {
	Auth    *otp.Authenticator
	Caster  *ballot.Caster
	Guard   *guard.Guard
	Tally   *tally.Projector
	Captcha *geetest.Client

	AdminKey  string
	SystemKey string
}

const (
	voterHeader = "X-Voter-Id"
	adminHeader = "X-Admin-Key"
	voterLocal  = "voter"
)

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"code": "200",
		"data": data,
	})
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return errs.InvalidRequest("malformed body")
	}
	return nil
}

func electionParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, errs.ErrElectionNotFound
	}
	return id, nil
}

// Identify 网关在 X-Voter-Id 中传递已认证的选民 id
func (s *Services) Identify(c *fiber.Ctx) error {
	id, err := uuid.Parse(strings.TrimSpace(c.Get(voterHeader)))
	if err != nil {
		return errs.ErrVoterNotFound
	}
	voter, err := s.Caster.Voter(c.UserContext(), id)
	if err != nil {
		return err
	}
	c.Locals(voterLocal, voter)
	return c.Next()
}

func currentVoter(c *fiber.Ctx) *models.Voter {
	return c.Locals(voterLocal).(*models.Voter)
}

// RequireAdmin 校验管理密钥
func (s *Services) RequireAdmin(c *fiber.Ctx) error {
	key := c.Get(adminHeader)
	if s.AdminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.AdminKey)) != 1 {
		return errs.ErrForbidden
	}
	return c.Next()
}
