package handlers

import (
	"time"

	"ballotd/internal/errs"
	"ballotd/pkg/third/geetest"

	"github.com/gofiber/fiber/v2"
)

func RegisterAuth(auth fiber.Router, s *Services) {
	auth.Use(s.Identify)

	auth.Post("/otp", s.IssueCode)
	auth.Post("/otp/verify", s.VerifyCode)
}

// IssueCode 发送一次性验证码，启用极验时先过人机验证
func (s *Services) IssueCode(c *fiber.Ctx) error {
	voter := currentVoter(c)
	if s.Captcha.Enabled() {
		var req geetest.Request
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if !s.Captcha.Validate(c.UserContext(), req, c.IP()) {
			return errs.InvalidRequest("captcha verification failed")
		}
	}

	expiresAt, err := s.Auth.IssueCode(c.UserContext(), voter.Id)
	if err != nil {
		return err
	}
	return ok(c, fiber.Map{
		"message":   "one-time code sent",
		"expiresAt": expiresAt.Format(time.RFC3339),
	})
}

type verifyRequest struct {
	Code string `json:"code"`
}

// VerifyCode 校验一次性验证码
func (s *Services) VerifyCode(c *fiber.Ctx) error {
	var req verifyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Code == "" {
		return errs.InvalidRequest("code is required")
	}
	if err := s.Auth.VerifyCode(c.UserContext(), currentVoter(c).Id, req.Code); err != nil {
		return err
	}
	return ok(c, fiber.Map{"message": "code verified"})
}
