package handlers

import (
	"strings"
	"time"

	"ballotd/internal/errs"
	"ballotd/internal/models"

	"github.com/gofiber/fiber/v2"
)

func RegisterAdmin(admin fiber.Router, s *Services) {
	admin.Use(s.RequireAdmin)

	admin.Post("/voters", s.CreateVoter)
	admin.Post("/elections", s.CreateElection)
	admin.Delete("/elections/:id", s.PurgeElection)
	admin.Get("/elections/:id/analytics", s.Analytics)
	admin.Get("/elections/:id/audit", s.Audit)
}

type voterRequest struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Admin  bool   `json:"admin"`
	Active *bool  `json:"active"`
}

// CreateVoter 登记选民，默认启用
func (s *Services) CreateVoter(c *fiber.Ctx) error {
	var req voterRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	voter := &models.Voter{
		Email:  strings.ToLower(strings.TrimSpace(req.Email)),
		Name:   strings.TrimSpace(req.Name),
		Role:   models.VoterRoleDefault,
		Active: req.Active == nil || *req.Active,
	}
	if req.Admin {
		voter.Role = models.VoterRoleAdmin
	}
	if err := s.Caster.RegisterVoter(c.UserContext(), voter); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"code": "201",
		"data": voter,
	})
}

type candidateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type electionRequest struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Status      string             `json:"status"`
	StartAt     time.Time          `json:"startAt"`
	EndAt       time.Time          `json:"endAt"`
	Candidates  []candidateRequest `json:"candidates"`
}

// CreateElection 创建选举，计数器从零开始
func (s *Services) CreateElection(c *fiber.Ctx) error {
	var req electionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	election := &models.Election{
		Title:       req.Title,
		Description: req.Description,
		Status:      models.ElectionStatus(strings.ToLower(req.Status)),
		StartAt:     req.StartAt,
		FinishAt:    req.EndAt,
	}
	if election.Status == models.ElectionStatusUpcoming {
		return errs.InvalidElection("status upcoming cannot be stored")
	}
	for _, cand := range req.Candidates {
		election.Candidates = append(election.Candidates, models.Candidate{
			Name:        cand.Name,
			Description: cand.Description,
		})
	}
	if err := s.Caster.CreateElection(c.UserContext(), election); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"code": "201",
		"data": election,
	})
}

// PurgeElection 删除选举及其全部选票与投票记录
func (s *Services) PurgeElection(c *fiber.Ctx) error {
	id, err := electionParam(c)
	if err != nil {
		return err
	}
	res, err := s.Caster.PurgeElection(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, res)
}

func (s *Services) Analytics(c *fiber.Ctx) error {
	id, err := electionParam(c)
	if err != nil {
		return err
	}
	res, err := s.Tally.Analytics(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, res)
}

// Audit 解密全部选票重新计票并与计数器核对
func (s *Services) Audit(c *fiber.Ctx) error {
	id, err := electionParam(c)
	if err != nil {
		return err
	}
	res, err := s.Tally.Audit(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, res)
}
