package handlers

import (
	"ballotd/internal/ballot"
	"ballotd/internal/errs"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func RegisterVotes(votes fiber.Router, s *Services) {
	votes.Use(s.Identify)

	votes.Post("/", s.CastVote)
	votes.Get("/history", s.History)
}

type castRequest struct {
	ElectionId  string `json:"electionId"`
	CandidateId string `json:"candidateId"`
	Code        string `json:"code"`
}

// CastVote 投票
func (s *Services) CastVote(c *fiber.Ctx) error {
	var req castRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Code == "" {
		return errs.ErrInvalidCode
	}
	electionId, err := uuid.Parse(req.ElectionId)
	if err != nil {
		return errs.ErrElectionNotFound
	}
	candidateId, err := uuid.Parse(req.CandidateId)
	if err != nil {
		return errs.ErrCandidateNotFound
	}

	receipt, err := s.Caster.Cast(c.UserContext(), ballot.CastRequest{
		VoterId:     currentVoter(c).Id,
		ElectionId:  electionId,
		CandidateId: candidateId,
		Code:        req.Code,
		ClientAddr:  c.IP(),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"code": "201",
		"data": receipt,
	})
}

// History 参与过的选举，不含投票内容
func (s *Services) History(c *fiber.Ctx) error {
	history, err := s.Guard.History(c.UserContext(), currentVoter(c).Id, s.Caster.Now())
	if err != nil {
		return err
	}
	return ok(c, history)
}
