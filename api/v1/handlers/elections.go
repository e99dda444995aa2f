package handlers

import (
	"github.com/gofiber/fiber/v2"
)

func RegisterElections(elections fiber.Router, s *Services) {
	elections.Use(s.Identify)

	elections.Get("/", s.ListElections)
	elections.Get("/:id", s.GetElection)
	elections.Get("/:id/results", s.GetResults)
}

// ListElections 正在投票中的选举，并标记当前选民是否已投
func (s *Services) ListElections(c *fiber.Ctx) error {
	views, err := s.Caster.OpenElections(c.UserContext(), currentVoter(c))
	if err != nil {
		return err
	}
	return ok(c, views)
}

func (s *Services) GetElection(c *fiber.Ctx) error {
	id, err := electionParam(c)
	if err != nil {
		return err
	}
	view, err := s.Caster.Election(c.UserContext(), currentVoter(c), id)
	if err != nil {
		return err
	}
	return ok(c, view)
}

// GetResults 普通选民只能在选举结束后查看
func (s *Services) GetResults(c *fiber.Ctx) error {
	id, err := electionParam(c)
	if err != nil {
		return err
	}
	res, err := s.Tally.Results(c.UserContext(), id, currentVoter(c).Role)
	if err != nil {
		return err
	}
	return ok(c, res)
}
