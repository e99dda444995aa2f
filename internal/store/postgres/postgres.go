// Package postgres is the production store. Queries are built with squirrel,
// scanned with scany and executed on a pgx pool.
package postgres

import (
	"context"
	_ "embed"
	"time"

	"ballotd/internal/models"
	"ballotd/internal/store"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the SQLSTATE of unique_violation.
const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var _ store.Store = (*Store)(nil)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	pgxscan.Querier
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to postgres and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	log.Debug().Msg("connecting to postgres...")
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: connect")
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}
	if _, err = pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: migrate")
	}
	log.Debug().Msg("connecting to postgres... done")
	return &Store{pool: pool}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// translate maps driver errors onto the store sentinels.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case pgxscan.NotFound(err):
		return errors.Wrap(store.ErrNotFound, what)
	case isUniqueViolation(err):
		return errors.Wrap(store.ErrDuplicate, what)
	}
	return errors.Wrap(err, "postgres: "+what)
}

func get(ctx context.Context, q querier, dst any, b sq.Sqlizer, what string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.WithStack(err)
	}
	return translate(pgxscan.Get(ctx, q, dst, query, args...), what)
}

func selectAll(ctx context.Context, q querier, dst any, b sq.Sqlizer, what string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.WithStack(err)
	}
	return translate(pgxscan.Select(ctx, q, dst, query, args...), what)
}

func exec(ctx context.Context, q querier, b sq.Sqlizer, what string) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, translate(err, what)
	}
	return tag.RowsAffected(), nil
}

var voterColumns = []string{
	"id", "email", "name", "role", "active",
	"code", "code_expires_at", "code_verified", "code_verified_at", "created_at",
}

func (s *Store) CreateVoter(ctx context.Context, voter *models.Voter) error {
	if voter.Id == uuid.Nil {
		voter.Id = uuid.New()
	}
	if voter.CreatedAt.IsZero() {
		voter.CreatedAt = time.Now()
	}
	_, err := exec(ctx, s.pool, psql.Insert("voters").Columns(voterColumns...).Values(
		voter.Id, voter.Email, voter.Name, voter.Role, voter.Active,
		voter.Code, voter.CodeExpiresAt, voter.CodeVerified, voter.CodeVerifiedAt, voter.CreatedAt,
	), "voter")
	return err
}

func (s *Store) FindVoter(ctx context.Context, id uuid.UUID) (*models.Voter, error) {
	var voter models.Voter
	err := get(ctx, s.pool, &voter, psql.Select(voterColumns...).From("voters").Where(sq.Eq{"id": id}), "voter")
	if err != nil {
		return nil, err
	}
	return &voter, nil
}

func (s *Store) SaveCodeSlot(ctx context.Context, voter *models.Voter) error {
	n, err := exec(ctx, s.pool, psql.Update("voters").SetMap(map[string]any{
		"code":             voter.Code,
		"code_expires_at":  voter.CodeExpiresAt,
		"code_verified":    voter.CodeVerified,
		"code_verified_at": voter.CodeVerifiedAt,
	}).Where(sq.Eq{"id": voter.Id}), "voter code")
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrap(store.ErrNotFound, "voter")
	}
	return nil
}

func (s *Store) CountActiveVoters(ctx context.Context) (int64, error) {
	var n int64
	err := get(ctx, s.pool, &n, psql.Select("count(*)").From("voters").
		Where(sq.Eq{"active": true, "role": models.VoterRoleDefault}), "voters")
	return n, err
}

func (s *Store) CreateElection(ctx context.Context, election *models.Election) error {
	if election.CreatedAt.IsZero() {
		election.CreatedAt = time.Now()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := exec(ctx, tx, psql.Insert("elections").
			Columns("id", "title", "description", "status", "start_at", "finish_at", "total_votes", "created_at").
			Values(election.Id, election.Title, election.Description, election.Status,
				election.StartAt, election.FinishAt, election.TotalVotes, election.CreatedAt), "election")
		if err != nil {
			return err
		}
		insert := psql.Insert("candidates").Columns("id", "election_id", "name", "description", "vote_count", "position")
		for _, c := range election.Candidates {
			insert = insert.Values(c.Id, election.Id, c.Name, c.Description, c.VoteCount, c.Position)
		}
		_, err = exec(ctx, tx, insert, "candidates")
		return err
	})
}

var electionColumns = []string{"id", "title", "description", "status", "start_at", "finish_at", "total_votes", "created_at"}

func (s *Store) loadCandidates(ctx context.Context, q querier, elections ...*models.Election) error {
	if len(elections) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(elections))
	byId := make(map[uuid.UUID]*models.Election, len(elections))
	for i, e := range elections {
		ids[i] = e.Id
		byId[e.Id] = e
	}
	var candidates []models.Candidate
	err := selectAll(ctx, q, &candidates, psql.
		Select("id", "election_id", "name", "description", "vote_count", "position").
		From("candidates").
		Where(sq.Eq{"election_id": ids}).
		OrderBy("election_id", "position"), "candidates")
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if e, ok := byId[c.ElectionId]; ok {
			e.Candidates = append(e.Candidates, c)
		}
	}
	return nil
}

func (s *Store) FindElection(ctx context.Context, id uuid.UUID) (*models.Election, error) {
	var election models.Election
	err := get(ctx, s.pool, &election, psql.Select(electionColumns...).From("elections").Where(sq.Eq{"id": id}), "election")
	if err != nil {
		return nil, err
	}
	if err = s.loadCandidates(ctx, s.pool, &election); err != nil {
		return nil, err
	}
	return &election, nil
}

func (s *Store) ListOpenElections(ctx context.Context, now time.Time) ([]*models.Election, error) {
	var elections []*models.Election
	err := selectAll(ctx, s.pool, &elections, psql.Select(electionColumns...).From("elections").
		Where(sq.Eq{"status": models.ElectionStatusActive}).
		Where(sq.LtOrEq{"start_at": now}).
		Where(sq.GtOrEq{"finish_at": now}).
		OrderBy("finish_at"), "elections")
	if err != nil {
		return nil, err
	}
	if err = s.loadCandidates(ctx, s.pool, elections...); err != nil {
		return nil, err
	}
	return elections, nil
}

func (s *Store) PurgeElection(ctx context.Context, id uuid.UUID) (*store.PurgeResult, error) {
	var res store.PurgeResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if res.Ballots, err = exec(ctx, tx, psql.Delete("ballots").Where(sq.Eq{"election_id": id}), "ballots"); err != nil {
			return err
		}
		if res.Guards, err = exec(ctx, tx, psql.Delete("guard_records").Where(sq.Eq{"election_id": id}), "guard records"); err != nil {
			return err
		}
		n, err := exec(ctx, tx, psql.Delete("elections").Where(sq.Eq{"id": id}), "election")
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.Wrap(store.ErrNotFound, "election")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Store) HasVoted(ctx context.Context, voterId, electionId uuid.UUID) (bool, error) {
	var exists bool
	sub := psql.Select("1").From("guard_records").Where(sq.Eq{"voter_id": voterId, "election_id": electionId})
	query, args, err := sub.Prefix("select exists (").Suffix(")").ToSql()
	if err != nil {
		return false, errors.WithStack(err)
	}
	err = pgxscan.Get(ctx, s.pool, &exists, query, args...)
	return exists, translate(err, "guard record")
}

func insertGuard(ctx context.Context, q querier, guard *models.GuardRecord) error {
	_, err := exec(ctx, q, psql.Insert("guard_records").
		Columns("voter_id", "election_id", "voted_at").
		Values(guard.VoterId, guard.ElectionId, guard.VotedAt), "guard record")
	return err
}

func (s *Store) InsertGuard(ctx context.Context, guard *models.GuardRecord) error {
	return insertGuard(ctx, s.pool, guard)
}

func (s *Store) ListGuards(ctx context.Context, voterId uuid.UUID) ([]*models.GuardRecord, error) {
	var guards []*models.GuardRecord
	err := selectAll(ctx, s.pool, &guards, psql.Select("voter_id", "election_id", "voted_at").
		From("guard_records").Where(sq.Eq{"voter_id": voterId}).OrderBy("voted_at desc"), "guard records")
	return guards, err
}

func (s *Store) CountGuards(ctx context.Context, electionId uuid.UUID) (int64, error) {
	var n int64
	err := get(ctx, s.pool, &n, psql.Select("count(*)").From("guard_records").Where(sq.Eq{"election_id": electionId}), "guard records")
	return n, err
}

// CommitBallot writes the guard record first so that a concurrent duplicate
// fails on the cheapest statement; the whole unit rolls back on any error.
func (s *Store) CommitBallot(ctx context.Context, commit *store.Commit) error {
	ballot, guard := commit.Ballot, commit.Guard
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertGuard(ctx, tx, guard); err != nil {
			return err
		}
		_, err := exec(ctx, tx, psql.Insert("ballots").
			Columns("id", "election_id", "pseudonym", "choice", "verification_tag", "ip", "cast_at").
			Values(ballot.Id, ballot.ElectionId, ballot.Pseudonym, ballot.Choice, ballot.VerificationTag, ballot.Ip, ballot.CastAt),
			"ballot")
		if err != nil {
			return err
		}
		n, err := exec(ctx, tx, psql.Update("candidates").
			Set("vote_count", sq.Expr("vote_count + 1")).
			Where(sq.Eq{"id": commit.CandidateId, "election_id": ballot.ElectionId}), "candidate counter")
		if err != nil {
			return err
		}
		if n != 1 {
			return errors.Wrap(store.ErrNotFound, "candidate")
		}
		n, err = exec(ctx, tx, psql.Update("elections").
			Set("total_votes", sq.Expr("total_votes + 1")).
			Where(sq.Eq{"id": ballot.ElectionId}), "election counter")
		if err != nil {
			return err
		}
		if n != 1 {
			return errors.Wrap(store.ErrNotFound, "election")
		}
		_, err = exec(ctx, tx, psql.Update("voters").SetMap(map[string]any{
			"code":             "",
			"code_expires_at":  nil,
			"code_verified":    false,
			"code_verified_at": nil,
		}).Where(sq.Eq{"id": guard.VoterId}), "voter code")
		return err
	})
}

var ballotColumns = []string{"id", "election_id", "pseudonym", "choice", "verification_tag", "ip", "cast_at"}

func (s *Store) FindBallot(ctx context.Context, electionId uuid.UUID, pseudonym string) (*models.Ballot, error) {
	var ballot models.Ballot
	err := get(ctx, s.pool, &ballot, psql.Select(ballotColumns...).From("ballots").
		Where(sq.Eq{"election_id": electionId, "pseudonym": pseudonym}), "ballot")
	if err != nil {
		return nil, err
	}
	return &ballot, nil
}

func (s *Store) ListBallots(ctx context.Context, electionId uuid.UUID) ([]*models.Ballot, error) {
	var ballots []*models.Ballot
	err := selectAll(ctx, s.pool, &ballots, psql.Select(ballotColumns...).From("ballots").
		Where(sq.Eq{"election_id": electionId}).OrderBy("cast_at"), "ballots")
	return ballots, err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
