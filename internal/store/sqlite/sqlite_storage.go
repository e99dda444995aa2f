// Package sqlite is the single-node store backed by gorm and sqlite.
package sqlite

import (
	"context"
	"time"

	"ballotd/internal/models"
	"ballotd/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ store.Store = (*SqliteStorage)(nil)

type SqliteStorage struct {
	db *gorm.DB
}

// NewSqliteStorage opens the database file at path and migrates the tables.
// sqlite serialises writers, so the pool is pinned to one connection; this also
// keeps ":memory:" databases shared between callers.
func NewSqliteStorage(path string) (*SqliteStorage, error) {
	log.Debug().Str("path", path).Msg("initializing database...")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: pool")
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.Voter{},
		&models.Election{},
		&models.Candidate{},
		&models.Ballot{},
		&models.GuardRecord{},
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: migrate")
	}

	log.Debug().Msg("initializing database... done")
	return &SqliteStorage{db: db}, nil
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Wrap(store.ErrNotFound, what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Wrap(store.ErrDuplicate, what)
	}
	return errors.Wrap(err, "sqlite: "+what)
}

func (s *SqliteStorage) CreateVoter(ctx context.Context, voter *models.Voter) error {
	if voter.Id == uuid.Nil {
		voter.Id = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(voter).Error
	return translate(err, "voter")
}

func (s *SqliteStorage) FindVoter(ctx context.Context, id uuid.UUID) (*models.Voter, error) {
	var voter models.Voter
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&voter).Error; err != nil {
		return nil, translate(err, "voter")
	}
	return &voter, nil
}

func (s *SqliteStorage) SaveCodeSlot(ctx context.Context, voter *models.Voter) error {
	tx := s.db.WithContext(ctx).Model(&models.Voter{}).Where("id = ?", voter.Id).Updates(map[string]any{
		"code":             voter.Code,
		"code_expires_at":  voter.CodeExpiresAt,
		"code_verified":    voter.CodeVerified,
		"code_verified_at": voter.CodeVerifiedAt,
	})
	if tx.Error != nil {
		return translate(tx.Error, "voter code")
	}
	if tx.RowsAffected == 0 {
		return errors.Wrap(store.ErrNotFound, "voter")
	}
	return nil
}

func (s *SqliteStorage) CountActiveVoters(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Voter{}).
		Where("active = ? and role = ?", true, models.VoterRoleDefault).
		Count(&n).Error
	return n, translate(err, "voters")
}

func (s *SqliteStorage) CreateElection(ctx context.Context, election *models.Election) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(election).Error
	})
	return translate(err, "election")
}

func orderedCandidates(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func (s *SqliteStorage) FindElection(ctx context.Context, id uuid.UUID) (*models.Election, error) {
	var election models.Election
	err := s.db.WithContext(ctx).Preload("Candidates", orderedCandidates).Where("id = ?", id).First(&election).Error
	if err != nil {
		return nil, translate(err, "election")
	}
	return &election, nil
}

func (s *SqliteStorage) ListOpenElections(ctx context.Context, now time.Time) ([]*models.Election, error) {
	var elections []*models.Election
	err := s.db.WithContext(ctx).Preload("Candidates", orderedCandidates).
		Where("status = ? and start_at <= ? and finish_at >= ?", models.ElectionStatusActive, now.UTC(), now.UTC()).
		Order("finish_at").
		Find(&elections).Error
	return elections, translate(err, "elections")
}

func (s *SqliteStorage) PurgeElection(ctx context.Context, id uuid.UUID) (*store.PurgeResult, error) {
	var res store.PurgeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("election_id = ?", id).Delete(&models.Ballot{})
		if del.Error != nil {
			return del.Error
		}
		res.Ballots = del.RowsAffected

		del = tx.Where("election_id = ?", id).Delete(&models.GuardRecord{})
		if del.Error != nil {
			return del.Error
		}
		res.Guards = del.RowsAffected

		if err := tx.Where("election_id = ?", id).Delete(&models.Candidate{}).Error; err != nil {
			return err
		}
		del = tx.Where("id = ?", id).Delete(&models.Election{})
		if del.Error != nil {
			return del.Error
		}
		if del.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "election")
	}
	return &res, nil
}

func (s *SqliteStorage) HasVoted(ctx context.Context, voterId, electionId uuid.UUID) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.GuardRecord{}).
		Where("voter_id = ? and election_id = ?", voterId, electionId).
		Limit(1).
		Count(&n).Error
	return n > 0, translate(err, "guard record")
}

func (s *SqliteStorage) InsertGuard(ctx context.Context, guard *models.GuardRecord) error {
	return translate(s.db.WithContext(ctx).Create(guard).Error, "guard record")
}

func (s *SqliteStorage) ListGuards(ctx context.Context, voterId uuid.UUID) ([]*models.GuardRecord, error) {
	var guards []*models.GuardRecord
	err := s.db.WithContext(ctx).Where("voter_id = ?", voterId).Order("voted_at desc").Find(&guards).Error
	return guards, translate(err, "guard records")
}

func (s *SqliteStorage) CountGuards(ctx context.Context, electionId uuid.UUID) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.GuardRecord{}).Where("election_id = ?", electionId).Count(&n).Error
	return n, translate(err, "guard records")
}

func (s *SqliteStorage) CommitBallot(ctx context.Context, commit *store.Commit) error {
	ballot, guard := commit.Ballot, commit.Guard
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(guard).Error; err != nil {
			return err
		}
		if err := tx.Create(ballot).Error; err != nil {
			return err
		}

		upd := tx.Model(&models.Candidate{}).
			Where("id = ? and election_id = ?", commit.CandidateId, ballot.ElectionId).
			UpdateColumn("vote_count", gorm.Expr("vote_count + ?", 1))
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected != 1 {
			return errors.Wrap(gorm.ErrRecordNotFound, "candidate")
		}

		upd = tx.Model(&models.Election{}).
			Where("id = ?", ballot.ElectionId).
			UpdateColumn("total_votes", gorm.Expr("total_votes + ?", 1))
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected != 1 {
			return errors.Wrap(gorm.ErrRecordNotFound, "election")
		}

		return tx.Model(&models.Voter{}).Where("id = ?", guard.VoterId).Updates(map[string]any{
			"code":             "",
			"code_expires_at":  nil,
			"code_verified":    false,
			"code_verified_at": nil,
		}).Error
	})
	return translate(err, "ballot commit")
}

func (s *SqliteStorage) FindBallot(ctx context.Context, electionId uuid.UUID, pseudonym string) (*models.Ballot, error) {
	var ballot models.Ballot
	err := s.db.WithContext(ctx).Where("election_id = ? and pseudonym = ?", electionId, pseudonym).First(&ballot).Error
	if err != nil {
		return nil, translate(err, "ballot")
	}
	return &ballot, nil
}

func (s *SqliteStorage) ListBallots(ctx context.Context, electionId uuid.UUID) ([]*models.Ballot, error) {
	var ballots []*models.Ballot
	err := s.db.WithContext(ctx).Where("election_id = ?", electionId).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "cast_at"}}).
		Find(&ballots).Error
	return ballots, translate(err, "ballots")
}

func (s *SqliteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return sqlDB.Close()
}
