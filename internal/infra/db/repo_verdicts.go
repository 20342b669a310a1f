package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"posed/internal/domain"
	"posed/internal/usecase"
)

type VerdictRepository struct {
	db *gorm.DB
}

func NewVerdictRepository(db *gorm.DB) *VerdictRepository {
	return &VerdictRepository{db: db}
}

func (r *VerdictRepository) Append(ctx context.Context, ch domain.ChallengeMessage, verdict domain.Verdict) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if ch.ChallengeID.IsZero() {
		return errors.New("challenge_id is required")
	}
	model := VerdictModel{
		ChallengeID:      string(ch.ChallengeID),
		NodeID:           string(ch.NodeID),
		EpochID:          ch.EpochID,
		ChallengeType:    string(ch.Type),
		OK:               verdict.OK,
		Reason:           verdict.Reason,
		ResponseBodyHash: verdict.ResponseBodyHash,
		CreatedAt:        time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

var _ usecase.VerdictRepository = (*VerdictRepository)(nil)
