package db

import "time"

type VerdictModel struct {
	ID               int64     `gorm:"primaryKey"`
	ChallengeID      string    `gorm:"index;not null"`
	NodeID           string    `gorm:"index;not null"`
	EpochID          uint64    `gorm:"index;not null"`
	ChallengeType    string    `gorm:"not null"`
	OK               bool      `gorm:"not null"`
	Reason           string
	ResponseBodyHash string
	CreatedAt        time.Time `gorm:"not null"`
}

func (VerdictModel) TableName() string {
	return "verdicts"
}
