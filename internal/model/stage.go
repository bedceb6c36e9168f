package model

import "time"

type Stage struct {
	ID         string      `db:"id" json:"id"`
	Code       string      `db:"code" json:"code"`
	Title      string      `db:"title" json:"title"`
	HostID     string      `db:"host_id" json:"hostId"`
	InstanceID string      `db:"instance_id" json:"-"`
	Status     StageStatus `db:"status" json:"status"`
	CreatedAt  time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updatedAt"`
}

type CreateStageParams struct {
	Code       string
	Title      string
	HostID     string
	InstanceID string
}
