package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stagedoor/handoff-server-go/internal/model"
)

type StageRepository interface {
	FindByID(ctx context.Context, id string) (*model.Stage, error)
	FindLiveByCode(ctx context.Context, code string) (*model.Stage, error)
	Create(ctx context.Context, params model.CreateStageParams) (*model.Stage, error)
	MarkEnded(ctx context.Context, id string) error
	DeleteEnded(ctx context.Context) (int64, error)
}

type stageDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type stageRepo struct {
	db stageDB
}

func NewStageRepository(db *sqlx.DB) StageRepository {
	return &stageRepo{db: db}
}

func (r *stageRepo) FindByID(ctx context.Context, id string) (*model.Stage, error) {
	var stage model.Stage
	err := r.db.GetContext(ctx, &stage, `
		SELECT * FROM stages WHERE id = $1
	`, id)
	return HandleNotFound(&stage, err)
}

func (r *stageRepo) FindLiveByCode(ctx context.Context, code string) (*model.Stage, error) {
	var stage model.Stage
	err := r.db.GetContext(ctx, &stage, `
		SELECT * FROM stages
		WHERE code = $1 AND status = 0
	`, code)
	return HandleNotFound(&stage, err)
}

func (r *stageRepo) Create(ctx context.Context, params model.CreateStageParams) (*model.Stage, error) {
	var stage model.Stage
	err := r.db.GetContext(ctx, &stage, `
		INSERT INTO stages (code, title, host_id, instance_id)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.Code, params.Title, params.HostID, params.InstanceID)
	if err != nil {
		return nil, err
	}
	return &stage, nil
}

func (r *stageRepo) MarkEnded(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE stages SET
			status = 1,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *stageRepo) DeleteEnded(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM stages WHERE status = 1
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
