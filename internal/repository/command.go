package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"phone-bridge-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CommandRepository handles database operations for command records
type CommandRepository struct {
	db *pgxpool.Pool
}

// NewCommandRepository creates a new command repository
func NewCommandRepository(db *pgxpool.Pool) *CommandRepository {
	return &CommandRepository{db: db}
}

const commandColumns = `id, user_id, type, data, status, result, error, created_at, resolved_at`

func scanCommand(row pgx.Row) (*models.Command, error) {
	var c models.Command
	err := row.Scan(
		&c.ID, &c.UserID, &c.Type, &c.Data, &c.Status, &c.Result, &c.Error,
		&c.CreatedAt, &c.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create persists a new pending command record
func (r *CommandRepository) Create(ctx context.Context, cmd *models.Command) error {
	query := `
		INSERT INTO commands (id, user_id, type, data, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, cmd.ID, cmd.UserID, cmd.Type, cmd.Data, cmd.Status, cmd.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create command: %w", err)
	}
	return nil
}

// GetByID retrieves a command by ID
func (r *CommandRepository) GetByID(ctx context.Context, id string) (*models.Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE id = $1
	`
	c, err := scanCommand(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("command not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get command: %w", err)
	}
	return c, nil
}

// Resolve applies the single allowed status transition pending -> terminal.
// The conditional update rejects a second resolution of the same record.
func (r *CommandRepository) Resolve(ctx context.Context, id string, status models.CommandStatus, result json.RawMessage, errMsg *string) (*models.Command, error) {
	if status != models.CommandCompleted && status != models.CommandFailed {
		return nil, fmt.Errorf("invalid terminal status %q", status)
	}

	query := `
		UPDATE commands
		SET status = $1, result = $2, error = $3, resolved_at = $4
		WHERE id = $5 AND status = 'pending'
		RETURNING ` + commandColumns
	c, err := scanCommand(r.db.QueryRow(ctx, query, status, result, errMsg, time.Now(), id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("command already resolved: %w", err)
		}
		return nil, fmt.Errorf("failed to resolve command: %w", err)
	}
	return c, nil
}

// ListPending returns the user's unresolved commands, oldest first. Used to
// re-dispatch work when the agent reconnects.
func (r *CommandRepository) ListPending(ctx context.Context, userID string, limit int) ([]*models.Command, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending commands: %w", err)
	}
	defer rows.Close()

	var cmds []*models.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read commands: %w", err)
	}
	return cmds, nil
}
