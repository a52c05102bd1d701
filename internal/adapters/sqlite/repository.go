// Package sqlite stores managed instances in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/melih/wpfleet/internal/core/domain"
)

// Repository implements ports.InstanceRepository.
type Repository struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the database at dbPath and applies the
// schema.
func Open(dbPath string) (*Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	conn.SetMaxOpenConns(1)

	repo := &Repository{conn: conn, path: dbPath}
	if err := repo.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return repo, nil
}

func (r *Repository) Close() error {
	return r.conn.Close()
}

func (r *Repository) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			site_name TEXT NOT NULL,
			project_directory TEXT NOT NULL,
			db_name TEXT NOT NULL,
			db_user TEXT NOT NULL,
			db_password TEXT NOT NULL,
			site_url TEXT NOT NULL,
			http_port INTEGER NOT NULL UNIQUE,
			language TEXT NOT NULL DEFAULT 'en_US',
			state TEXT NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_state ON instances(state)`,
	}
	for _, query := range queries {
		if _, err := r.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

const instanceColumns = `id, site_name, project_directory, db_name, db_user, db_password,
	site_url, http_port, language, state, last_error, created_at, updated_at`

// Create inserts a new instance. A duplicate ID is a ValidationError.
func (r *Repository) Create(ctx context.Context, inst *domain.ManagedInstance) error {
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	_, err := r.conn.ExecContext(ctx, `INSERT INTO instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.SiteName, inst.ProjectDirectory, inst.DB.Name, inst.DB.User, inst.DB.Password,
		inst.SiteURL, inst.HTTPPort, inst.Language, string(inst.State), inst.LastError,
		inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: instances.id") {
			return domain.Validationf("instance %q already exists", inst.ID)
		}
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// Get returns the instance with id or a NotFoundError.
func (r *Repository) Get(ctx context.Context, id string) (*domain.ManagedInstance, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundf("instance %q not found", id)
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

// List returns all instances ordered by creation time.
func (r *Repository) List(ctx context.Context) ([]domain.ManagedInstance, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.ManagedInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// UpdateState records a provisioning transition.
func (r *Repository) UpdateState(ctx context.Context, id string, state domain.ProvisionState, lastErr string) error {
	res, err := r.conn.ExecContext(ctx,
		`UPDATE instances SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(state), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFoundf("instance %q not found", id)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.conn.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFoundf("instance %q not found", id)
	}
	return nil
}

// MaxHTTPPort returns the highest allocated host port, or 0.
func (r *Repository) MaxHTTPPort(ctx context.Context) (int, error) {
	var port sql.NullInt64
	if err := r.conn.QueryRowContext(ctx, `SELECT MAX(http_port) FROM instances`).Scan(&port); err != nil {
		return 0, fmt.Errorf("failed to query ports: %w", err)
	}
	return int(port.Int64), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(s scanner) (*domain.ManagedInstance, error) {
	var (
		inst  domain.ManagedInstance
		state string
	)
	err := s.Scan(
		&inst.ID, &inst.SiteName, &inst.ProjectDirectory, &inst.DB.Name, &inst.DB.User, &inst.DB.Password,
		&inst.SiteURL, &inst.HTTPPort, &inst.Language, &state, &inst.LastError,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.State = domain.ProvisionState(state)
	return &inst, nil
}
