package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/port"
)

// PostgresStore handles all relational database operations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

// CreateProject inserts a new project record.
func (s *PostgresStore) CreateProject(ctx context.Context, p *domain.Project) (*domain.Project, error) {
	query := `INSERT INTO projects (id, user_id, name, repo_url, default_branch)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id, user_id, name, repo_url, default_branch, deleted_at, created_at`

	var out domain.Project
	err := s.db.QueryRowContext(ctx, query,
		uuid.NewString(), p.UserID, p.Name, p.RepoURL, p.DefaultBranch,
	).Scan(
		&out.ID, &out.UserID, &out.Name, &out.RepoURL, &out.DefaultBranch,
		&out.DeletedAt, &out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &out, nil
}

// GetProjectByID returns a project by its ID.
func (s *PostgresStore) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	query := `SELECT id, user_id, name, repo_url, default_branch, deleted_at, created_at
	          FROM projects WHERE id = $1`

	var p domain.Project
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.UserID, &p.Name, &p.RepoURL, &p.DefaultBranch, &p.DeletedAt, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// ListProjectsByUser returns all non-archived projects for a user.
func (s *PostgresStore) ListProjectsByUser(ctx context.Context, userID string) ([]domain.Project, error) {
	query := `SELECT id, user_id, name, repo_url, default_branch, deleted_at, created_at
	          FROM projects WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Name, &p.RepoURL, &p.DefaultBranch, &p.DeletedAt, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ArchiveProject soft-deletes a project.
func (s *PostgresStore) ArchiveProject(ctx context.Context, id string) error {
	query := `UPDATE projects SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("archive project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return port.ErrProjectNotFound
	}
	return nil
}

// DeleteProjectCascade removes a project and everything it owns.
// Child rows go first; foreign keys reference the project.
func (s *PostgresStore) DeleteProjectCascade(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM source_code_embeddings WHERE project_id = $1`,
		`DELETE FROM questions WHERE project_id = $1`,
		`DELETE FROM commits WHERE project_id = $1`,
		`DELETE FROM projects WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete project cascade: %w", err)
		}
	}

	return tx.Commit()
}

// --- Commits ---

// ListCommitHashes returns all stored commit hashes for a project.
// The commit pipeline uses this set to drop already-ingested commits.
func (s *PostgresStore) ListCommitHashes(ctx context.Context, projectID string) ([]string, error) {
	query := `SELECT commit_hash FROM commits WHERE project_id = $1`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list commit hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan commit hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// BulkInsertCommits persists a batch of summarized commits in one
// transaction. Two refreshes can race past the hash filter with the same
// batch; duplicates are dropped row by row so the rest of the batch lands.
func (s *PostgresStore) BulkInsertCommits(ctx context.Context, commits []domain.Commit) error {
	if len(commits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO commits (id, project_id, commit_hash, commit_message, commit_author_name, commit_author_avatar, commit_date, summary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (project_id, commit_hash) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range commits {
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), c.ProjectID, c.CommitHash, c.CommitMessage,
			c.CommitAuthorName, c.CommitAuthorAvatar, c.CommitDate, c.Summary,
		); err != nil {
			return fmt.Errorf("insert commit %s: %w", c.CommitHash, err)
		}
	}

	return tx.Commit()
}

// ListCommits returns stored commits for a project, newest first.
func (s *PostgresStore) ListCommits(ctx context.Context, projectID string) ([]domain.Commit, error) {
	query := `SELECT id, project_id, commit_hash, commit_message, commit_author_name, commit_author_avatar, commit_date, summary, created_at
	          FROM commits WHERE project_id = $1 ORDER BY commit_date DESC`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer rows.Close()

	var commits []domain.Commit
	for rows.Next() {
		var c domain.Commit
		if err := rows.Scan(
			&c.ID, &c.ProjectID, &c.CommitHash, &c.CommitMessage,
			&c.CommitAuthorName, &c.CommitAuthorAvatar, &c.CommitDate, &c.Summary, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// --- Questions ---

// SaveQuestion persists a Q&A exchange with its file references.
func (s *PostgresStore) SaveQuestion(ctx context.Context, q *domain.Question) (*domain.Question, error) {
	refs, err := json.Marshal(q.References)
	if err != nil {
		return nil, fmt.Errorf("marshal references: %w", err)
	}

	query := `INSERT INTO questions (id, project_id, user_id, question, answer, file_references)
	          VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	          RETURNING id, created_at`

	out := *q
	err = s.db.QueryRowContext(ctx, query,
		uuid.NewString(), q.ProjectID, q.UserID, q.Question, q.Answer, string(refs),
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save question: %w", err)
	}
	return &out, nil
}

// ListQuestions returns saved Q&A exchanges for a project, newest first.
func (s *PostgresStore) ListQuestions(ctx context.Context, projectID string) ([]domain.Question, error) {
	query := `SELECT id, project_id, user_id, question, answer, COALESCE(file_references::text, '[]'), created_at
	          FROM questions WHERE project_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			q    domain.Question
			refs string
		)
		if err := rows.Scan(&q.ID, &q.ProjectID, &q.UserID, &q.Question, &q.Answer, &refs, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal([]byte(refs), &q.References); err != nil {
			return nil, fmt.Errorf("decode references: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// --- Users ---

// GetUserByID fetches a user with their current credit balance.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, email, name, credits, created_at FROM users WHERE id = $1`

	var u domain.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &u.Credits, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// --- Credits ---

// Remaining implements port.CreditLedger.
func (s *PostgresStore) Remaining(ctx context.Context, userID string) (int, error) {
	var credits int
	err := s.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, port.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get credits: %w", err)
	}
	return credits, nil
}

// Debit implements port.CreditLedger. The guard keeps the balance from
// going negative under concurrent debits.
func (s *PostgresStore) Debit(ctx context.Context, userID string, amount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET credits = credits - $2 WHERE id = $1 AND credits >= $2`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("debit credits: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return port.ErrInsufficientFund
	}
	return nil
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *PostgresStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	query := `INSERT INTO audit_logs (user_id, action, resource, resource_id, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`
	_, err := s.db.ExecContext(context.Background(), query,
		userID, action, resource, resourceID, details, ip, userAgent,
	)
	return err
}

// ListAuditLogs returns recent audit logs with optional filters.
func (s *PostgresStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id, user_id, action, resource, resource_id, details, ip, user_agent, created_at
	          FROM audit_logs`
	args := []interface{}{}
	argIdx := 1

	if action != "" {
		query += fmt.Sprintf(" WHERE action = $%d", argIdx)
		args = append(args, action)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
