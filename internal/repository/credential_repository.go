package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notaflow/notaflow/internal/domain"
)

// credentialRepository implements CredentialRepository on Postgres. Material
// arrives already sealed; this layer never sees plaintext.
type credentialRepository struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(pool *pgxpool.Pool) CredentialRepository {
	return &credentialRepository{pool: pool}
}

const credentialColumns = `id, alias, cnpj, subject, issuer, not_before, not_after, sealed, salt, created_at`

func (r *credentialRepository) Store(ctx context.Context, cert domain.Certificate) (domain.Certificate, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (alias) DO UPDATE SET
			cnpj = EXCLUDED.cnpj, subject = EXCLUDED.subject, issuer = EXCLUDED.issuer,
			not_before = EXCLUDED.not_before, not_after = EXCLUDED.not_after,
			sealed = EXCLUDED.sealed, salt = EXCLUDED.salt`,
		cert.ID, cert.Alias, cert.CNPJ, nullable(cert.Subject), nullable(cert.Issuer),
		cert.NotBefore, cert.NotAfter, cert.Sealed, cert.Salt, cert.CreatedAt)
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("failed to store credential: %w", err)
	}
	return cert, nil
}

func (r *credentialRepository) GetByAlias(ctx context.Context, alias string) (domain.Certificate, error) {
	cert, err := scanCredential(r.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+` FROM credentials WHERE alias = $1`, alias))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Certificate{}, fmt.Errorf("credential %q: %w", alias, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("failed to get credential: %w", err)
	}
	return cert, nil
}

func (r *credentialRepository) List(ctx context.Context) ([]domain.Certificate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+credentialColumns+` FROM credentials ORDER BY alias`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var certs []domain.Certificate
	for rows.Next() {
		cert, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, rows.Err()
}

func (r *credentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanCredential(row pgx.Row) (domain.Certificate, error) {
	var (
		cert    domain.Certificate
		subject *string
		issuer  *string
	)
	err := row.Scan(&cert.ID, &cert.Alias, &cert.CNPJ, &subject, &issuer,
		&cert.NotBefore, &cert.NotAfter, &cert.Sealed, &cert.Salt, &cert.CreatedAt)
	if err != nil {
		return domain.Certificate{}, err
	}
	if subject != nil {
		cert.Subject = *subject
	}
	if issuer != nil {
		cert.Issuer = *issuer
	}
	return cert, nil
}
