package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/slok/xferd/internal/model"
)

const profileColumns = `
	id, name, provider, endpoint, region,
	force_path_style, preserve_leading_slash,
	access_key_id, secret_access_key, session_token,
	tls_insecure_skip_verify, tls_mode, tls_client_cert_pem, tls_client_key_pem, tls_ca_cert_pem,
	created_at
`

// CreateProfile creates a new profile.
func (r *Repository) CreateProfile(ctx context.Context, p model.Profile) error {
	var tlsMode, cert, key, ca string
	if p.TLS != nil {
		tlsMode, cert, key, ca = string(p.TLS.Mode), p.TLS.ClientCertPEM, p.TLS.ClientKeyPEM, p.TLS.CACertPEM
	}

	query := `
		INSERT INTO profiles (` + profileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Name, string(p.Provider), p.Endpoint, p.Region,
		p.ForcePathStyle, p.PreserveLeadingSlash,
		p.AccessKeyID, p.SecretAccessKey, p.SessionToken,
		p.TLSInsecureSkipVerify, tlsMode, cert, key, ca,
		p.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: profiles.") {
			return fmt.Errorf("profile already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert profile: %w", err)
	}

	r.logger.Debugf("Created profile in repository: %s", p.ID)
	return nil
}

// GetProfile retrieves a profile by ID.
func (r *Repository) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return r.getProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
}

// GetProfileByName retrieves a profile by name.
func (r *Repository) GetProfileByName(ctx context.Context, name string) (*model.Profile, error) {
	return r.getProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE name = ?`, name)
}

func (r *Repository) getProfile(ctx context.Context, query, arg string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", arg, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query profile: %w", err)
	}
	return &p, nil
}

// ListProfiles returns all the profiles sorted by name.
func (r *Repository) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("could not query profiles: %w", err)
	}
	defer rows.Close()

	ps := []model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return ps, nil
}

// DeleteProfile deletes a profile.
func (r *Repository) DeleteProfile(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not delete profile: %w", err)
	}
	return checkAffected(result, fmt.Sprintf("profile %s", id))
}

func scanProfile(s scanner) (model.Profile, error) {
	var (
		p                  model.Profile
		provider           string
		tlsMode, cert, key string
		ca                 string
		createdAt          int64
	)
	err := s.Scan(
		&p.ID, &p.Name, &provider, &p.Endpoint, &p.Region,
		&p.ForcePathStyle, &p.PreserveLeadingSlash,
		&p.AccessKeyID, &p.SecretAccessKey, &p.SessionToken,
		&p.TLSInsecureSkipVerify, &tlsMode, &cert, &key, &ca,
		&createdAt,
	)
	if err != nil {
		return model.Profile{}, err
	}

	p.Provider = model.ProfileProvider(provider)
	p.CreatedAt = timeFromUnix(createdAt)
	if tlsMode != "" {
		p.TLS = &model.TLSConfig{
			Mode:          model.TLSMode(tlsMode),
			ClientCertPEM: cert,
			ClientKeyPEM:  key,
			CACertPEM:     ca,
		}
	}

	return p, nil
}
