package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RoleRepository persists role definitions and account role links.
type RoleRepository struct {
	db DBTX
}

// NewRoleRepository creates a new RoleRepository instance. It accepts
// a pool or an open transaction.
func NewRoleRepository(db DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *RoleRepository) WithTx(tx pgx.Tx) *RoleRepository {
	return &RoleRepository{db: tx}
}

// GetByNames resolves role names to stored roles. Unknown names are
// skipped rather than erroring, so stale configuration cannot block an
// account update.
func (r *RoleRepository) GetByNames(ctx context.Context, names []string) ([]Role, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT id, name FROM roles WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, fmt.Errorf("get roles by name: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetForAccount returns the roles currently linked to an account.
func (r *RoleRepository) GetForAccount(ctx context.Context, accountID uint64) ([]Role, error) {
	query := `
		SELECT r.id, r.name
		FROM roles r
		JOIN account_roles ar ON ar.role_id = r.id
		WHERE ar.account_id = $1
		ORDER BY r.name`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Reconcile makes the account's linked roles exactly the desired set.
// It diffs against the current links and issues at most one bulk delete
// and one bulk insert, leaving unchanged links untouched.
func (r *RoleRepository) Reconcile(ctx context.Context, accountID uint64, desired []uint64) error {
	current, err := r.GetForAccount(ctx, accountID)
	if err != nil {
		return err
	}

	currentSet := make(map[uint64]bool, len(current))
	for _, role := range current {
		currentSet[role.ID] = true
	}
	desiredSet := make(map[uint64]bool, len(desired))
	for _, id := range desired {
		desiredSet[id] = true
	}

	var toRemove, toAdd []uint64
	for id := range currentSet {
		if !desiredSet[id] {
			toRemove = append(toRemove, id)
		}
	}
	for id := range desiredSet {
		if !currentSet[id] {
			toAdd = append(toAdd, id)
		}
	}

	if len(toRemove) > 0 {
		_, err := r.db.Exec(ctx,
			`DELETE FROM account_roles WHERE account_id = $1 AND role_id = ANY($2)`,
			accountID, toRemove)
		if err != nil {
			return fmt.Errorf("remove roles: %w", err)
		}
	}
	if len(toAdd) > 0 {
		_, err := r.db.Exec(ctx,
			`INSERT INTO account_roles (account_id, role_id)
			 SELECT $1, unnest($2::bigint[])`,
			accountID, toAdd)
		if err != nil {
			return fmt.Errorf("add roles: %w", err)
		}
	}
	return nil
}
