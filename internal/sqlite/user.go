package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/subl/internal/subl"
)

const userNamespace = "-usr"

// EnsureUser returns the user with the external identity selfID, creating
// it on first sight.
func (r Repo) EnsureUser(ctx context.Context, selfID, profile string) (subl.User, error) {
	selfID = strings.TrimSpace(selfID)
	if err := requireField("self_id", selfID); err != nil {
		return subl.User{}, err
	}

	const q = `INSERT INTO users (id, self_id, profile, created_at)
	VALUES (:id, :self_id, :profile, :created_at)
	ON CONFLICT (self_id) DO NOTHING;`

	usr := subl.User{
		ID:        newID(userNamespace),
		SelfID:    selfID,
		Profile:   profile,
		CreatedAt: r.clock(),
	}
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := sqlx.NamedExecContext(ctx, tx, q, usr); err != nil {
			return fmt.Errorf("error inserting user: %w", err)
		}

		var err error
		usr, err = getOne[subl.User](ctx, tx, "user", selfID, `SELECT * FROM users WHERE self_id = ?;`, selfID)
		return err
	})
	if err != nil {
		return subl.User{}, err
	}

	return usr, nil
}

func (r Repo) User(ctx context.Context, id string) (subl.User, error) {
	return getOne[subl.User](ctx, r.db, "user", id, `SELECT * FROM users WHERE id = ?;`, id)
}

func (r Repo) UserBySelfID(ctx context.Context, selfID string) (subl.User, error) {
	selfID = strings.TrimSpace(selfID)
	return getOne[subl.User](ctx, r.db, "user", selfID, `SELECT * FROM users WHERE self_id = ?;`, selfID)
}

func (r Repo) UpdateProfile(ctx context.Context, id, profile string) (subl.User, error) {
	const q = `UPDATE users SET profile = ? WHERE id = ?;`

	var usr subl.User
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := execOne(ctx, tx, "user", id, q, profile, id); err != nil {
			return err
		}

		var err error
		usr, err = getOne[subl.User](ctx, tx, "user", id, `SELECT * FROM users WHERE id = ?;`, id)
		return err
	})
	if err != nil {
		return subl.User{}, err
	}

	return usr, nil
}
