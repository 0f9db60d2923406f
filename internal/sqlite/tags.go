package sqlite

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	sublerrs "github.com/jdholdren/subl/internal/errors"
	"github.com/jdholdren/subl/internal/subl"
)

// SetTags replaces the subscription's tags with terms. Terms already
// present keep their row and get the new label.
func (r Repo) SetTags(ctx context.Context, subscriptionID string, terms []subl.TagTerm) ([]subl.Tag, error) {
	var (
		clean = make([]subl.TagTerm, 0, len(terms))
		keep  = make([]string, 0, len(terms))
		seen  = make(map[string]bool, len(terms))
	)
	for i, t := range terms {
		term := strings.TrimSpace(t.Term)
		if term == "" {
			return nil, sublerrs.E(sublerrs.Invalid, "tag term is required",
				sublerrs.Detail{Field: fmt.Sprintf("terms[%d]", i), Error: "is required"})
		}
		if seen[term] {
			return nil, sublerrs.E(sublerrs.Conflict, fmt.Sprintf("tag %q given twice", term),
				sublerrs.Detail{Field: fmt.Sprintf("terms[%d]", i), Error: "duplicate term"})
		}
		seen[term] = true
		keep = append(keep, term)
		clean = append(clean, subl.TagTerm{Term: term, Label: t.Label})
	}

	const upsert = `INSERT INTO tags (subscription_id, term, label) VALUES (?, ?, ?)
	ON CONFLICT (subscription_id, term) DO UPDATE SET label = excluded.label;`

	var tags []subl.Tag
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := mustExist(ctx, tx, "subscriptions", "subscription", subscriptionID); err != nil {
			return err
		}

		query, args, err := sq.Delete("tags").
			Where(sq.Eq{"subscription_id": subscriptionID}).
			Where(sq.NotEq{"term": keep}).
			ToSql()
		if err != nil {
			return fmt.Errorf("error constructing sql: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("error deleting tags: %w", err)
		}

		for _, t := range clean {
			if _, err := tx.ExecContext(ctx, upsert, subscriptionID, t.Term, t.Label); err != nil {
				return fmt.Errorf("error upserting tag: %w", err)
			}
		}

		tags, err = tagsOf(ctx, tx, subscriptionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return tags, nil
}

// Tags returns the subscription's tags ordered by term.
func (r Repo) Tags(ctx context.Context, subscriptionID string) ([]subl.Tag, error) {
	if err := mustExist(ctx, r.db, "subscriptions", "subscription", subscriptionID); err != nil {
		return nil, err
	}

	return tagsOf(ctx, r.db, subscriptionID)
}

func tagsOf(ctx context.Context, q sqlx.QueryerContext, subscriptionID string) ([]subl.Tag, error) {
	tags := []subl.Tag{}
	if err := sqlx.SelectContext(ctx, q, &tags, `SELECT * FROM tags WHERE subscription_id = ? ORDER BY term;`, subscriptionID); err != nil {
		return nil, fmt.Errorf("error selecting tags: %w", err)
	}

	return tags, nil
}
