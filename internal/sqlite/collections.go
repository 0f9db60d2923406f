package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/subl/internal/subl"
)

const collectionNamespace = "-col"

func collectionByID(ctx context.Context, q sqlx.QueryerContext, id string) (subl.Collection, error) {
	return getOne[subl.Collection](ctx, q, "collection", id, `SELECT * FROM collections WHERE id = ?;`, id)
}

func (r Repo) CreateCollection(ctx context.Context, userID, name string, public bool) (subl.Collection, error) {
	name = strings.TrimSpace(name)
	if err := requireField("name", name); err != nil {
		return subl.Collection{}, err
	}

	const q = `INSERT INTO collections (id, user_id, name, public, created_at)
	VALUES (:id, :user_id, :name, :public, :created_at);`

	col := subl.Collection{
		ID:        newID(collectionNamespace),
		UserID:    userID,
		Name:      name,
		Public:    public,
		CreatedAt: r.clock(),
	}
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := mustExist(ctx, tx, "users", "user", userID); err != nil {
			return err
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, q, col); err != nil {
			return fmt.Errorf("error inserting collection: %w", err)
		}

		var err error
		col, err = collectionByID(ctx, tx, col.ID)
		return err
	})
	if err != nil {
		return subl.Collection{}, err
	}

	return col, nil
}

func (r Repo) Collection(ctx context.Context, id string) (subl.Collection, error) {
	return collectionByID(ctx, r.db, id)
}

func (r Repo) UserCollections(ctx context.Context, userID string) ([]subl.Collection, error) {
	const q = `SELECT * FROM collections WHERE user_id = ? ORDER BY created_at, id;`

	cols := []subl.Collection{}
	if err := r.db.SelectContext(ctx, &cols, q, userID); err != nil {
		return nil, fmt.Errorf("error selecting collections: %w", err)
	}

	return cols, nil
}

// PublicCollections returns every collection shared publicly.
func (r Repo) PublicCollections(ctx context.Context) ([]subl.Collection, error) {
	const q = `SELECT * FROM collections WHERE public = 1 ORDER BY created_at, id;`

	cols := []subl.Collection{}
	if err := r.db.SelectContext(ctx, &cols, q); err != nil {
		return nil, fmt.Errorf("error selecting public collections: %w", err)
	}

	return cols, nil
}

func (r Repo) updateCollection(ctx context.Context, id, q string, args ...any) (subl.Collection, error) {
	var col subl.Collection
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := execOne(ctx, tx, "collection", id, q, args...); err != nil {
			return err
		}

		var err error
		col, err = collectionByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return subl.Collection{}, err
	}

	return col, nil
}

func (r Repo) RenameCollection(ctx context.Context, id, name string) (subl.Collection, error) {
	name = strings.TrimSpace(name)
	if err := requireField("name", name); err != nil {
		return subl.Collection{}, err
	}

	return r.updateCollection(ctx, id, `UPDATE collections SET name = ? WHERE id = ?;`, name, id)
}

func (r Repo) SetCollectionPublic(ctx context.Context, id string, public bool) (subl.Collection, error) {
	return r.updateCollection(ctx, id, `UPDATE collections SET public = ? WHERE id = ?;`, public, id)
}

// DeleteCollection deletes the collection. Its items stay where they are;
// ones nothing else references are picked up by the next sweep.
func (r Repo) DeleteCollection(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := mustExist(ctx, tx, "collections", "collection", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM collection_items WHERE collection_id = ?;`, id); err != nil {
			return fmt.Errorf("error deleting collection items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?;`, id); err != nil {
			return fmt.Errorf("error deleting collection: %w", err)
		}

		return nil
	})
}

// AddCollectionItem pins an item in a collection, keeping it from expiring.
// Adding it twice is a no-op.
func (r Repo) AddCollectionItem(ctx context.Context, collectionID, itemID string) error {
	const q = `INSERT OR IGNORE INTO collection_items (collection_id, item_id, added_at) VALUES (?, ?, ?);`

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := mustExist(ctx, tx, "collections", "collection", collectionID); err != nil {
			return err
		}
		if err := mustExist(ctx, tx, "items", "item", itemID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, collectionID, itemID, r.clock()); err != nil {
			return fmt.Errorf("error adding item to collection: %w", err)
		}

		return nil
	})
}

func (r Repo) RemoveCollectionItem(ctx context.Context, collectionID, itemID string) error {
	const q = `DELETE FROM collection_items WHERE collection_id = ? AND item_id = ?;`

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return execOne(ctx, tx, "collection item", collectionID+"/"+itemID, q, collectionID, itemID)
	})
}

// CollectionItems returns the collection's items in the order they were
// added. A private collection is only visible to its owner; anyone else
// gets NotFound.
func (r Repo) CollectionItems(ctx context.Context, collectionID, viewerID string) ([]subl.Item, error) {
	col, err := r.Collection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !col.Public && col.UserID != viewerID {
		return nil, notFound("collection", collectionID)
	}

	const q = `SELECT i.* FROM items i
	JOIN collection_items ci ON ci.item_id = i.id
	WHERE ci.collection_id = ?
	ORDER BY ci.added_at, ci.rowid;`

	items := []subl.Item{}
	if err := r.db.SelectContext(ctx, &items, q, collectionID); err != nil {
		return nil, fmt.Errorf("error selecting collection items: %w", err)
	}

	return items, nil
}
