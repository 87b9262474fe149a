package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/glotchimo/ark/internal/models"
	"github.com/graxinc/errutil"
)

func live(where sq.Eq) sq.And {
	return sq.And{where, sq.Eq{"deleted": nil}}
}

// PutBackup stores a backup unless its creator already holds limit backups. A limit of
// zero or less means no limit.
func (db *Database) PutBackup(ctx context.Context, b models.Backup, limit int) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if limit > 0 {
		count, err := tx.Count(ctx, models.TableBackups, live(sq.Eq{"creator_id": b.CreatorID}))
		if err != nil {
			return err
		}
		if count >= limit {
			return ErrLimitReached
		}
	}

	if err := tx.Create(ctx, b); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errutil.With(err)
	}
	return nil
}

func (db *Database) getBackupQuery(id string, withData bool) sq.SelectBuilder {
	columns := backupColumns
	if withData {
		columns = append(columns, backupDataColumn)
	}
	return db.builder.
		Select(columns...).
		From(string(models.TableBackups)).
		Where(live(sq.Eq{"id": id}))
}

// GetBackupHeader returns a backup without its document.
func (db *Database) GetBackupHeader(ctx context.Context, id string) (*models.Backup, error) {
	var b models.Backup

	if err := db.getBackupQuery(id, false).QueryRowContext(ctx).Scan(
		&b.ID,
		&b.GuildID,
		&b.CreatorID,
		&b.Name,
		&b.Created,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errutil.Wrap(err)
	}

	return &b, nil
}

func (db *Database) GetBackup(ctx context.Context, id string) (*models.Backup, error) {
	var b models.Backup
	var data []byte

	if err := db.getBackupQuery(id, true).QueryRowContext(ctx).Scan(
		&b.ID,
		&b.GuildID,
		&b.CreatorID,
		&b.Name,
		&b.Created,
		&data,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errutil.Wrap(err)
	}

	if err := json.Unmarshal(data, &b.Data); err != nil {
		return nil, errutil.With(err)
	}

	return &b, nil
}

func (db *Database) listBackupsQuery(creatorID string) sq.SelectBuilder {
	return db.builder.
		Select(backupColumns...).
		From(string(models.TableBackups)).
		Where(live(sq.Eq{"creator_id": creatorID})).
		OrderBy("created DESC")
}

// ListBackups returns the creator's backups newest first, without their documents.
func (db *Database) ListBackups(ctx context.Context, creatorID string) ([]models.Backup, error) {
	rows, err := db.listBackupsQuery(creatorID).QueryContext(ctx)
	if err != nil {
		return nil, errutil.With(err)
	}
	defer rows.Close()

	var out []models.Backup
	for rows.Next() {
		var b models.Backup
		if err := rows.Scan(&b.ID, &b.GuildID, &b.CreatorID, &b.Name, &b.Created); err != nil {
			return nil, errutil.With(err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errutil.With(err)
	}

	return out, nil
}

// DeleteBackup removes a backup owned by creatorID.
func (db *Database) DeleteBackup(ctx context.Context, id, creatorID string) error {
	return db.Delete(ctx, models.TableBackups, sq.Eq{"id": id, "creator_id": creatorID})
}

func (db *Database) SaveRestore(ctx context.Context, r models.Restore) error {
	return db.Create(ctx, r)
}
