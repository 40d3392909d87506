// Package store persists multi-epoch raster containers. A container is a
// single SQLite file laid out as file-type group -> epoch subgroup -> raster
// dataset, with attribute dictionaries attached at both levels. Raster
// payloads are deflate-compressed little-endian float32 blobs.
//
// A container has a single writer; concurrent writers to the same file are
// unsupported and must be serialized by the caller.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"insarstack/pkg/attr"
	"insarstack/pkg/raster"
)

// layoutVersion is stamped into PRAGMA user_version on create and checked on
// open so that future layout changes can be detected.
const layoutVersion = 1

// CorruptContainerError reports an existing container file that could not be
// read. The loader recovers from it by deleting and recreating the file.
type CorruptContainerError struct {
	Path string
	Err  error
}

func (e *CorruptContainerError) Error() string {
	return fmt.Sprintf("container %s is unreadable: %v", e.Path, e.Err)
}

func (e *CorruptContainerError) Unwrap() error { return e.Err }

// Container is an open multi-epoch raster container.
type Container struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS group_attrs (
	file_type TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (file_type, key)
);
CREATE TABLE IF NOT EXISTS epochs (
	file_type TEXT NOT NULL,
	epoch_id  TEXT NOT NULL,
	width     INTEGER NOT NULL,
	height    INTEGER NOT NULL,
	data      BLOB NOT NULL,
	PRIMARY KEY (file_type, epoch_id)
);
CREATE TABLE IF NOT EXISTS epoch_attrs (
	file_type TEXT NOT NULL,
	epoch_id  TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (file_type, epoch_id, key)
);
`

// Create creates a new container file, replacing any existing file at path.
func Create(path string) (*Container, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("creating container %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing container %s: %w", path, err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", layoutVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing container %s: %w", path, err)
	}
	return &Container{db: db, path: path}, nil
}

// Open opens an existing container. It returns os.ErrNotExist when the file
// is missing and a *CorruptContainerError when the file exists but is not a
// readable container.
func Open(path string) (*Container, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &CorruptContainerError{Path: path, Err: err}
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		db.Close()
		return nil, &CorruptContainerError{Path: path, Err: err}
	}
	var n int
	err = db.QueryRow(
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'epochs'").Scan(&n)
	if err != nil || n == 0 {
		db.Close()
		if err == nil {
			err = fmt.Errorf("no epochs table (user_version %d)", version)
		}
		return nil, &CorruptContainerError{Path: path, Err: err}
	}
	return &Container{db: db, path: path}, nil
}

// OpenAppend opens a container for incremental merging. A missing file is
// created; an unreadable file is deleted and recreated, which loses its
// previous contents. The destructive recovery is logged as a warning.
func OpenAppend(path string, log *zap.Logger) (*Container, error) {
	c, err := Open(path)
	if err == nil {
		return c, nil
	}
	var corrupt *CorruptContainerError
	if errors.As(err, &corrupt) {
		log.Warn("container exists but is unreadable, deleting and recreating",
			zap.String("path", path),
			zap.Error(corrupt.Err))
		return Create(path)
	}
	if errors.Is(err, os.ErrNotExist) {
		return Create(path)
	}
	return nil, err
}

// Close closes the container handle.
func (c *Container) Close() error {
	return c.db.Close()
}

// Path returns the container file path.
func (c *Container) Path() string {
	return c.path
}

// FileTypes lists the file-type groups present in the container.
func (c *Container) FileTypes() ([]string, error) {
	rows, err := c.db.Query(`
		SELECT file_type FROM epochs
		UNION SELECT file_type FROM group_attrs
		ORDER BY file_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// PrimaryFileType returns the container's single file-type group. Containers
// written by the loader always hold exactly one.
func (c *Container) PrimaryFileType() (string, error) {
	types, err := c.FileTypes()
	if err != nil {
		return "", err
	}
	if len(types) == 0 {
		return "", fmt.Errorf("container %s is empty", c.path)
	}
	if len(types) > 1 {
		return "", fmt.Errorf("container %s holds %d file types, expected one", c.path, len(types))
	}
	return types[0], nil
}

// Epochs lists the epoch ids stored under a file type, sorted.
func (c *Container) Epochs(fileType string) ([]string, error) {
	rows, err := c.db.Query(
		"SELECT epoch_id FROM epochs WHERE file_type = ? ORDER BY epoch_id", fileType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasEpoch reports whether an epoch id already exists under a file type.
func (c *Container) HasEpoch(fileType, epochID string) (bool, error) {
	var n int
	err := c.db.QueryRow(
		"SELECT count(*) FROM epochs WHERE file_type = ? AND epoch_id = ?",
		fileType, epochID).Scan(&n)
	return n > 0, err
}

// WriteEpoch stores a raster and its attributes under fileType/epochID.
// Stored epochs are immutable: writing an id that already exists fails.
func (c *Container) WriteEpoch(fileType, epochID string, g *raster.Grid, atr attr.Dict) error {
	blob, err := encodeGrid(g)
	if err != nil {
		return err
	}
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO epochs (file_type, epoch_id, width, height, data) VALUES (?, ?, ?, ?, ?)",
		fileType, epochID, g.Width, g.Height, blob)
	if err != nil {
		return fmt.Errorf("writing epoch %s/%s: %w", fileType, epochID, err)
	}
	for k, v := range atr {
		_, err = tx.Exec(
			"INSERT INTO epoch_attrs (file_type, epoch_id, key, value) VALUES (?, ?, ?, ?)",
			fileType, epochID, k, v)
		if err != nil {
			return fmt.Errorf("writing attributes of %s/%s: %w", fileType, epochID, err)
		}
	}
	return tx.Commit()
}

// ReadEpoch loads the raster and attribute dictionary of one epoch.
func (c *Container) ReadEpoch(fileType, epochID string) (*raster.Grid, attr.Dict, error) {
	var width, height int
	var blob []byte
	err := c.db.QueryRow(
		"SELECT width, height, data FROM epochs WHERE file_type = ? AND epoch_id = ?",
		fileType, epochID).Scan(&width, &height, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("epoch %s/%s not found in %s", fileType, epochID, c.path)
	}
	if err != nil {
		return nil, nil, err
	}
	g, err := decodeGrid(blob, width, height)
	if err != nil {
		return nil, nil, fmt.Errorf("epoch %s/%s: %w", fileType, epochID, err)
	}
	atr, err := c.EpochAttrs(fileType, epochID)
	if err != nil {
		return nil, nil, err
	}
	return g, atr, nil
}

// EpochAttrs loads the attribute dictionary of one epoch.
func (c *Container) EpochAttrs(fileType, epochID string) (attr.Dict, error) {
	return c.readAttrs(
		"SELECT key, value FROM epoch_attrs WHERE file_type = ? AND epoch_id = ?",
		fileType, epochID)
}

// Attrs loads the file-type-level attribute dictionary.
func (c *Container) Attrs(fileType string) (attr.Dict, error) {
	return c.readAttrs(
		"SELECT key, value FROM group_attrs WHERE file_type = ?", fileType)
}

func (c *Container) readAttrs(query string, args ...any) (attr.Dict, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	d := make(attr.Dict)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		d[k] = v
	}
	return d, rows.Err()
}

// SetAttrs adds or overwrites file-type-level attributes.
func (c *Container) SetAttrs(fileType string, atr attr.Dict) error {
	return c.upsertAttrs(
		"INSERT INTO group_attrs (file_type, key, value) VALUES (?, ?, ?) "+
			"ON CONFLICT (file_type, key) DO UPDATE SET value = excluded.value",
		fileType, "", atr, false)
}

// SetEpochAttrs adds or overwrites attributes of one epoch.
func (c *Container) SetEpochAttrs(fileType, epochID string, atr attr.Dict) error {
	return c.upsertAttrs(
		"INSERT INTO epoch_attrs (file_type, epoch_id, key, value) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (file_type, epoch_id, key) DO UPDATE SET value = excluded.value",
		fileType, epochID, atr, true)
}

func (c *Container) upsertAttrs(query, fileType, epochID string, atr attr.Dict, withEpoch bool) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for k, v := range atr {
		if withEpoch {
			_, err = tx.Exec(query, fileType, epochID, k, v)
		} else {
			_, err = tx.Exec(query, fileType, k, v)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteEpochAttrs removes the named attribute keys from every epoch and from
// the file-type group. Missing keys are ignored.
func (c *Container) DeleteEpochAttrs(fileType string, keys []string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, k := range keys {
		if _, err := tx.Exec(
			"DELETE FROM epoch_attrs WHERE file_type = ? AND key = ?", fileType, k); err != nil {
			return err
		}
		if _, err := tx.Exec(
			"DELETE FROM group_attrs WHERE file_type = ? AND key = ?", fileType, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Size returns the nominal width and length of the container: the group
// attributes when declared, otherwise the dimensions of the first epoch.
func (c *Container) Size(fileType string) (width, length int, err error) {
	atr, err := c.Attrs(fileType)
	if err != nil {
		return 0, 0, err
	}
	if w, l, err := atr.Size(); err == nil {
		return w, l, nil
	}
	err = c.db.QueryRow(
		"SELECT width, height FROM epochs WHERE file_type = ? ORDER BY epoch_id LIMIT 1",
		fileType).Scan(&width, &length)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("container %s has no epochs under %s", c.path, fileType)
	}
	return width, length, err
}
