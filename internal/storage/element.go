package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"appbuilder/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ElementStore implements domain.ElementStore using SQLite.
type ElementStore struct {
	db *DB
}

func NewElementStore(db *DB) *ElementStore {
	return &ElementStore{db: db}
}

const elementColumns = `id, page_id, parent_id, tag, props_json, binding_json, order_num, deleted`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanElement(r rowScanner) (domain.Element, error) {
	var (
		e           domain.Element
		parentID    sql.NullString
		propsJSON   string
		bindingJSON string
	)
	if err := r.Scan(&e.ID, &e.PageID, &parentID, &e.Tag, &propsJSON, &bindingJSON, &e.OrderNum, &e.Deleted); err != nil {
		return e, err
	}
	if parentID.Valid {
		e.ParentID = domain.StringPtr(parentID.String)
	}
	if err := json.Unmarshal([]byte(propsJSON), &e.Props); err != nil {
		return e, fmt.Errorf("decode props of %s: %w", e.ID, err)
	}
	if e.Props == nil {
		e.Props = map[string]any{}
	}
	if bindingJSON != "" {
		e.DataBinding = &domain.BindingDescriptor{}
		if err := json.Unmarshal([]byte(bindingJSON), e.DataBinding); err != nil {
			return e, fmt.Errorf("decode binding of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// elementArgs encodes the mutable columns of e.
func elementArgs(e *domain.Element) (parent any, props, binding string, err error) {
	if e.ParentID != nil {
		parent = *e.ParentID
	}
	p := e.Props
	if p == nil {
		p = map[string]any{}
	}
	pb, err := json.Marshal(p)
	if err != nil {
		return nil, "", "", fmt.Errorf("encode props of %s: %w", e.ID, err)
	}
	if e.DataBinding != nil {
		bb, err := json.Marshal(e.DataBinding)
		if err != nil {
			return nil, "", "", fmt.Errorf("encode binding of %s: %w", e.ID, err)
		}
		binding = string(bb)
	}
	return parent, string(pb), binding, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertElement(x execer, e *domain.Element, now time.Time) error {
	parent, props, binding, err := elementArgs(e)
	if err != nil {
		return err
	}
	_, err = x.Exec(
		`INSERT INTO elements (id, page_id, parent_id, tag, props_json, binding_json, order_num, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PageID, parent, e.Tag, props, binding, e.OrderNum, e.Deleted, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert element %s: %w", e.ID, err)
	}
	return nil
}

func (s *ElementStore) CreateElement(e *domain.Element) error {
	return insertElement(s.db.Conn(), e, time.Now())
}

func (s *ElementStore) GetElement(id string) (*domain.Element, error) {
	e, err := scanElement(s.db.Conn().QueryRow(
		`SELECT `+elementColumns+` FROM elements WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get element %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get element: %w", err)
	}
	return &e, nil
}

// ListElements returns the page's collection in original order, soft-deleted
// elements included.
func (s *ElementStore) ListElements(pageID string) ([]domain.Element, error) {
	rows, err := s.db.Conn().Query(
		`SELECT `+elementColumns+` FROM elements WHERE page_id = ? ORDER BY seq ASC`, pageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	elements := []domain.Element{}
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, e)
	}
	return elements, rows.Err()
}

func (s *ElementStore) UpdateElement(e *domain.Element) error {
	parent, props, binding, err := elementArgs(e)
	if err != nil {
		return err
	}
	res, err := s.db.Conn().Exec(
		`UPDATE elements SET parent_id = ?, tag = ?, props_json = ?, binding_json = ?, order_num = ?, deleted = ?, updated_at = ? WHERE id = ?`,
		parent, e.Tag, props, binding, e.OrderNum, e.Deleted, time.Now(), e.ID,
	)
	if err != nil {
		return fmt.Errorf("update element %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update element %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (s *ElementStore) DeleteElement(id string) error {
	_, err := s.db.Conn().Exec(`DELETE FROM elements WHERE id = ?`, id)
	return err
}

func (s *ElementStore) SoftDeleteElement(id string) error {
	_, err := s.db.Conn().Exec(`UPDATE elements SET deleted = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// ReplacePageElements atomically replaces the whole collection of a page,
// keeping the given order as the stored collection order.
func (s *ElementStore) ReplacePageElements(pageID string, elements []domain.Element) error {
	tx, err := s.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM elements WHERE page_id = ?`, pageID); err != nil {
		return fmt.Errorf("delete elements: %w", err)
	}

	now := time.Now()
	for i := range elements {
		e := elements[i]
		e.PageID = pageID
		if err := insertElement(tx, &e, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Fingerprint summarizes a page's elements (count + last update) so pollers
// can detect edits made by another process.
func (s *ElementStore) Fingerprint(pageID string) (string, error) {
	var (
		count   int
		updated string
	)
	err := s.db.Conn().QueryRow(
		`SELECT COUNT(*), COALESCE(MAX(updated_at), '') FROM elements WHERE page_id = ?`, pageID,
	).Scan(&count, &updated)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%s", count, updated), nil
}
