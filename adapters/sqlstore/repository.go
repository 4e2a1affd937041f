package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rsesek/hoplite/domain/record"
)

// Repository runs the CRUD statements of one record type.
type Repository[T any] struct {
	q      Querier
	ph     record.Placeholder
	schema record.Schema
}

// NewRepository creates a repository for records of type T stored as schema
// describes.
func NewRepository[T any](q Querier, ph record.Placeholder, schema record.Schema) *Repository[T] {
	return &Repository[T]{q: q, ph: ph, schema: schema}
}

// Schema returns the repository's schema.
func (r *Repository[T]) Schema() record.Schema { return r.schema }

// WithCondition returns a repository that addresses single rows with cond.
func (r *Repository[T]) WithCondition(cond string) *Repository[T] {
	c := *r
	c.schema = r.schema.WithCondition(cond)
	return &c
}

// New allocates a record addressed by key. See record.New.
func (r *Repository[T]) New(key any) (*T, error) {
	return record.New[T](r.schema, key)
}

// Fetch loads the row addressed by rec into a new record.
func (r *Repository[T]) Fetch(ctx context.Context, rec *T) (*T, error) {
	values, err := record.Values(rec)
	if err != nil {
		return nil, err
	}
	query, args := record.Bind(
		fmt.Sprintf("SELECT * FROM %s WHERE %s", r.schema.TableName(), r.schema.Where()),
		values, r.ph)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.schema.TableName(), err)
	}
	defer rows.Close()

	found, err := scanRows[T](rows, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.schema.TableName(), err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", r.schema.TableName(), record.ErrNotFound)
	}
	return found[0], nil
}

// FetchInto loads the row addressed by rec into rec, overwriting its fields.
func (r *Repository[T]) FetchInto(ctx context.Context, rec *T) error {
	row, err := r.Fetch(ctx, rec)
	if err != nil {
		return err
	}
	values, err := record.Values(row)
	if err != nil {
		return err
	}
	return record.SetFrom(rec, values)
}

// Insert adds rec as a new row. A single-column key is not written; it is set
// on rec from the database afterwards.
func (r *Repository[T]) Insert(ctx context.Context, rec *T) error {
	values, err := record.Values(rec)
	if err != nil {
		return err
	}
	cols, err := record.SetColumns(rec)
	if err != nil {
		return err
	}
	autoKey, hasAuto := r.schema.AutoKey()
	if hasAuto {
		delete(values, autoKey)
		cols = without(cols, autoKey)
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", r.schema.TableName())
	} else {
		params := make([]string, len(cols))
		for i, c := range cols {
			params[i] = ":" + c
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			r.schema.TableName(), strings.Join(cols, ", "), strings.Join(params, ", "))
	}

	returning := hasAuto && r.ph == record.Dollar
	if returning {
		query += " RETURNING " + autoKey
	}
	query, args := record.Bind(query, values, r.ph)

	if returning {
		var id any
		if err := r.q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return fmt.Errorf("insert %s: %w", r.schema.TableName(), err)
		}
		return record.Set(rec, autoKey, id)
	}

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.schema.TableName(), err)
	}
	if !hasAuto {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert %s: last insert id: %w", r.schema.TableName(), err)
	}
	return record.Set(rec, autoKey, id)
}

// Update writes the set fields of rec to the row it addresses. Unset fields
// keep their stored values.
func (r *Repository[T]) Update(ctx context.Context, rec *T) error {
	values, err := record.Values(rec)
	if err != nil {
		return err
	}
	cols, err := record.SetColumns(rec)
	if err != nil {
		return err
	}
	if autoKey, ok := r.schema.AutoKey(); ok {
		cols = without(cols, autoKey)
	}
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = :" + c
	}
	query, args := record.Bind(
		fmt.Sprintf("UPDATE %s SET %s WHERE %s", r.schema.TableName(), strings.Join(sets, ", "), r.schema.Where()),
		values, r.ph)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s: %w", r.schema.TableName(), err)
	}
	return nil
}

// Delete removes the row addressed by rec.
func (r *Repository[T]) Delete(ctx context.Context, rec *T) error {
	values, err := record.Values(rec)
	if err != nil {
		return err
	}
	query, args := record.Bind(
		fmt.Sprintf("DELETE FROM %s WHERE %s", r.schema.TableName(), r.schema.Where()),
		values, r.ph)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s: %w", r.schema.TableName(), err)
	}
	return nil
}

// FetchGroup returns every row matching cond, or all rows when cond is empty.
// Parameters are either positional values for ? placeholders or a single
// map[string]any for :name parameters.
func (r *Repository[T]) FetchGroup(ctx context.Context, cond string, params ...any) ([]*T, error) {
	query := "SELECT * FROM " + r.schema.TableName()
	if cond != "" {
		query += " WHERE " + cond
	}

	args := params
	if len(params) == 1 {
		if named, ok := params[0].(map[string]any); ok {
			query, args = record.Bind(query, named, r.ph)
		}
	}
	query = record.Rebind(query, r.ph)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch group %s: %w", r.schema.TableName(), err)
	}
	defer rows.Close()

	found, err := scanRows[T](rows, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch group %s: %w", r.schema.TableName(), err)
	}
	return found, nil
}

// scanRows reads up to limit rows into records; limit 0 reads all of them.
func scanRows[T any](rows *sql.Rows, limit int) ([]*T, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []*T
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		rec := new(T)
		if err := record.SetFrom(rec, row); err != nil {
			return nil, err
		}
		out = append(out, rec)

		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}

func without(cols []string, col string) []string {
	out := cols[:0:0]
	for _, c := range cols {
		if c != col {
			out = append(out, c)
		}
	}
	return out
}
