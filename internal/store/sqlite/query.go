package sqlite

import (
	"fmt"
	"strings"

	"github.com/roach88/mestor/internal/store"
)

// columns maps filterable fields to their column names. Only names from this
// table are ever written into SQL text; values are always parameters.
var columns = map[store.Field]string{
	store.FieldCategory:       "category",
	store.FieldStreamName:     "stream_name",
	store.FieldType:           "type",
	store.FieldPosition:       "position",
	store.FieldGlobalPosition: "global_position",
}

const selectColumns = "id, type, stream_name, category, position, global_position, time, data, metadata"

// compileSelect builds a parameterized SELECT for a filter, sort and limit.
// Every query carries an ORDER BY with an id tiebreaker.
func compileSelect(f store.Filter, srt store.Sort, limit int) (string, []any, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}
	if err := srt.Validate(); err != nil {
		return "", nil, err
	}

	where, params, err := compileFilter(f)
	if err != nil {
		return "", nil, err
	}

	orderBy, err := compileSort(srt)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumns)
	b.WriteString(" FROM messages")
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, limit)
	}

	return b.String(), params, nil
}

// compileFilter turns a conjunction of predicates into a WHERE fragment.
func compileFilter(f store.Filter) (string, []any, error) {
	if len(f) == 0 {
		return "", nil, nil
	}

	parts := make([]string, 0, len(f))
	params := make([]any, 0, len(f))
	for _, p := range f {
		switch pred := p.(type) {
		case store.Equals:
			col, ok := columns[pred.Field]
			if !ok {
				return "", nil, fmt.Errorf("%w: unknown field %q", store.ErrUnsupportedQuery, pred.Field)
			}
			parts = append(parts, col+" = ?")
			params = append(params, pred.Value)
		case store.AtLeast:
			col, ok := columns[pred.Field]
			if !ok {
				return "", nil, fmt.Errorf("%w: unknown field %q", store.ErrUnsupportedQuery, pred.Field)
			}
			parts = append(parts, col+" >= ?")
			params = append(params, pred.Value)
		default:
			return "", nil, fmt.Errorf("%w: predicate %T", store.ErrUnsupportedQuery, p)
		}
	}

	return strings.Join(parts, " AND "), params, nil
}

func compileSort(srt store.Sort) (string, error) {
	col, ok := columns[srt.Field]
	if !ok {
		return "", fmt.Errorf("%w: unknown sort field %q", store.ErrUnsupportedQuery, srt.Field)
	}
	dir := "ASC"
	if srt.Descending {
		dir = "DESC"
	}
	return col + " " + dir + ", id COLLATE BINARY ASC", nil
}
