package binding

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"appbuilder/internal/domain"
)

// ── Record transforms ──────────────────────────────────────
// Projection, ordering and limiting over normalized records. Managed backends
// do this server side; the in-process fixture provider uses these so that a
// fixture table behaves exactly like a real one.

// Transformer processes a batch of records and returns the result. The input
// slice and its records are never modified.
type Transformer interface {
	Apply([]domain.Record) []domain.Record
}

// SelectTransform keeps only the listed columns. An empty list keeps all.
type SelectTransform struct {
	Columns []string
}

func (t SelectTransform) Apply(records []domain.Record) []domain.Record {
	if len(t.Columns) == 0 {
		return records
	}
	out := make([]domain.Record, len(records))
	for i, r := range records {
		filtered := make(domain.Record, len(t.Columns))
		for _, c := range t.Columns {
			if v, ok := r[c]; ok {
				filtered[c] = v
			}
		}
		out[i] = filtered
	}
	return out
}

// SortTransform orders records by one or more columns, stably.
type SortTransform struct {
	OrderBy []domain.OrderBy
}

func (t SortTransform) Apply(records []domain.Record) []domain.Record {
	if len(t.OrderBy) == 0 {
		return records
	}
	sorted := make([]domain.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, o := range t.OrderBy {
			c := compareValues(sorted[i][o.Column], sorted[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return sorted
}

// LimitTransform caps the number of records. Zero means no limit.
type LimitTransform struct {
	Count int
}

func (t LimitTransform) Apply(records []domain.Record) []domain.Record {
	if t.Count <= 0 || len(records) <= t.Count {
		return records
	}
	return records[:t.Count]
}

// ApplyTransformers runs a chain in order.
func ApplyTransformers(records []domain.Record, ts ...Transformer) []domain.Record {
	for _, t := range ts {
		records = t.Apply(records)
	}
	return records
}

// QueryTransformers builds the chain equivalent to a managed table query:
// order first, then limit, then project.
func QueryTransformers(q domain.TableQuery) []Transformer {
	return []Transformer{
		SortTransform{OrderBy: q.OrderBy},
		LimitTransform{Count: q.Limit},
		SelectTransform{Columns: q.Columns},
	}
}

func compareValues(a, b any) int {
	fa, aOk := toFloatSafe(a)
	fb, bOk := toFloatSafe(b)
	if aOk && bOk {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloatSafe(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
