package binding

import (
	"sort"
	"strconv"
	"strings"

	"appbuilder/internal/domain"
)

// navigatePath walks a dot-separated path through nested JSON objects.
// Numeric segments index into arrays ("data.items.0.rows").
func navigatePath(obj any, path string) any {
	parts := strings.Split(path, ".")
	current := obj
	for _, part := range parts {
		if part == "" {
			continue
		}
		switch v := current.(type) {
		case map[string]any:
			current = v[part]
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			current = v[i]
		default:
			return nil
		}
	}
	return current
}

// toRecords normalizes a raw source result into records.
// Collection bindings accept only arrays; anything else is an empty result.
// Value bindings additionally accept a single object as one record.
// Scalar array items are wrapped as {"value": item}.
func toRecords(raw any, typ domain.BindingType) []domain.Record {
	switch v := raw.(type) {
	case []any:
		records := make([]domain.Record, 0, len(v))
		for _, item := range v {
			records = append(records, toRecord(item))
		}
		return records
	case []domain.Record:
		records := make([]domain.Record, len(v))
		for i, r := range v {
			records[i] = domain.CloneProps(r)
		}
		return records
	case map[string]any:
		if typ == domain.BindingValue {
			return []domain.Record{domain.CloneProps(v)}
		}
	}
	return []domain.Record{}
}

func toRecord(item any) domain.Record {
	if m, ok := item.(map[string]any); ok {
		return domain.CloneProps(m)
	}
	return domain.Record{"value": item}
}

// InferColumns returns the union of record keys: the first record's keys
// sorted, followed by the sorted keys that only appear in later records.
func InferColumns(records []domain.Record) []string {
	if len(records) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var cols []string
	first := make([]string, 0, len(records[0]))
	for k := range records[0] {
		first = append(first, k)
	}
	sort.Strings(first)
	for _, k := range first {
		seen[k] = true
		cols = append(cols, k)
	}
	var extra []string
	for _, r := range records[1:] {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}
