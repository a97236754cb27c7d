package store

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type Op string

const (
	OpEq Op = "=="
	OpIn Op = "in"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects documents of one collection. Filters are ANDed and compare
// top-level fields only. Limit applies to List; subscriptions observe the
// full matching set.
type Query struct {
	Collection string
	DocID      string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

func Collection(name string) Query {
	return Query{Collection: name}
}

// Doc selects a single document by id.
func Doc(collection, id string) Query {
	return Query{Collection: collection, DocID: id}
}

func (q Query) Where(field string, op Op, value any) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Op: op, Value: normalize(value)})
	return q
}

func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// Matches reports whether doc belongs to the query result set.
func (q Query) Matches(doc *Document) bool {
	if doc.Collection != q.Collection {
		return false
	}
	if q.DocID != "" && doc.ID != q.DocID {
		return false
	}
	for _, f := range q.Filters {
		v, ok := doc.Data[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEq:
			if !reflect.DeepEqual(v, f.Value) {
				return false
			}
		case OpIn:
			list, _ := f.Value.([]any)
			found := false
			for _, candidate := range list {
				if reflect.DeepEqual(v, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (q Query) apply(docs []Document) []Document {
	out := docs[:0]
	for i := range docs {
		if q.Matches(&docs[i]) {
			out = append(out, docs[i])
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// normalize maps caller values onto the shapes produced by decoding stored
// JSON, so typed strings and ints compare equal to their decoded forms.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// compareValues orders missing values first, then numbers, timestamps and strings.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			at, aerr := time.Parse(time.RFC3339Nano, av)
			bt, berr := time.Parse(time.RFC3339Nano, bv)
			if aerr == nil && berr == nil {
				return at.Compare(bt)
			}
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}
	return 0
}
