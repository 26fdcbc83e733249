package vector

// Condition is an exact-match payload condition.
type Condition struct {
	Field string
	Value any
}

// Filter is a conjunction of match conditions, rendered as a Qdrant
// filter object. The zero value matches everything.
type Filter struct {
	Must []Condition
}

// ByBrain returns a filter scoped to one brain. Every child-collection
// read goes through this; nothing queries across brains.
func ByBrain(brainID string) Filter {
	return Filter{Must: []Condition{{Field: "brain_id", Value: brainID}}}
}

// And returns a copy of f with an additional match condition.
func (f Filter) And(field string, value any) Filter {
	must := make([]Condition, len(f.Must), len(f.Must)+1)
	copy(must, f.Must)
	return Filter{Must: append(must, Condition{Field: field, Value: value})}
}

// Empty reports whether the filter has no conditions.
func (f Filter) Empty() bool {
	return len(f.Must) == 0
}

func (f Filter) asMap() map[string]any {
	if f.Empty() {
		return nil
	}
	must := make([]any, 0, len(f.Must))
	for _, c := range f.Must {
		must = append(must, map[string]any{
			"key":   c.Field,
			"match": map[string]any{"value": c.Value},
		})
	}
	return map[string]any{"must": must}
}
