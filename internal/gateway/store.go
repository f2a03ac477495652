// File: internal/gateway/store.go
package gateway

import "context"

// WriteOp is the kind of mutation requested from the Store.
type WriteOp string

const (
	OpInsert WriteOp = "insert"
	OpUpdate WriteOp = "update"
	OpUpsert WriteOp = "upsert"
	OpDelete WriteOp = "delete"
)

// Operator compares a column against a value.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNeq Operator = "neq"
	OpIn  Operator = "in"
)

// Condition is a single column predicate.
type Condition struct {
	Column string
	Op     Operator
	Value  interface{}
}

// Eq matches rows whose column equals value.
func Eq(column string, value interface{}) Condition {
	return Condition{Column: column, Op: OpEq, Value: value}
}

// Neq matches rows whose column differs from value.
func Neq(column string, value interface{}) Condition {
	return Condition{Column: column, Op: OpNeq, Value: value}
}

// In matches rows whose column is one of values.
func In(column string, values ...string) Condition {
	vals := make([]interface{}, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return Condition{Column: column, Op: OpIn, Value: vals}
}

// Filter selects rows. All conditions are ANDed; when AnyOf is set, at least one
// of its groups (each an AND of conditions) must also hold.
type Filter struct {
	All   []Condition
	AnyOf [][]Condition
}

// Where builds a filter from ANDed conditions.
func Where(conds ...Condition) Filter {
	return Filter{All: conds}
}

// Or adds an alternative group of ANDed conditions.
func (f Filter) Or(conds ...Condition) Filter {
	f.AnyOf = append(f.AnyOf, conds)
	return f
}

// IsEmpty reports whether the filter selects every row.
func (f Filter) IsEmpty() bool {
	return len(f.All) == 0 && len(f.AnyOf) == 0
}

// Order sorts the result set by a column.
type Order struct {
	Column string
	Desc   bool
}

// QueryOptions carries ordering and limit for a read.
type QueryOptions struct {
	Order []Order
	Limit int
}

// Store is the query interface over named record collections.
//
// Read decodes the matching rows into dest, a pointer to a slice of the collection's
// record type. Write applies op: insert and upsert take a pointer to a record and fill
// in server-assigned fields (id, created_at); update takes a map of column values and
// requires a non-empty filter; delete takes a pointer to the record type.
type Store interface {
	Read(ctx context.Context, c Collection, filter Filter, opts QueryOptions, dest interface{}) error
	Write(ctx context.Context, c Collection, op WriteOp, payload interface{}, filter Filter) error
}
