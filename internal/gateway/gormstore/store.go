// File: internal/gateway/gormstore/store.go
package gormstore

import (
	"context"
	"fmt"

	"matrimony_sync_backend/internal/gateway"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Publisher receives change events for rows written through the store.
type Publisher interface {
	Publish(ev gateway.ChangeEvent)
}

// Store implements gateway.Store on top of GORM.
type Store struct {
	db        *gorm.DB
	publisher Publisher
	logger    *zap.Logger
}

// New creates a GORM-backed store. publisher may be nil when change events are
// delivered by the database itself.
func New(db *gorm.DB, publisher Publisher, logger *zap.Logger) *Store {
	return &Store{db: db, publisher: publisher, logger: logger.Named("GORMStore")}
}

// Read implements gateway.Store.
func (s *Store) Read(ctx context.Context, c gateway.Collection, filter gateway.Filter, opts gateway.QueryOptions, dest interface{}) error {
	const op = "gormstore.Read"
	model, ok := gateway.NewRecordSlice(c)
	if !ok {
		return gateway.E(op, gateway.KindValidation, fmt.Errorf("unknown collection %q", c))
	}

	q, err := s.scoped(ctx, s.db, c, model, filter)
	if err != nil {
		return gateway.E(op, gateway.KindValidation, err)
	}
	for _, o := range opts.Order {
		if err := s.checkColumn(model, o.Column); err != nil {
			return gateway.E(op, gateway.KindValidation, err)
		}
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Column}, Desc: o.Desc})
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Find(dest).Error; err != nil {
		return Classify(op, err)
	}
	return nil
}

// Write implements gateway.Store.
func (s *Store) Write(ctx context.Context, c gateway.Collection, op gateway.WriteOp, payload interface{}, filter gateway.Filter) error {
	switch op {
	case gateway.OpInsert:
		return s.insert(ctx, c, payload, false)
	case gateway.OpUpsert:
		return s.insert(ctx, c, payload, true)
	case gateway.OpUpdate:
		return s.update(ctx, c, payload, filter)
	case gateway.OpDelete:
		return s.delete(ctx, c, filter)
	}
	return gateway.E("gormstore.Write", gateway.KindValidation, fmt.Errorf("unsupported write op %q", op))
}

func (s *Store) insert(ctx context.Context, c gateway.Collection, payload interface{}, upsert bool) error {
	op := "gormstore.Insert"
	if upsert {
		op = "gormstore.Upsert"
	}
	if _, ok := gateway.NewRecordSlice(c); !ok {
		return gateway.E(op, gateway.KindValidation, fmt.Errorf("unknown collection %q", c))
	}
	if payload == nil {
		return gateway.E(op, gateway.KindValidation, gorm.ErrInvalidData)
	}
	if rec, ok := payload.(gateway.Identifiable); ok {
		rec.EnsureID()
	}

	q := s.db.WithContext(ctx).Table(string(c))
	if upsert {
		q = q.Clauses(clause.OnConflict{UpdateAll: true})
	}
	if err := q.Create(payload).Error; err != nil {
		return Classify(op, err)
	}

	evType := gateway.EventInsert
	if upsert {
		evType = gateway.EventUpdate
	}
	s.publish(evType, c, payload)
	return nil
}

func (s *Store) update(ctx context.Context, c gateway.Collection, payload interface{}, filter gateway.Filter) error {
	const op = "gormstore.Update"
	values, ok := payload.(map[string]interface{})
	if !ok || len(values) == 0 {
		return gateway.E(op, gateway.KindValidation, fmt.Errorf("update payload must be a non-empty column map"))
	}
	if filter.IsEmpty() {
		return gateway.E(op, gateway.KindValidation, gorm.ErrMissingWhereClause)
	}
	model, known := gateway.NewRecordSlice(c)
	if !known {
		return gateway.E(op, gateway.KindValidation, fmt.Errorf("unknown collection %q", c))
	}
	for col := range values {
		if err := s.checkColumn(model, col); err != nil {
			return gateway.E(op, gateway.KindValidation, err)
		}
	}

	updated, _ := gateway.NewRecordSlice(c)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := s.scoped(ctx, tx, c, model, filter)
		if err != nil {
			return gateway.E(op, gateway.KindValidation, err)
		}
		var ids []string
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Table(string(c)).Where(clause.IN{Column: clause.Column{Name: "id"}, Values: toValues(ids)}).Updates(values).Error; err != nil {
			return err
		}
		return tx.Table(string(c)).Where(clause.IN{Column: clause.Column{Name: "id"}, Values: toValues(ids)}).Find(updated).Error
	})
	if err != nil {
		return Classify(op, err)
	}
	s.publishRows(gateway.EventUpdate, c, updated)
	return nil
}

func (s *Store) delete(ctx context.Context, c gateway.Collection, filter gateway.Filter) error {
	const op = "gormstore.Delete"
	if filter.IsEmpty() {
		return gateway.E(op, gateway.KindValidation, gorm.ErrMissingWhereClause)
	}
	model, known := gateway.NewRecordSlice(c)
	if !known {
		return gateway.E(op, gateway.KindValidation, fmt.Errorf("unknown collection %q", c))
	}

	removed, _ := gateway.NewRecordSlice(c)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := s.scoped(ctx, tx, c, model, filter)
		if err != nil {
			return gateway.E(op, gateway.KindValidation, err)
		}
		if err := q.Find(removed).Error; err != nil {
			return err
		}
		del, err := s.scoped(ctx, tx, c, model, filter)
		if err != nil {
			return gateway.E(op, gateway.KindValidation, err)
		}
		return del.Delete(model).Error
	})
	if err != nil {
		return Classify(op, err)
	}
	s.publishRows(gateway.EventDelete, c, removed)
	return nil
}

// scoped returns a query over collection c restricted by filter.
func (s *Store) scoped(ctx context.Context, db *gorm.DB, c gateway.Collection, model interface{}, filter gateway.Filter) (*gorm.DB, error) {
	q := db.WithContext(ctx).Table(string(c))
	for _, cond := range filter.All {
		expr, err := s.expression(model, cond)
		if err != nil {
			return nil, err
		}
		q = q.Where(expr)
	}
	if len(filter.AnyOf) > 0 {
		groups := make([]clause.Expression, 0, len(filter.AnyOf))
		for _, group := range filter.AnyOf {
			exprs := make([]clause.Expression, 0, len(group))
			for _, cond := range group {
				expr, err := s.expression(model, cond)
				if err != nil {
					return nil, err
				}
				exprs = append(exprs, expr)
			}
			groups = append(groups, clause.And(exprs...))
		}
		q = q.Where(clause.Or(groups...))
	}
	return q, nil
}

func (s *Store) expression(model interface{}, cond gateway.Condition) (clause.Expression, error) {
	if err := s.checkColumn(model, cond.Column); err != nil {
		return nil, err
	}
	col := clause.Column{Name: cond.Column}
	switch cond.Op {
	case gateway.OpEq, "":
		return clause.Eq{Column: col, Value: cond.Value}, nil
	case gateway.OpNeq:
		return clause.Neq{Column: col, Value: cond.Value}, nil
	case gateway.OpIn:
		values, ok := cond.Value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("in condition on %s needs a value list", cond.Column)
		}
		return clause.IN{Column: col, Values: values}, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", cond.Op)
}

// checkColumn rejects column names that are not fields of the collection's schema.
func (s *Store) checkColumn(model interface{}, column string) error {
	stmt := &gorm.Statement{DB: s.db}
	if err := stmt.Parse(model); err != nil {
		return fmt.Errorf("parsing schema: %w", err)
	}
	if stmt.Schema.LookUpField(column) == nil {
		return fmt.Errorf("unknown column %q", column)
	}
	return nil
}

func (s *Store) publish(t gateway.EventType, c gateway.Collection, record interface{}) {
	if s.publisher == nil {
		return
	}
	ev, err := gateway.NewChangeEvent(t, c, record)
	if err != nil {
		s.logger.Warn("Could not build change event", zap.String("collection", string(c)), zap.Error(err))
		return
	}
	s.publisher.Publish(ev)
}

// publishRows emits one event per row in rows, a pointer to a record slice.
func (s *Store) publishRows(t gateway.EventType, c gateway.Collection, rows interface{}) {
	if s.publisher == nil {
		return
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		s.logger.Warn("Could not marshal changed rows", zap.String("collection", string(c)), zap.Error(err))
		return
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		s.logger.Warn("Could not split changed rows", zap.String("collection", string(c)), zap.Error(err))
		return
	}
	for _, rec := range records {
		ev := gateway.ChangeEvent{Type: t, Collection: c}
		if t == gateway.EventDelete {
			ev.OldRecord = rec
		} else {
			ev.Record = rec
		}
		s.publisher.Publish(ev)
	}
}

func toValues(ids []string) []interface{} {
	vals := make([]interface{}, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	return vals
}
