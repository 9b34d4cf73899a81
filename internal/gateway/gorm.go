package gateway

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type tabler interface {
	TableName() string
}

// GormGateway implements Gateway on top of gorm.
type GormGateway struct {
	db     *gorm.DB
	protos map[string]reflect.Type
}

// NewGormGateway returns a gateway over db. Each model is registered under its
// TableName so updates and deletes run through gorm's model callbacks.
func NewGormGateway(db *gorm.DB, models ...any) *GormGateway {
	protos := make(map[string]reflect.Type, len(models))
	for _, m := range models {
		if t, ok := m.(tabler); ok {
			protos[t.TableName()] = reflect.Indirect(reflect.ValueOf(m)).Type()
		}
	}
	return &GormGateway{db: db, protos: protos}
}

// DB exposes the underlying handle, mainly for migrations.
func (g *GormGateway) DB() *gorm.DB { return g.db }

// model returns a fresh zero value for table. gorm writes assigned columns
// back into the model, so instances are never shared between calls.
func (g *GormGateway) model(table string) (any, bool) {
	t, ok := g.protos[table]
	if !ok {
		return nil, false
	}
	return reflect.New(t).Interface(), true
}

func (g *GormGateway) scope(ctx context.Context, table string) *gorm.DB {
	db := g.db.WithContext(ctx)
	if m, ok := g.model(table); ok {
		return db.Model(m)
	}
	return db.Table(table)
}

func where(db *gorm.DB, filter Filter) *gorm.DB {
	if len(filter) == 0 {
		return db
	}
	return db.Where(map[string]interface{}(filter))
}

func (g *GormGateway) Get(ctx context.Context, table string, filter Filter, dest any) error {
	err := where(g.db.WithContext(ctx).Table(table), filter).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (g *GormGateway) List(ctx context.Context, table string, filter Filter, order Order, dest any, opts ...ListOption) error {
	var o listOptions
	for _, opt := range opts {
		opt(&o)
	}
	db := where(g.db.WithContext(ctx).Table(table), filter)
	for _, term := range order {
		db = db.Order(term)
	}
	if o.limit > 0 {
		db = db.Limit(o.limit)
	}
	if o.offset > 0 {
		db = db.Offset(o.offset)
	}
	return db.Find(dest).Error
}

func (g *GormGateway) Insert(ctx context.Context, table string, record any) error {
	return g.db.WithContext(ctx).Table(table).Omit(clause.Associations).Create(record).Error
}

func (g *GormGateway) Update(ctx context.Context, table string, filter Filter, patch Patch) (int64, error) {
	if len(patch) == 0 {
		return 0, nil
	}
	res := where(g.scope(ctx, table), filter).Updates(map[string]interface{}(patch))
	return res.RowsAffected, res.Error
}

func (g *GormGateway) Delete(ctx context.Context, table string, filter Filter) (int64, error) {
	m, ok := g.model(table)
	if !ok {
		return 0, fmt.Errorf("delete from %s: table not registered", table)
	}
	res := where(g.db.WithContext(ctx), filter).Delete(m)
	return res.RowsAffected, res.Error
}

func (g *GormGateway) Increment(ctx context.Context, table string, filter Filter, column string, patch Patch) error {
	if !identPattern.MatchString(column) {
		return fmt.Errorf("increment %s: invalid column %q", table, column)
	}
	updates := map[string]interface{}{column: gorm.Expr(column+" + ?", 1)}
	for k, v := range patch {
		updates[k] = v
	}
	return where(g.scope(ctx, table), filter).UpdateColumns(updates).Error
}

func (g *GormGateway) Count(ctx context.Context, table string, filter Filter) (int64, error) {
	var n int64
	err := where(g.scope(ctx, table), filter).Count(&n).Error
	return n, err
}

func (g *GormGateway) DeleteBefore(ctx context.Context, table, column string, cutoff time.Time) (int64, error) {
	m, ok := g.model(table)
	if !ok {
		return 0, fmt.Errorf("delete from %s: table not registered", table)
	}
	if !identPattern.MatchString(column) {
		return 0, fmt.Errorf("delete from %s: invalid column %q", table, column)
	}
	res := g.db.WithContext(ctx).Where(column+" < ?", cutoff).Delete(m)
	return res.RowsAffected, res.Error
}

func (g *GormGateway) Transaction(ctx context.Context, fn func(Gateway) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormGateway{db: tx, protos: g.protos})
	})
}
