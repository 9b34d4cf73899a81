package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kazi/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGateway(t *testing.T) *GormGateway {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:gw_"+name+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return NewGormGateway(db, models.AllModels()...)
}

func insertTriggers(t *testing.T, g *GormGateway, names ...string) []models.Trigger {
	t.Helper()
	out := make([]models.Trigger, 0, len(names))
	for i, n := range names {
		trig := models.Trigger{Name: n, TriggerType: models.TriggerTypeEvent, Priority: i, IsActive: i%2 == 0, UserID: "u1"}
		require.NoError(t, g.Insert(context.Background(), models.TableTriggers, &trig))
		require.NotEmpty(t, trig.ID)
		out = append(out, trig)
	}
	return out
}

func TestGormGateway_GetAndNotFound(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	trigs := insertTriggers(t, g, "a")

	var got models.Trigger
	require.NoError(t, g.Get(ctx, models.TableTriggers, Filter{"id": trigs[0].ID}, &got))
	assert.Equal(t, "a", got.Name)

	err := g.Get(ctx, models.TableTriggers, Filter{"id": "nope"}, &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormGateway_ListOrderLimit(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	insertTriggers(t, g, "p0", "p1", "p2", "p3")

	var all []models.Trigger
	require.NoError(t, g.List(ctx, models.TableTriggers, nil, Order{"priority desc"}, &all))
	require.Len(t, all, 4)
	assert.Equal(t, "p3", all[0].Name)

	var page []models.Trigger
	require.NoError(t, g.List(ctx, models.TableTriggers, Filter{"user_id": "u1"}, Order{"priority asc"}, &page, WithLimit(2), WithOffset(1)))
	require.Len(t, page, 2)
	assert.Equal(t, "p1", page[0].Name)
	assert.Equal(t, "p2", page[1].Name)

	var active []models.Trigger
	require.NoError(t, g.List(ctx, models.TableTriggers, Filter{"is_active": true}, nil, &active))
	assert.Len(t, active, 2)

	var none []models.Trigger
	require.NoError(t, g.List(ctx, models.TableTriggers, Filter{"event_type": nil}, nil, &none))
	assert.Len(t, none, 4, "nil filter value matches NULL")
}

func TestGormGateway_UpdateDeleteCount(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	trigs := insertTriggers(t, g, "a", "b")

	n, err := g.Update(ctx, models.TableTriggers, Filter{"id": trigs[0].ID}, Patch{"name": "renamed", "is_active": false})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = g.Update(ctx, models.TableTriggers, Filter{"id": trigs[0].ID}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	var got models.Trigger
	require.NoError(t, g.Get(ctx, models.TableTriggers, Filter{"id": trigs[0].ID}, &got))
	assert.Equal(t, "renamed", got.Name)
	assert.False(t, got.IsActive)

	c, err := g.Count(ctx, models.TableTriggers, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c)

	n, err = g.Delete(ctx, models.TableTriggers, Filter{"id": trigs[1].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = g.Delete(ctx, "unknown_table", Filter{"id": "x"})
	assert.Error(t, err)
}

func TestGormGateway_Increment(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	trigs := insertTriggers(t, g, "a")
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Increment(ctx, models.TableTriggers, Filter{"id": trigs[0].ID}, "execution_count", Patch{"last_executed_at": now}))
	}
	var got models.Trigger
	require.NoError(t, g.Get(ctx, models.TableTriggers, Filter{"id": trigs[0].ID}, &got))
	assert.Equal(t, int64(3), got.ExecutionCount)
	require.NotNil(t, got.LastExecutedAt)
	assert.True(t, got.LastExecutedAt.Equal(now))

	assert.Error(t, g.Increment(ctx, models.TableTriggers, nil, "count; drop table triggers", nil))
}

func TestGormGateway_DeleteBefore(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	now := time.Now()
	for _, age := range []time.Duration{48 * time.Hour, time.Hour, 0} {
		require.NoError(t, g.Insert(ctx, models.TableLogs, &models.TriggerLog{TriggerID: "t", Status: models.LogStatusSkipped, OccurredAt: now.Add(-age)}))
	}

	n, err := g.DeleteBefore(ctx, models.TableLogs, "occurred_at", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c, err := g.Count(ctx, models.TableLogs, Filter{"trigger_id": "t"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), c)

	_, err = g.DeleteBefore(ctx, models.TableLogs, "1=1 or occurred_at", now)
	assert.Error(t, err)
}

func TestGormGateway_Transaction(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := g.Transaction(ctx, func(tx Gateway) error {
		trig := models.Trigger{Name: "rolled back", TriggerType: models.TriggerTypeEvent}
		if err := tx.Insert(ctx, models.TableTriggers, &trig); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	c, err := g.Count(ctx, models.TableTriggers, nil)
	require.NoError(t, err)
	assert.Zero(t, c)

	// a failing nested call rolls back only its savepoint
	err = g.Transaction(ctx, func(tx Gateway) error {
		trig := models.Trigger{Name: "kept", TriggerType: models.TriggerTypeEvent}
		if err := tx.Insert(ctx, models.TableTriggers, &trig); err != nil {
			return err
		}
		nested := tx.Transaction(ctx, func(inner Gateway) error {
			other := models.Trigger{Name: "discarded", TriggerType: models.TriggerTypeEvent}
			if err := inner.Insert(ctx, models.TableTriggers, &other); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, nested, boom)
		return nil
	})
	require.NoError(t, err)

	var all []models.Trigger
	require.NoError(t, g.List(ctx, models.TableTriggers, nil, nil, &all))
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].Name)
}
