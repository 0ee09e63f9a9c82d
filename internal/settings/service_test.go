package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	settingctl "github.com/lotkeeper/lotkeeper/internal/db/controller/setting"
	"github.com/lotkeeper/lotkeeper/internal/db/models"
	"github.com/lotkeeper/lotkeeper/internal/settings/broadcast"
	"github.com/lotkeeper/lotkeeper/internal/settings/conflict"
	"github.com/lotkeeper/lotkeeper/internal/settings/scope"
	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(&models.Setting{}, &models.HistoryEntry{}, &models.Template{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()

	if opts.DB == nil {
		opts.DB = setupTestDB(t)
	}
	opts.Logger = zerolog.Nop()

	svc, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	return svc
}

func historyCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(&models.HistoryEntry{}).Count(&n).Error)

	return n
}

func TestGetSettingDefault(t *testing.T) {
	svc := newTestService(t, Options{})

	v, at, err := svc.GetSetting(context.Background(), "business", "max_stay_hours", scope.Ref{LocationID: "lot-1"})
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Int(24)))
	assert.Equal(t, scope.Default, at)
}

func TestGetSettingUnknownKey(t *testing.T) {
	svc := newTestService(t, Options{})

	_, _, err := svc.GetSetting(context.Background(), "business", "no_such_key", scope.Ref{})
	assert.ErrorIs(t, err, ErrSettingNotFound)
}

func TestUpdateThenGet(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, Options{DB: db})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	err := svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.Location, ref, "ops")
	require.NoError(t, err)

	v, at, err := svc.GetSetting(ctx, "business", "max_stay_hours", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Int(48)))
	assert.Equal(t, scope.Location, at)

	// Another location is unaffected and still sees the default.
	v, at, err = svc.GetSetting(ctx, "business", "max_stay_hours", scope.Ref{LocationID: "lot-2"})
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Int(24)))
	assert.Equal(t, scope.Default, at)
}

func TestUpdatePrecedence(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1", UserID: "alice"}

	require.NoError(t, svc.UpdateSetting(ctx, "ui_theme", "primary_color", value.String("#111111"), scope.System, ref, "ops"))
	require.NoError(t, svc.UpdateSetting(ctx, "ui_theme", "primary_color", value.String("#222222"), scope.Location, ref, "ops"))
	require.NoError(t, svc.UpdateSetting(ctx, "ui_theme", "primary_color", value.String("#333333"), scope.User, ref, "alice"))

	v, at, err := svc.GetSetting(ctx, "ui_theme", "primary_color", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.String("#333333")), "user override is most specific")
	assert.Equal(t, scope.User, at)

	// A colleague at the same location sees the location override.
	v, at, err = svc.GetSetting(ctx, "ui_theme", "primary_color", scope.Ref{LocationID: "lot-1", UserID: "bob"})
	require.NoError(t, err)
	assert.True(t, v.Equal(value.String("#222222")))
	assert.Equal(t, scope.Location, at)
}

func TestUpdateValidation(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, Options{DB: db})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	testCases := []struct {
		name     string
		category string
		key      string
		val      value.Value
	}{
		{name: "above range", category: "business", key: "max_stay_hours", val: value.Int(400)},
		{name: "kind mismatch", category: "business", key: "max_stay_hours", val: value.String("lots")},
		{name: "malformed color", category: "ui_theme", key: "primary_color", val: value.String("#nope")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.UpdateSetting(ctx, tc.category, tc.key, tc.val, scope.Location, ref, "ops")

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	assert.Equal(t, int64(0), historyCount(t, db), "rejected writes must leave no trace")
}

func TestUpdateCrossSettingValidation(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	require.NoError(t, svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(1), scope.Location, ref, "ops"))

	// 90 minutes of grace on a one hour stay is inconsistent.
	err := svc.UpdateSetting(ctx, "business", "grace_period_minutes", value.Int(90), scope.Location, ref, "ops")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cross_setting", verr.Errors[0].Rule)
}

func TestUpdateScopeRules(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	// max_stay_hours is not user overridable.
	err := svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.User,
		scope.Ref{LocationID: "lot-1", UserID: "alice"}, "alice")
	assert.ErrorIs(t, err, ErrScopeNotAllowed)

	// Location writes need a location id.
	err = svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.Location, scope.Ref{}, "ops")
	assert.ErrorIs(t, err, ErrScopeNotAllowed)

	// The compiled-in default level is never writable.
	err = svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.Default, scope.Ref{}, "ops")
	assert.ErrorIs(t, err, ErrScopeNotAllowed)

	// User overrides work where the catalog allows them.
	err = svc.UpdateSetting(ctx, "ui_theme", "compact_tables", value.Bool(true), scope.User,
		scope.Ref{UserID: "alice"}, "alice")
	assert.NoError(t, err)
}

func TestIdempotentWrite(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, Options{DB: db})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	require.NoError(t, svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.Location, ref, "ops"))
	require.NoError(t, svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.Location, ref, "ops"))

	assert.Equal(t, int64(1), historyCount(t, db), "an unchanged write must not append history")
}

func TestResetToDefault(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	require.NoError(t, svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.Location, ref, "ops"))
	require.NoError(t, svc.ResetToDefault(ctx, "business", "max_stay_hours", scope.Location, ref, "ops"))

	v, at, err := svc.GetSetting(ctx, "business", "max_stay_hours", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Int(24)), "resolution falls back to the compiled-in default")
	assert.Equal(t, scope.Default, at)

	// Resetting again finds nothing to remove.
	err = svc.ResetToDefault(ctx, "business", "max_stay_hours", scope.Location, ref, "ops")
	assert.ErrorIs(t, err, ErrSettingNotFound)
}

func TestGetCategorySettings(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	require.NoError(t, svc.UpdateSetting(ctx, "business", "currency_symbol", value.String("€"), scope.Location, ref, "ops"))

	values, err := svc.GetCategorySettings(ctx, "business", ref)
	require.NoError(t, err)
	require.Len(t, values, 5)
	assert.True(t, values["currency_symbol"].Equal(value.String("€")))
	assert.True(t, values["max_stay_hours"].Equal(value.Int(24)))
}

func TestUpdateCategorySettingsPartialFailure(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	result := svc.UpdateCategorySettings(ctx, "business", map[string]value.Value{
		"max_stay_hours":       value.Int(48),
		"grace_period_minutes": value.Int(9000), // out of range
	}, scope.Location, ref, "ops")

	assert.True(t, result.PartialFailure())
	assert.Equal(t, []string{"max_stay_hours"}, result.Applied)
	require.Contains(t, result.Failed, "grace_period_minutes")

	var verr *ValidationError
	assert.ErrorAs(t, result.Failed["grace_period_minutes"], &verr)

	// The applied key is effective despite the sibling failure.
	v, _, err := svc.GetSetting(ctx, "business", "max_stay_hours", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Int(48)))
}

func TestApplyTemplate(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, Options{DB: db})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	payload := `{
		"business": {"max_stay_hours": 12, "grace_period_minutes": 5},
		"ui_theme": {"primary_color": "#0a84ff"}
	}`
	require.NoError(t, db.Create(&models.Template{Name: "downtown", Payload: []byte(payload)}).Error)

	result, err := svc.ApplyTemplate(ctx, "downtown", scope.Location, ref, "ops")
	require.NoError(t, err)
	assert.Empty(t, result.Failed)
	assert.Len(t, result.Applied, 3)

	v, _, err := svc.GetSetting(ctx, "business", "max_stay_hours", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Int(12)))

	v, _, err = svc.GetSetting(ctx, "ui_theme", "primary_color", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.String("#0a84ff")))

	_, err = svc.ApplyTemplate(ctx, "missing", scope.Location, ref, "ops")
	assert.Error(t, err)
}

func TestRemoteChangeInvalidatesCache(t *testing.T) {
	db := setupTestDB(t)
	notifier := broadcast.NewMemoryNotifier()

	// Two engines share the database and the notifier, like two
	// processes against the same Postgres.
	svcA := newTestService(t, Options{DB: db, Notifier: notifier, ClientID: "proc-a"})
	svcB := newTestService(t, Options{DB: db, Notifier: notifier, ClientID: "proc-b"})

	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	// B warms its cache on the default.
	v, _, err := svcB.GetSetting(ctx, "business", "max_stay_hours", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Int(24)))

	// A writes; B must converge on the new value.
	require.NoError(t, svcA.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.Location, ref, "ops"))

	require.Eventually(t, func() bool {
		v, _, err := svcB.GetSetting(ctx, "business", "max_stay_hours", ref)

		return err == nil && v.Equal(value.Int(48))
	}, 2*time.Second, 10*time.Millisecond, "peer engine should converge on the remote write")
}

func TestSubscribeValuesCoalesces(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	batches := make(chan map[string]value.Value, 4)
	sub, err := svc.SubscribeValues("business", func(batch map[string]value.Value) {
		batches <- batch
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	result := svc.UpdateCategorySettings(ctx, "business", map[string]value.Value{
		"max_stay_hours":       value.Int(48),
		"grace_period_minutes": value.Int(10),
	}, scope.Location, ref, "ops")
	require.Empty(t, result.Failed)

	collected := make(map[string]value.Value)
	deadline := time.After(2 * time.Second)
	for len(collected) < 2 {
		select {
		case batch := <-batches:
			for k, v := range batch {
				collected[k] = v
			}
		case <-deadline:
			t.Fatalf("only %d keys delivered", len(collected))
		}
	}

	assert.True(t, collected["max_stay_hours"].Equal(value.Int(48)))
	assert.True(t, collected["grace_period_minutes"].Equal(value.Int(10)))
}

func TestGetWithFallback(t *testing.T) {
	t.Run("live value", func(t *testing.T) {
		svc := newTestService(t, Options{})
		ctx := context.Background()
		ref := scope.Ref{LocationID: "lot-1"}

		require.NoError(t, svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.Location, ref, "ops"))

		got := svc.GetWithFallback(ctx, "business", "max_stay_hours", ref, value.Int(2))
		assert.True(t, got.Equal(value.Int(48)))
	})

	t.Run("hard default for unknown key", func(t *testing.T) {
		svc := newTestService(t, Options{})

		got := svc.GetWithFallback(context.Background(), "business", "no_such_key", scope.Ref{}, value.Int(2))
		assert.True(t, got.Equal(value.Int(2)))
	})

	t.Run("durable store survives a dead backing store", func(t *testing.T) {
		db := setupTestDB(t)
		path := t.TempDir() + "/local.db"

		svc := newTestService(t, Options{DB: db, LocalStorePath: path})
		ctx := context.Background()
		ref := scope.Ref{LocationID: "lot-1"}

		require.NoError(t, svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.Location, ref, "ops"))

		// Kill the backing store and drop the in-process cache.
		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())
		svc.cache.InvalidateCategory("business")

		got := svc.GetWithFallback(ctx, "business", "max_stay_hours", ref, value.Int(2))
		assert.True(t, got.Equal(value.Int(48)), "durable local store serves the last known value")
	})
}

func TestSensitiveValuesSkipLocalStore(t *testing.T) {
	db := setupTestDB(t)
	path := t.TempDir() + "/local.db"

	svc := newTestService(t, Options{DB: db, LocalStorePath: path})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	require.NoError(t, svc.UpdateSetting(ctx, "system_limits", "gate_api_token", value.String("s3cret"), scope.Location, ref, "ops"))

	// Kill the backing store: the secret must not be recoverable from
	// the durable cache.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	svc.cache.InvalidateCategory("system_limits")

	got := svc.GetWithFallback(ctx, "system_limits", "gate_api_token", ref, value.String(""))
	assert.True(t, got.Equal(value.String("")), "sensitive values never reach the durable store")
}

func TestGeneratedClientID(t *testing.T) {
	svcA := newTestService(t, Options{})
	svcB := newTestService(t, Options{})

	assert.NotEmpty(t, svcA.ClientID())
	assert.NotEqual(t, svcA.ClientID(), svcB.ClientID())
}

// seedRemoteWrite plants a row as a peer process would have written it
// and returns the change event that peer broadcast for it.
func seedRemoteWrite(t *testing.T, db *gorm.DB, category, key string, v value.Value, at time.Time) broadcast.Change {
	t.Helper()

	raw, err := value.Encode(v)
	require.NoError(t, err)
	_, err = settingctl.Upsert(context.Background(), db, category, key, string(scope.System), "", raw, "peer")
	require.NoError(t, err)

	return broadcast.Change{
		ID:        "ev-1",
		Category:  category,
		Key:       key,
		Scope:     string(scope.System),
		Value:     raw,
		UpdatedAt: at,
		UpdatedBy: "peer",
		Origin:    "proc-peer",
	}
}

func TestReconcileServerWins(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, Options{DB: db, ClientID: "proc-a"})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	change := seedRemoteWrite(t, db, "business", "max_stay_hours", value.Int(12), time.Now())

	// A local write is still awaiting store confirmation when the
	// conflicting remote change lands.
	pw := conflict.NewPendingWrite("business", "max_stay_hours", "ops", value.Int(48), value.Null(), false)
	svc.trackPending(pw)
	svc.onEvent(broadcast.Event{Kind: broadcast.KindChange, Change: change})

	assert.Equal(t, conflict.StateRolledBack, pw.State())

	v, _, err := svc.GetSetting(ctx, "business", "max_stay_hours", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.Int(12)), "server_wins discards the pending local value")
}

func TestReconcileTimestampLaterLocalWriteSurvives(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, Options{DB: db, ClientID: "proc-a"})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	// The peer's write carries an earlier timestamp than our pending
	// one, so ours must win.
	change := seedRemoteWrite(t, db, "localization", "locale", value.String("fr-FR"), time.Now().Add(-time.Minute))

	pw := conflict.NewPendingWrite("localization", "locale", "ops", value.String("de-DE"), value.Null(), false)
	svc.trackPending(pw)
	svc.onEvent(broadcast.Event{Kind: broadcast.KindChange, Change: change})

	assert.Equal(t, conflict.StateConfirmed, pw.State())

	v, _, err := svc.GetSetting(ctx, "localization", "locale", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.String("de-DE")))

	// The winner must also be durable: drop every cached variant and
	// resolve again from the store.
	svc.cache.InvalidateCategory("localization")

	v, _, err = svc.GetSetting(ctx, "localization", "locale", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.String("de-DE")), "the later local write must be persisted, not just cached")
}

func TestReconcileTimestampEarlierLocalWriteLoses(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, Options{DB: db, ClientID: "proc-a"})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	change := seedRemoteWrite(t, db, "localization", "locale", value.String("fr-FR"), time.Now().Add(time.Minute))

	pw := conflict.NewPendingWrite("localization", "locale", "ops", value.String("de-DE"), value.Null(), false)
	svc.trackPending(pw)
	svc.onEvent(broadcast.Event{Kind: broadcast.KindChange, Change: change})

	assert.Equal(t, conflict.StateRolledBack, pw.State())

	v, _, err := svc.GetSetting(ctx, "localization", "locale", ref)
	require.NoError(t, err)
	assert.True(t, v.Equal(value.String("fr-FR")))
}

func TestReconcileMergeDeepPersistsMergedValue(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, Options{DB: db, ClientID: "proc-a"})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	remote := value.Object(map[string]value.Value{"refresh_seconds": value.Int(15)})
	change := seedRemoteWrite(t, db, "ui_theme", "default_dashboard", remote, time.Now())

	local := value.Object(map[string]value.Value{"layout": value.String("list")})
	pw := conflict.NewPendingWrite("ui_theme", "default_dashboard", "ops", local, value.Null(), false)
	svc.trackPending(pw)
	svc.onEvent(broadcast.Event{Kind: broadcast.KindChange, Change: change})

	assert.Equal(t, conflict.StateRolledBack, pw.State())

	// Both sides contributed a field; the merge must be durable so
	// every client converges on it after cache expiry.
	svc.cache.InvalidateCategory("ui_theme")

	v, _, err := svc.GetSetting(ctx, "ui_theme", "default_dashboard", ref)
	require.NoError(t, err)

	obj, ok := v.AsObject()
	require.True(t, ok)
	assert.True(t, obj["layout"].Equal(value.String("list")))
	assert.True(t, obj["refresh_seconds"].Equal(value.Int(15)))
}

func TestPublishedChangeWireShape(t *testing.T) {
	notifier := broadcast.NewMemoryNotifier()
	svc := newTestService(t, Options{Notifier: notifier, ClientID: "proc-a"})
	ctx := context.Background()
	ref := scope.Ref{LocationID: "lot-1"}

	events := make(chan broadcast.Event, 1)
	sub, err := svc.Subscribe("business", func(e broadcast.Event) { events <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, svc.UpdateSetting(ctx, "business", "max_stay_hours", value.Int(48), scope.Location, ref, "ops"))

	select {
	case e := <-events:
		require.Equal(t, broadcast.KindChange, e.Kind)
		assert.Equal(t, "business", e.Change.Category)
		assert.Equal(t, string(scope.Location), e.Change.Scope)
		assert.Equal(t, "lot-1", e.Change.ScopeID)
		assert.Equal(t, "ops", e.Change.UpdatedBy)
		assert.Equal(t, "proc-a", e.Change.Origin)
		assert.Equal(t, json.RawMessage(`48`), e.Change.Value)
		assert.False(t, e.Change.UpdatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no change event received")
	}
}
