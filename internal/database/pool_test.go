package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/taskflow/config"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return mock, gormDB
}

func sqliteConfig(t *testing.T) config.DatabaseConfig {
	return config.DatabaseConfig{
		Enabled: true,
		Driver:  "sqlite",
		Name:    filepath.Join(t.TempDir(), "taskflow.db"),
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls int
	name  string
}

func (r *recordingObserver) RecordDBConnections(database string, open, idle int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.name = database
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestDialector(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		want    string
		wantErr bool
	}{
		{driver: "postgres", name: "taskflow", want: "postgres"},
		{driver: "mysql", name: "taskflow", want: "mysql"},
		{driver: "sqlite", name: "taskflow.db", want: "sqlite"},
		{driver: "sqlite", name: "", wantErr: true},
		{driver: "oracle", name: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.driver+"/"+tt.name, func(t *testing.T) {
			d, err := Dialector(config.DatabaseConfig{Driver: tt.driver, Name: tt.name})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	pm, err := Open(sqliteConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	assert.Equal(t, "sqlite", pm.Name())
	require.NoError(t, pm.Ping(context.Background()))
	assert.Equal(t, 1, pm.GetStats().MaxOpenConnections)
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{MaxOpenConns: 50, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 50, pc.MaxOpenConns)
	assert.Equal(t, DefaultPoolConfig().MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{"valid", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, false},
		{"zero open", PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, true},
		{"zero idle", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, true},
		{"idle > open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPoolManager_Errors(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), nil)
	assert.Error(t, err)

	_, gormDB := setupMockDB(t)
	_, err = NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 2}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pool config")
}

func TestPoolManager_Ping(t *testing.T) {
	mock, gormDB := setupMockDB(t)
	pm, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, pm.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, pm.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "postgres", pm.GetStats().Database)
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mock, gormDB := setupMockDB(t)
	pm, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, pm.WithTransaction(ctx, func(tx *gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, pm.WithTransaction(ctx, func(tx *gorm.DB) error { return assert.AnError }), assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	pm, err := Open(sqliteConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()
	ctx := context.Background()

	t.Run("retryable then success", func(t *testing.T) {
		attempts := 0
		err := pm.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
			attempts++
			if attempts < 2 {
				return errors.New("deadlock detected")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("non retryable", func(t *testing.T) {
		attempts := 0
		err := pm.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
			attempts++
			return errors.New("unique constraint")
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("exhausted", func(t *testing.T) {
		attempts := 0
		err := pm.WithTransactionRetry(ctx, 2, func(tx *gorm.DB) error {
			attempts++
			return errors.New("database is locked")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 attempts")
		assert.Equal(t, 2, attempts)
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		err := pm.WithTransactionRetry(cctx, 5, func(tx *gorm.DB) error {
			cancel()
			return errors.New("broken pipe")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPoolManager_HealthCheckReportsStats(t *testing.T) {
	obs := &recordingObserver{}
	cfg := sqliteConfig(t)
	dialector, err := Dialector(cfg)
	require.NoError(t, err)
	db, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	pm, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1, HealthCheckInterval: 5 * time.Millisecond},
		zap.NewNop(), WithStatsObserver(obs), WithName("archive"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return obs.count() > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pm.Close())
	assert.Equal(t, "archive", obs.name)
}

func TestPoolManager_Closed(t *testing.T) {
	pm, err := Open(sqliteConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close(), "close is idempotent")

	ctx := context.Background()
	assert.ErrorIs(t, pm.Ping(ctx), ErrClosed)
	err = pm.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(context.Canceled))
	assert.False(t, isRetryableError(ErrClosed))
	assert.True(t, isRetryableError(errors.New("ERROR: could not serialize access (SQLSTATE 40001)")))
	assert.True(t, isRetryableError(errors.New("Error 1205: Lock wait timeout exceeded")))
	assert.True(t, isRetryableError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isRetryableError(errors.New("syntax error")))
}
