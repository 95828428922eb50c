package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"rumcapture/internal/ctxkeys"
	"rumcapture/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	gormlogger "gorm.io/gorm/logger"
)

func openArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "rum.db"), "rum_", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchiveStoresPayloads(t *testing.T) {
	a := openArchive(t)
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, []byte(`{"sessionId":"s1","partial":true,"sequence":1,"events":[]}`)))
	require.NoError(t, a.Send(ctx, []byte(`{"sessionId":"s1","events":[{"type":"click"}]}`)))
	require.NoError(t, a.Send(ctx, []byte(`{"sessionId":"s2","events":[]}`)))

	recs, err := a.BySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Partial)
	assert.Equal(t, 1, recs[0].Sequence)
	assert.False(t, recs[1].Partial)
	assert.Equal(t, "click", gjson.Get(recs[1].Body, "events.0.type").String())

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestArchiveTablePrefix(t *testing.T) {
	a := openArchive(t)
	assert.True(t, a.db.Migrator().HasTable("rum_payloads"))
}

func TestGormLoggerCarriesSessionID(t *testing.T) {
	var buf bytes.Buffer
	gl := NewGormLogger(logger.FromWriter(&buf, "debug")).LogMode(gormlogger.Info)
	ctx := ctxkeys.WithSessionID(context.Background(), "sess-9")

	gl.Trace(ctx, time.Now(), func() (string, int64) { return "INSERT 1", 1 }, nil)
	assert.Contains(t, buf.String(), "sess-9")
	assert.Contains(t, buf.String(), "INSERT 1")
}

func TestGormLoggerSilent(t *testing.T) {
	var buf bytes.Buffer
	gl := NewGormLogger(logger.FromWriter(&buf, "debug")).LogMode(gormlogger.Silent)
	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, nil)
	assert.Empty(t, buf.String())
}
