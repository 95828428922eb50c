package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"rumcapture/internal/config"
	"rumcapture/internal/storage"
	"rumcapture/internal/testutil"
	"rumcapture/pkg/browser"
	"rumcapture/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestServiceDeliversToEndpointAndArchive(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies [][]byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, b)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	dsn := filepath.Join(t.TempDir(), "archive.db")
	cfg := config.NewConfig()
	cfg.Transport.Endpoint = srv.URL
	cfg.Sqlite.Dsn = dsn

	page := testutil.NewFakePage("https://shop.example.com/")
	var ended []model.Session
	svc, err := NewServiceWith(cfg, Sources{Events: page, Perf: page}, Options{
		OnEnd: func(s model.Session) { ended = append(ended, s) },
	})
	require.NoError(t, err)

	id, err := svc.StartSession()
	require.NoError(t, err)
	page.Dispatch(browser.RawEvent{Kind: browser.KindClick, Target: &browser.Element{TagName: "BUTTON"}})
	require.NoError(t, svc.Track("promo_seen", map[string]any{"slot": 2}))

	active, ok := svc.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, id, active)
	require.NoError(t, svc.Close())

	require.Len(t, ended, 1)
	assert.Equal(t, model.EndShutdown, ended[0].EndReason)

	mu.Lock()
	require.Len(t, bodies, 1)
	assert.Equal(t, string(id), gjson.GetBytes(bodies[0], "sessionId").String())
	mu.Unlock()

	archive, err := storage.Open(dsn, cfg.Sqlite.Prefix, nil)
	require.NoError(t, err)
	defer archive.Close()
	recs, err := archive.BySession(context.Background(), string(id))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(3), gjson.Get(recs[0].Body, "events.#").Int())
}

func TestServiceWithoutSinks(t *testing.T) {
	page := testutil.NewFakePage("https://x/")
	svc, err := NewServiceWith(config.NewConfig(), Sources{Events: page}, Options{})
	require.NoError(t, err)
	_, err = svc.StartSession()
	require.NoError(t, err)
	assert.True(t, svc.EndSession())
	assert.NoError(t, svc.Close())
}
