package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmitrijs2005/devsync/internal/logging"
	"github.com/dmitrijs2005/devsync/internal/server/access"
	"github.com/dmitrijs2005/devsync/internal/server/blobstore"
	"github.com/dmitrijs2005/devsync/internal/server/broker"
	"github.com/dmitrijs2005/devsync/internal/server/models"
	"github.com/dmitrijs2005/devsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/devsync/internal/server/services"
	"github.com/dmitrijs2005/devsync/internal/server/session"
	"github.com/stretchr/testify/require"
)

type stack struct {
	ts       *httptest.Server
	blobs    *blobstore.Memory
	sessions *session.Registry
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rm := repomanager.NewMemoryRepositoryManager()
	blobs := blobstore.NewMemory("")
	rec := session.NewReconciler(blobs, rm.Files(), logging.Nop())
	reg := session.NewRegistry(ctx, rec, session.Options{FlushOnLastLeave: true}, logging.Nop())
	gate := access.NewGate(rm.Files())
	svc := services.NewFileService(rm, blobs, gate, rec, reg, logging.Nop())
	b := broker.New(gate, reg, broker.Options{}, logging.Nop())

	srv := New("127.0.0.1:0", svc, b, 1<<20, logging.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &stack{ts: ts, blobs: blobs, sessions: reg}
}

func (s *stack) do(t *testing.T, method, path string, body any, header http.Header) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (s *stack) create(t *testing.T, name, language, password string) *models.File {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/api/file/create", map[string]string{
		"userId": "u1", "fileName": name, "language": language, "password": password,
	}, nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var f models.File
	require.NoError(t, json.Unmarshal(body, &f))
	return &f
}

func (s *stack) roomURL(room string) string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/api/rooms/" + room
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}
