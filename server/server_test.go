package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jazaniest/ourMid/engine"
	"github.com/Jazaniest/ourMid/ledger"
	"github.com/Jazaniest/ourMid/pool"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []int64
}

func (n *recordingNotifier) Send(recipient int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, recipient)
	return nil
}

func newTestServer(t *testing.T) (*Server, *ledger.Ledger, *recordingNotifier) {
	t.Helper()
	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	notifier := &recordingNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(l, engine.New(l), pool.New([]int64{-1}), notifier, log)
	return s, l, notifier
}

func (s *Server) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoContentType, echoJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

const (
	echoContentType = "Content-Type"
	echoJSON        = "application/json"
)

func TestRegisterEndpoint(t *testing.T) {
	req := require.New(t)
	s, _, _ := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/register", `{"telegram_id": 100, "name": "alice"}`)
	req.Equal(http.StatusOK, rec.Code)

	// Duplicate registration is a client error
	rec = s.do(http.MethodPost, "/api/register", `{"telegram_id": 100, "name": "alice"}`)
	req.Equal(http.StatusBadRequest, rec.Code)

	// Missing fields are rejected
	rec = s.do(http.MethodPost, "/api/register", `{"name": "bob"}`)
	req.Equal(http.StatusBadRequest, rec.Code)
}

func TestAdminListings(t *testing.T) {
	req := require.New(t)
	s, l, _ := newTestServer(t)

	_, err := l.CreateUser(100, "alice")
	req.NoError(err)
	_, err = l.CreateUser(200, "bob")
	req.NoError(err)

	rec := s.do(http.MethodGet, "/api/admin/users", "")
	req.Equal(http.StatusOK, rec.Code)
	var users []map[string]any
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &users))
	req.Len(users, 2)

	rec = s.do(http.MethodGet, "/api/admin/channels", "")
	req.Equal(http.StatusOK, rec.Code)
	var channels []map[string]any
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &channels))
	req.Len(channels, 1)
}

func TestAdminConfirm(t *testing.T) {
	req := require.New(t)
	s, l, _ := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/admin/confirm/42", `{"buyer_id": 1}`)
	req.Equal(http.StatusNotFound, rec.Code)

	buyer, err := l.CreateUser(100, "alice")
	req.NoError(err)
	req.NoError(l.Credit(buyer.ID, 100))
	seller, err := l.CreateUser(200, "bob")
	req.NoError(err)

	tx, err := s.engine.Open(buyer.ID, seller.ID, 40)
	req.NoError(err)

	confirmPath := "/api/admin/confirm/" + strconv.FormatInt(tx.ID, 10)

	// The wrong confirmer is rejected without releasing funds
	rec = s.do(http.MethodPost, confirmPath, `{"buyer_id": 999}`)
	req.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, confirmPath, `{"buyer_id": `+strconv.FormatInt(tx.BuyerID, 10)+`}`)
	req.Equal(http.StatusOK, rec.Code)

	after, err := l.UserByID(seller.ID)
	req.NoError(err)
	req.InDelta(40, after.Balance, 1e-9)
}

func TestBroadcast(t *testing.T) {
	req := require.New(t)
	s, l, notifier := newTestServer(t)

	_, err := l.CreateUser(100, "alice")
	req.NoError(err)
	_, err = l.CreateUser(200, "bob")
	req.NoError(err)

	rec := s.do(http.MethodPost, "/api/admin/broadcast", `{"message": "maintenance tonight"}`)
	req.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Sent int `json:"sent"`
	}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	req.Equal(2, resp.Sent)
	req.ElementsMatch([]int64{100, 200}, notifier.sent)

	rec = s.do(http.MethodPost, "/api/admin/broadcast", `{}`)
	req.Equal(http.StatusBadRequest, rec.Code)
}
