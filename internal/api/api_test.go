package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "subtrack/contracts/mq"
	"subtrack/internal/model"
	"subtrack/internal/service/mailsync"
	"subtrack/pkg/trace"
	"subtrack/pkg/util"
)

const testSecret = "test-secret"

type mockSyncer struct{ mock.Mock }

func (m *mockSyncer) Sync(ctx context.Context, userID int64) (*mailsync.Result, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*mailsync.Result)
	return res, args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	return m.Called(ctx, routingKey, payload).Error(0)
}

type fakeReader struct {
	subs  []model.Subscription
	stats *model.SubscriptionStats
	err   error
}

func (f *fakeReader) ListSubscriptions(_ context.Context, _ int64, _ string) ([]model.Subscription, error) {
	return f.subs, f.err
}

func (f *fakeReader) ListUntracked(_ context.Context, _ int64, _ string) ([]model.UntrackedEmail, error) {
	return nil, f.err
}

func (f *fakeReader) Stats(_ context.Context, _ int64) (*model.SubscriptionStats, error) {
	return f.stats, f.err
}

type fakeMailboxes struct{ list []model.ConnectedMailbox }

func (f *fakeMailboxes) ListByUser(_ context.Context, _ int64) ([]model.ConnectedMailbox, error) {
	return f.list, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestRouter(s Syncer, p EventPublisher, r SubscriptionReader, mbs MailboxLister, db Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(
		NewSyncHandler(s, p, zap.NewNop()),
		NewQueryHandler(r, mbs, zap.NewNop()),
		testSecret,
		db,
	).Engine
}

func authed(t *testing.T, method, path string, userID int64) *http.Request {
	t.Helper()
	token, err := util.GenerateJWT(userID, testSecret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSync_RequiresAuth(t *testing.T) {
	r := newTestRouter(new(mockSyncer), nil, &fakeReader{}, &fakeMailboxes{}, fakePinger{})

	for _, header := range []string{"", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodPost, "/sync", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestSync_ReturnsSummaryWithPartialErrors(t *testing.T) {
	s := new(mockSyncer)
	s.On("Sync", mock.Anything, int64(42)).Return(&mailsync.Result{
		RunID:          "run-1",
		ProcessedCount: 3,
		Errors:         []mailsync.MessageError{{MessageID: "m9", ErrorMessage: "get message: timeout"}},
	}, nil)
	r := newTestRouter(s, nil, &fakeReader{}, &fakeMailboxes{}, fakePinger{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authed(t, http.MethodPost, "/sync", 42))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 3, body["processedEmails"])
	errs, ok := body["errors"].([]any)
	require.True(t, ok)
	assert.Len(t, errs, 1)
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName))
	s.AssertExpectations(t)
}

func TestSync_NoErrorsFieldWhenClean(t *testing.T) {
	s := new(mockSyncer)
	s.On("Sync", mock.Anything, int64(1)).Return(&mailsync.Result{ProcessedCount: 0}, nil)
	r := newTestRouter(s, nil, &fakeReader{}, &fakeMailboxes{}, fakePinger{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authed(t, http.MethodPost, "/sync", 1))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decode(t, w), "errors")
}

func TestSync_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no mailbox", mailsync.ErrNoMailboxes, http.StatusNotFound},
		{"storage down", errors.New("list mailboxes: db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := new(mockSyncer)
			s.On("Sync", mock.Anything, int64(1)).Return(nil, tt.err)
			r := newTestRouter(s, nil, &fakeReader{}, &fakeMailboxes{}, fakePinger{})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, authed(t, http.MethodPost, "/sync", 1))
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, false, decode(t, w)["success"])
		})
	}
}

func TestSyncAsync_PublishesRequest(t *testing.T) {
	p := new(mockPublisher)
	p.On("Publish", mock.Anything, mqcontracts.RoutingKeySyncRequested, mock.MatchedBy(func(v any) bool {
		payload, ok := v.(mqcontracts.SyncRequestedPayload)
		return ok && payload.UserID == 7 && payload.RequestID != "" && payload.TraceID == "trace-abc"
	})).Return(nil).Once()
	r := newTestRouter(new(mockSyncer), p, &fakeReader{}, &fakeMailboxes{}, fakePinger{})

	req := authed(t, http.MethodPost, "/sync/async", 7)
	req.Header.Set(trace.HeaderName, "trace-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decode(t, w)["queued"])
	p.AssertExpectations(t)
}

func TestSyncAsync_WithoutPublisher(t *testing.T) {
	r := newTestRouter(new(mockSyncer), nil, &fakeReader{}, &fakeMailboxes{}, fakePinger{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authed(t, http.MethodPost, "/sync/async", 7))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListSubscriptions(t *testing.T) {
	reader := &fakeReader{subs: []model.Subscription{{ID: 1, SubscriptionName: "Netflix", Amount: 15.99}}}
	r := newTestRouter(new(mockSyncer), nil, reader, &fakeMailboxes{}, fakePinger{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authed(t, http.MethodGet, "/subscriptions", 1))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])
}

func TestListUntracked_EmptyIsArray(t *testing.T) {
	r := newTestRouter(new(mockSyncer), nil, &fakeReader{}, &fakeMailboxes{}, fakePinger{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authed(t, http.MethodGet, "/untracked-emails", 1))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["untrackedEmails"])
}

func TestStats(t *testing.T) {
	reader := &fakeReader{stats: &model.SubscriptionStats{
		Categories: []model.CategoryStat{{Category: model.CategoryMedia, Total: 15.5, Count: 2}},
		Total:      15.5,
		Untracked:  1,
	}}
	r := newTestRouter(new(mockSyncer), nil, reader, &fakeMailboxes{}, fakePinger{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authed(t, http.MethodGet, "/subscriptions/stats", 1))

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.InDelta(t, 15.5, body["total"], 1e-9)
	assert.EqualValues(t, 1, body["untracked"])
}

func TestListMailboxes_HidesTokens(t *testing.T) {
	mbs := &fakeMailboxes{list: []model.ConnectedMailbox{{ID: 1, EmailAddress: "a@example.com", AccessToken: "secret", RefreshToken: "secret"}}}
	r := newTestRouter(new(mockSyncer), nil, &fakeReader{}, mbs, fakePinger{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, authed(t, http.MethodGet, "/mailboxes", 1))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
	assert.Contains(t, w.Body.String(), "a@example.com")
}

func TestQueryFailureIs500(t *testing.T) {
	r := newTestRouter(new(mockSyncer), nil, &fakeReader{err: errors.New("db down")}, &fakeMailboxes{}, fakePinger{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authed(t, http.MethodGet, "/subscriptions", 1))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	r := newTestRouter(new(mockSyncer), nil, &fakeReader{}, &fakeMailboxes{}, fakePinger{err: errors.New("down")})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
