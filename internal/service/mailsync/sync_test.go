package mailsync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"subtrack/internal/model"
	"subtrack/internal/service/categorize"
	"subtrack/pkg/config"
)

type fakeMailboxes struct {
	mu       sync.Mutex
	list     []model.ConnectedMailbox
	listErr  error
	statuses map[int64]string
	touched  []int64
}

func (f *fakeMailboxes) ListActiveByUser(_ context.Context, userID int64) ([]model.ConnectedMailbox, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.ConnectedMailbox
	for _, mb := range f.list {
		if mb.UserID == userID {
			out = append(out, mb)
		}
	}
	return out, nil
}

func (f *fakeMailboxes) MarkStatus(_ context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = map[int64]string{}
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeMailboxes) TouchLastSynced(_ context.Context, id int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

type fakeClient struct {
	pages   [][]string
	listErr error
	getErr  map[string]error
	onGet   func(id string)
}

func (c *fakeClient) ListMessages(_ context.Context, _ string, _ int64, pageToken string) ([]string, string, error) {
	if c.listErr != nil {
		return nil, "", c.listErr
	}
	idx := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "p%d", &idx)
	}
	if idx >= len(c.pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(c.pages) {
		next = fmt.Sprintf("p%d", idx+1)
	}
	return c.pages[idx], next, nil
}

func (c *fakeClient) GetMessage(_ context.Context, id string) (*model.RawMessage, error) {
	if c.onGet != nil {
		c.onGet(id)
	}
	if err := c.getErr[id]; err != nil {
		return nil, err
	}
	return &model.RawMessage{
		ID:      id,
		Headers: []model.Header{{Name: "Subject", Value: "Invoice " + id}},
		Payload: &model.MessagePart{Body: &model.PartBody{Data: base64.URLEncoding.EncodeToString([]byte("$1.00"))}},
	}, nil
}

type fakeFactory struct {
	clients map[string]MailClient
	errs    map[string]error
}

func (f *fakeFactory) NewClient(_ context.Context, mb model.ConnectedMailbox) (MailClient, error) {
	if err := f.errs[mb.EmailAddress]; err != nil {
		return nil, err
	}
	return f.clients[mb.EmailAddress], nil
}

// fakeCategorizer persists one row per (user, message) like the real store.
type fakeCategorizer struct {
	mu    sync.Mutex
	seen  map[string]bool
	calls int
	fail  map[string]error
}

func (f *fakeCategorizer) CategorizeEmail(_ context.Context, req categorize.Request) (*categorize.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[req.Message.ID]; err != nil {
		return nil, err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := fmt.Sprintf("%d:%s", req.UserID, req.Message.ID)
	if f.seen[key] {
		return &categorize.Decision{Outcome: categorize.OutcomeDuplicate}, nil
	}
	f.seen[key] = true
	return &categorize.Decision{Outcome: categorize.OutcomeTracked}, nil
}

func mailbox(id int64, addr string) model.ConnectedMailbox {
	return model.ConnectedMailbox{ID: id, UserID: 1, EmailAddress: addr, Status: model.MailboxStatusActive}
}

func newSync(mbs MailboxStore, f ClientFactory, c Categorizer, workers int) *Service {
	return NewService(mbs, f, c, config.SyncConfig{Workers: workers, MaxResults: 100, PageSize: 2}, zap.NewNop())
}

func TestSync_ProcessesAllPages(t *testing.T) {
	mbs := &fakeMailboxes{list: []model.ConnectedMailbox{mailbox(1, "a@example.com")}}
	f := &fakeFactory{clients: map[string]MailClient{
		"a@example.com": &fakeClient{pages: [][]string{{"m1", "m2"}, {"m3"}}},
	}}
	cat := &fakeCategorizer{}

	res, err := newSync(mbs, f, cat, 1).Sync(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, res.ProcessedCount)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []int64{1}, mbs.touched)
}

func TestSync_NoMailboxes(t *testing.T) {
	_, err := newSync(&fakeMailboxes{}, &fakeFactory{}, &fakeCategorizer{}, 1).Sync(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoMailboxes)
}

func TestSync_MailboxLoadFailure(t *testing.T) {
	mbs := &fakeMailboxes{listErr: errors.New("db down")}
	_, err := newSync(mbs, &fakeFactory{}, &fakeCategorizer{}, 1).Sync(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMailboxes)
}

func TestSync_MessageErrorsDoNotAbortBatch(t *testing.T) {
	mbs := &fakeMailboxes{list: []model.ConnectedMailbox{mailbox(1, "a@example.com")}}
	f := &fakeFactory{clients: map[string]MailClient{
		"a@example.com": &fakeClient{
			pages:  [][]string{{"m1", "m2", "m3", "m4"}},
			getErr: map[string]error{"m2": errors.New("fetch failed")},
		},
	}}
	cat := &fakeCategorizer{fail: map[string]error{"m3": errors.New("save subscription: db down")}}

	res, err := newSync(mbs, f, cat, 2).Sync(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, res.ProcessedCount)
	require.Len(t, res.Errors, 2)
	ids := []string{res.Errors[0].MessageID, res.Errors[1].MessageID}
	assert.ElementsMatch(t, []string{"m2", "m3"}, ids)
}

func TestSync_MailboxErrorIsScoped(t *testing.T) {
	mbs := &fakeMailboxes{list: []model.ConnectedMailbox{
		mailbox(1, "revoked@example.com"),
		mailbox(2, "broken@example.com"),
		mailbox(3, "ok@example.com"),
	}}
	f := &fakeFactory{
		clients: map[string]MailClient{
			"ok@example.com": &fakeClient{pages: [][]string{{"m1"}}},
		},
		errs: map[string]error{
			"revoked@example.com": fmt.Errorf("refresh token: %w", ErrMailboxUnauthorized),
			"broken@example.com":  errors.New("gmail unavailable"),
		},
	}

	res, err := newSync(mbs, f, &fakeCategorizer{}, 1).Sync(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, res.ProcessedCount)
	assert.Len(t, res.MailboxErrors, 2)
	assert.Equal(t, model.MailboxStatusError, mbs.statuses[1])
	assert.NotContains(t, mbs.statuses, int64(2))
	assert.Equal(t, []int64{3}, mbs.touched)
}

func TestSync_ListFailureIsMailboxError(t *testing.T) {
	mbs := &fakeMailboxes{list: []model.ConnectedMailbox{mailbox(1, "a@example.com")}}
	f := &fakeFactory{clients: map[string]MailClient{
		"a@example.com": &fakeClient{listErr: errors.New("quota exceeded")},
	}}

	res, err := newSync(mbs, f, &fakeCategorizer{}, 1).Sync(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, res.MailboxErrors, 1)
	assert.Contains(t, res.MailboxErrors[0].ErrorMessage, "quota exceeded")
	assert.Empty(t, mbs.touched)
}

func TestSync_DuplicateMessageCountsTwiceStoresOnce(t *testing.T) {
	mbs := &fakeMailboxes{list: []model.ConnectedMailbox{mailbox(1, "a@example.com")}}
	f := &fakeFactory{clients: map[string]MailClient{
		"a@example.com": &fakeClient{pages: [][]string{{"m1", "m1"}}},
	}}
	cat := &fakeCategorizer{}

	res, err := newSync(mbs, f, cat, 2).Sync(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, res.ProcessedCount)
	assert.Len(t, cat.seen, 1)
}

func TestSync_RepeatedRunsAreIdempotent(t *testing.T) {
	mbs := &fakeMailboxes{list: []model.ConnectedMailbox{mailbox(1, "a@example.com")}}
	f := &fakeFactory{clients: map[string]MailClient{
		"a@example.com": &fakeClient{pages: [][]string{{"m1", "m2"}}},
	}}
	cat := &fakeCategorizer{}
	svc := newSync(mbs, f, cat, 1)

	for i := 0; i < 3; i++ {
		res, err := svc.Sync(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 2, res.ProcessedCount)
	}
	assert.Len(t, cat.seen, 2)
}

func TestSync_CancellationReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mbs := &fakeMailboxes{list: []model.ConnectedMailbox{mailbox(1, "a@example.com"), mailbox(2, "b@example.com")}}
	f := &fakeFactory{clients: map[string]MailClient{
		"a@example.com": &fakeClient{
			pages: [][]string{{"m1", "m2", "m3"}},
			onGet: func(id string) {
				if id == "m1" {
					cancel()
				}
			},
		},
		"b@example.com": &fakeClient{pages: [][]string{{"x1"}}},
	}}
	cat := &fakeCategorizer{}

	res, err := newSync(mbs, f, cat, 1).Sync(ctx, 1)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Less(t, cat.calls, 4)
	assert.Empty(t, mbs.touched)
}

func TestSync_MaxResultsCapsCandidates(t *testing.T) {
	mbs := &fakeMailboxes{list: []model.ConnectedMailbox{mailbox(1, "a@example.com")}}
	f := &fakeFactory{clients: map[string]MailClient{
		"a@example.com": &fakeClient{pages: [][]string{{"m1", "m2"}, {"m3", "m4"}, {"m5"}}},
	}}
	svc := NewService(mbs, f, &fakeCategorizer{}, config.SyncConfig{MaxResults: 3, PageSize: 2}, zap.NewNop())

	res, err := svc.Sync(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ProcessedCount)
}
