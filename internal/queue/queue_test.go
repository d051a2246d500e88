// internal/queue/queue_test.go
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcourier/internal/common/config"
	"mailcourier/internal/common/errors"
	"mailcourier/internal/common/logger"
	"mailcourier/internal/models"
	"mailcourier/internal/provider"
	"mailcourier/internal/status"
)

// ==========================
// Fakes
// ==========================

type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[string]*models.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[string]*models.Message)}
}

func (f *fakeMessageStore) Create(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *msg
	f.messages[msg.ID] = &copied
	return nil
}

func (f *fakeMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *f.messages[id]
	return &copied, nil
}

func (f *fakeMessageStore) CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, at time.Time, errCode, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.messages[id]
	if msg.Status != expected {
		return false, nil
	}
	msg.Status = next
	msg.ErrorCode = errCode
	msg.ErrorMessage = errMsg
	return true, nil
}

func (f *fakeMessageStore) SetProviderMessageID(ctx context.Context, id, providerMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id].ProviderMessageID = providerMessageID
	return nil
}

type fakeAdapterStore struct {
	configs map[string]*models.AdapterConfig
	err     error
}

func (f *fakeAdapterStore) Get(ctx context.Context, id string) (*models.AdapterConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	cfg, ok := f.configs[id]
	if !ok {
		return nil, errors.NewAdapterNotFoundError(id)
	}
	return cfg, nil
}

func (f *fakeAdapterStore) DefaultForTeam(ctx context.Context, teamID string) (*models.AdapterConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, cfg := range f.configs {
		if cfg.TeamID == teamID && cfg.IsActive {
			return cfg, nil
		}
	}
	return nil, errors.NewAdapterNotFoundError(teamID)
}

// scriptedAdapter returns the queued errors in order, then succeeds.
type scriptedAdapter struct {
	mu       sync.Mutex
	failures []error
	calls    int
}

func (a *scriptedAdapter) Kind() models.ProviderKind { return models.ProviderSendGrid }

func (a *scriptedAdapter) Send(ctx context.Context, msg *provider.Message) (*provider.SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.failures) > 0 {
		err := a.failures[0]
		a.failures = a.failures[1:]
		return nil, err
	}
	return &provider.SendResult{ProviderMessageID: "pm-1"}, nil
}

func (a *scriptedAdapter) Verify(ctx context.Context) (*provider.VerifyResult, error) {
	return &provider.VerifyResult{OK: true}, nil
}

type fakeBuilder struct {
	adapter provider.Adapter
}

func (b *fakeBuilder) Build(cfg *models.AdapterConfig) (provider.Adapter, error) {
	return b.adapter, nil
}

// ==========================
// Fixtures
// ==========================

func testDeliveryConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		Workers:            2,
		PollInterval:       10 * time.Millisecond,
		VisibilityTimeout:  2 * time.Minute,
		MaxAttempts:        8,
		UnknownMaxAttempts: 4,
		BackoffBase:        30 * time.Second,
		BackoffCap:         time.Hour,
		ProviderTimeout:    5 * time.Second,
		TeamConcurrency:    5,
		AdapterConcurrency: 5,
	}
}

type deliveryFixture struct {
	handler  *DeliveryHandler
	messages *fakeMessageStore
	adapters *fakeAdapterStore
	adapter  *scriptedAdapter
	redis    *miniredis.Miniredis
}

func newDeliveryFixture(t *testing.T, cfg config.DeliveryConfig, failures ...error) *deliveryFixture {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.NewTestLogger(t)
	messages := newFakeMessageStore()
	adapters := &fakeAdapterStore{configs: map[string]*models.AdapterConfig{
		"ad-1": {ID: "ad-1", TeamID: "team-1", Kind: models.ProviderSendGrid, IsActive: true},
	}}
	adapter := &scriptedAdapter{failures: failures}
	tracker := status.NewTracker(messages, log)

	handler := NewDeliveryHandler(cfg, messages, adapters, &fakeBuilder{adapter: adapter},
		tracker, NewLimiter(client, log), log)

	require.NoError(t, messages.Create(context.Background(), &models.Message{
		ID: "msg-1", TeamID: "team-1", To: []string{"dana@example.com"},
		Subject: "Welcome", Status: models.StatusQueued,
	}))

	return &deliveryFixture{handler: handler, messages: messages, adapters: adapters, adapter: adapter, redis: mr}
}

func sendJobPayload(t *testing.T) []byte {
	payload, err := json.Marshal(models.SendJob{
		MessageID: "msg-1",
		TeamID:    "team-1",
		AdapterID: "ad-1",
		To:        []string{"dana@example.com"},
		Subject:   "Welcome",
		HTML:      "<p>Hello</p>",
		Text:      "Hello",
	})
	require.NoError(t, err)
	return payload
}

func leasedJob(t *testing.T, attempts int) *models.Job {
	return &models.Job{
		ID:          "job-1",
		Queue:       models.QueueDelivery,
		Payload:     sendJobPayload(t),
		Status:      models.JobPending,
		Attempts:    attempts,
		MaxAttempts: 8,
	}
}

// ==========================
// Backoff
// ==========================

func TestBackoffDelaysStrictlyIncreasing(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Hour}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := b.Delay(attempt)
		assert.Greater(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestBackoffRespectsCap(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Cap: time.Minute}
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.Delay(attempt)
		assert.LessOrEqual(t, d, time.Minute+time.Minute/4)
	}
}

// ==========================
// Limiter
// ==========================

func TestLimiterCap(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewLimiter(client, logger.NewTestLogger(t))
	ctx := context.Background()

	team := Slot{Key: teamKey("team-1"), Limit: 2}

	ok, err := l.Acquire(ctx, team)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Acquire(ctx, team)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, team)
	require.NoError(t, err)
	assert.False(t, ok, "third slot exceeds the cap")

	l.Release(ctx, teamKey("team-1"))
	ok, err = l.Acquire(ctx, team)
	require.NoError(t, err)
	assert.True(t, ok, "released slot is reusable")
}

func TestLimiterPartialAcquireRollsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewLimiter(client, logger.NewTestLogger(t))
	ctx := context.Background()

	// saturate the adapter key only
	ok, err := l.Acquire(ctx, Slot{Key: adapterKey("ad-1"), Limit: 1})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire(ctx,
		Slot{Key: teamKey("team-1"), Limit: 1},
		Slot{Key: adapterKey("ad-1"), Limit: 1})
	require.NoError(t, err)
	assert.False(t, ok)

	// the team slot claimed before the adapter refusal must be freed
	ok, err = l.Acquire(ctx, Slot{Key: teamKey("team-1"), Limit: 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterSlotLimitsAreIndependent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewLimiter(client, logger.NewTestLogger(t))
	ctx := context.Background()

	// a wide team cap does not widen a tight adapter cap
	ok, err := l.Acquire(ctx,
		Slot{Key: teamKey("team-1"), Limit: 10},
		Slot{Key: adapterKey("ad-1"), Limit: 1})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire(ctx,
		Slot{Key: teamKey("team-1"), Limit: 10},
		Slot{Key: adapterKey("ad-1"), Limit: 1})
	require.NoError(t, err)
	assert.False(t, ok, "adapter slot is the binding cap")

	// a different adapter under the same team still fits
	ok, err = l.Acquire(ctx,
		Slot{Key: teamKey("team-1"), Limit: 10},
		Slot{Key: adapterKey("ad-2"), Limit: 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

// ==========================
// Delivery handler
// ==========================

func TestDeliveryHandlerSuccess(t *testing.T) {
	fx := newDeliveryFixture(t, testDeliveryConfig())

	d := fx.handler.Handle(context.Background(), leasedJob(t, 1))
	assert.Equal(t, ActionDone, d.Action)

	msg, _ := fx.messages.Get(context.Background(), "msg-1")
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, "pm-1", msg.ProviderMessageID)
}

func TestDeliveryHandlerTransientRetriesThenSucceeds(t *testing.T) {
	transient := errors.NewProviderUnavailableError("sendgrid", assert.AnError)
	fx := newDeliveryFixture(t, testDeliveryConfig(), transient, transient, transient)

	var delays []time.Duration
	for attempt := 1; attempt <= 3; attempt++ {
		d := fx.handler.Handle(context.Background(), leasedJob(t, attempt))
		require.Equal(t, ActionRetry, d.Action, "attempt %d", attempt)
		delays = append(delays, d.Delay)
	}

	d := fx.handler.Handle(context.Background(), leasedJob(t, 4))
	assert.Equal(t, ActionDone, d.Action)
	assert.Equal(t, 4, fx.adapter.calls)

	msg, _ := fx.messages.Get(context.Background(), "msg-1")
	assert.Equal(t, models.StatusSent, msg.Status)

	assert.Greater(t, delays[1], delays[0])
	assert.Greater(t, delays[2], delays[1])
}

func TestDeliveryHandlerPermanentFailure(t *testing.T) {
	fx := newDeliveryFixture(t, testDeliveryConfig(),
		errors.NewProviderRejectedError("sendgrid", "status 400: bad recipient"))

	d := fx.handler.Handle(context.Background(), leasedJob(t, 1))
	assert.Equal(t, ActionDead, d.Action)

	msg, _ := fx.messages.Get(context.Background(), "msg-1")
	assert.Equal(t, models.StatusFailed, msg.Status)
	assert.Equal(t, string(errors.ErrCodeProviderRejected), msg.ErrorCode)
}

func TestDeliveryHandlerAttemptsExhausted(t *testing.T) {
	transient := errors.NewProviderUnavailableError("sendgrid", assert.AnError)
	cfg := testDeliveryConfig()
	cfg.MaxAttempts = 3
	fx := newDeliveryFixture(t, cfg, transient, transient, transient, transient)

	var last Disposition
	for attempt := 1; attempt <= 3; attempt++ {
		last = fx.handler.Handle(context.Background(), leasedJob(t, attempt))
	}
	assert.Equal(t, ActionDead, last.Action)

	msg, _ := fx.messages.Get(context.Background(), "msg-1")
	assert.Equal(t, models.StatusFailed, msg.Status, "exhaustion never leaves the message queued")
	assert.Equal(t, string(errors.ErrCodeAttemptsExhausted), msg.ErrorCode)
}

func TestDeliveryHandlerUnknownClassReducedBudget(t *testing.T) {
	unknown := errors.NewProviderUnknownError("sendgrid", "status 418")
	cfg := testDeliveryConfig()
	fx := newDeliveryFixture(t, cfg, unknown, unknown, unknown, unknown, unknown)

	d := fx.handler.Handle(context.Background(), leasedJob(t, cfg.UnknownMaxAttempts))
	assert.Equal(t, ActionDead, d.Action, "unknown failures stop at the reduced budget")

	msg, _ := fx.messages.Get(context.Background(), "msg-1")
	assert.Equal(t, models.StatusFailed, msg.Status)
}

func TestDeliveryHandlerCapBlockedJobIsReleased(t *testing.T) {
	cfg := testDeliveryConfig()
	cfg.TeamConcurrency = 1
	fx := newDeliveryFixture(t, cfg)

	// saturate the team slot as if another worker holds it
	require.NoError(t, fx.redis.Set(teamKey("team-1"), "1"))

	d := fx.handler.Handle(context.Background(), leasedJob(t, 1))
	assert.Equal(t, ActionRelease, d.Action)

	msg, _ := fx.messages.Get(context.Background(), "msg-1")
	assert.Equal(t, models.StatusQueued, msg.Status, "blocked jobs stay pending, not failed")
	assert.Equal(t, 0, fx.adapter.calls)
}

func TestDeliveryHandlerNoEligibleAdapter(t *testing.T) {
	fx := newDeliveryFixture(t, testDeliveryConfig())

	payload, err := json.Marshal(models.SendJob{
		MessageID: "msg-1",
		TeamID:    "team-2",
		To:        []string{"dana@example.com"},
	})
	require.NoError(t, err)

	d := fx.handler.Handle(context.Background(), &models.Job{
		ID: "job-2", Queue: models.QueueDelivery, Payload: payload, Attempts: 1,
	})
	assert.Equal(t, ActionDead, d.Action)

	msg, _ := fx.messages.Get(context.Background(), "msg-1")
	assert.Equal(t, models.StatusFailed, msg.Status)
	assert.Equal(t, string(errors.ErrCodeAdapterNotFound), msg.ErrorCode)
}

func TestDeliveryHandlerAdapterLookupUnavailableIsReleased(t *testing.T) {
	fx := newDeliveryFixture(t, testDeliveryConfig())
	fx.adapters.err = errors.NewStorageUnavailableError(assert.AnError)

	d := fx.handler.Handle(context.Background(), leasedJob(t, 1))
	assert.Equal(t, ActionRelease, d.Action)

	msg, _ := fx.messages.Get(context.Background(), "msg-1")
	assert.Equal(t, models.StatusQueued, msg.Status, "a storage blip must not fail the message")
	assert.Equal(t, 0, fx.adapter.calls)
}

func TestDeliveryHandlerAdapterCapBlockedJobIsReleased(t *testing.T) {
	cfg := testDeliveryConfig()
	cfg.AdapterConcurrency = 1
	fx := newDeliveryFixture(t, cfg)

	// saturate the adapter slot as if another worker holds it
	require.NoError(t, fx.redis.Set(adapterKey("ad-1"), "1"))

	d := fx.handler.Handle(context.Background(), leasedJob(t, 1))
	assert.Equal(t, ActionRelease, d.Action)

	msg, _ := fx.messages.Get(context.Background(), "msg-1")
	assert.Equal(t, models.StatusQueued, msg.Status)
	assert.Equal(t, 0, fx.adapter.calls)
}
