package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paygate/internal/common/events"
	"paygate/internal/common/money"
	"paygate/internal/payment/domain"
)

func TestPrepareCreatesSession(t *testing.T) {
	f := newFixture(t)

	session := f.prepare(t, "order-1", 11000)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, money.Amount{Total: 11000, Supply: 10000, VAT: 1000}, session.Amount)
	assert.Equal(t, testNow.Add(15*time.Minute), session.ExpiresAt)
	assert.Equal(t, "https://shop.example.com/success", session.SuccessURL())
	f.publisher.AssertCalled(t, "Publish", mock.Anything, eventOfType(events.EventSessionPrepared))
}

func TestPrepareReplaysIdenticalRequest(t *testing.T) {
	f := newFixture(t)

	first := f.prepare(t, "order-1", 50000)
	second := f.prepare(t, "order-1", 50000)

	assert.Equal(t, first.ID, second.ID)
	f.publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestPrepareConflictOnDifferentAmount(t *testing.T) {
	f := newFixture(t)
	f.prepare(t, "order-1", 50000)

	_, err := f.sessionService.Prepare(context.Background(), prepareCommand("order-1", 49000))
	assert.ErrorIs(t, err, domain.ErrSessionConflict)

	explicit := prepareCommand("order-1", 50000)
	explicit.Amount = money.Amount{Total: 50000, Supply: 40000, VAT: 10000}
	_, err = f.sessionService.Prepare(context.Background(), explicit)
	assert.ErrorIs(t, err, domain.ErrSessionConflict, "a different supply/vat split is a different payment")
}

func TestPrepareExpiredSession(t *testing.T) {
	f := newFixture(t)
	first := f.prepare(t, "order-1", 50000)

	f.clock = first.ExpiresAt.Add(time.Second)
	_, err := f.sessionService.Prepare(context.Background(), prepareCommand("order-1", 50000))
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	f.publisher.AssertCalled(t, "Publish", mock.Anything, eventOfType(events.EventSessionExpired))

	retried := f.prepare(t, "order-1", 50000)
	assert.NotEqual(t, first.ID, retried.ID)
}

func TestPrepareAtExactExpiryIsStillOngoing(t *testing.T) {
	f := newFixture(t)
	first := f.prepare(t, "order-1", 50000)

	f.clock = first.ExpiresAt
	second := f.prepare(t, "order-1", 50000)
	assert.Equal(t, first.ID, second.ID)
}

func TestPrepareRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.sessionService.Prepare(context.Background(), prepareCommand("order-1", 999))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	bad := prepareCommand("order-2", 5000)
	bad.Amount = money.Amount{Total: 5000, Supply: 4000, VAT: 500}
	_, err = f.sessionService.Prepare(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	noLines := prepareCommand("order-3", 5000)
	noLines.OrderLines = nil
	_, err = f.sessionService.Prepare(context.Background(), noLines)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderLines)
}

func TestPrepareGateBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lease, ok, err := f.gate.TryEnter(ctx, merchantID, "order-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.sessionService.Prepare(ctx, prepareCommand("order-1", 50000))
	assert.ErrorIs(t, err, domain.ErrGateBusy)

	require.NoError(t, f.gate.Exit(ctx, lease))
	f.prepare(t, "order-1", 50000)
}

func TestPrepareReleasesGate(t *testing.T) {
	f := newFixture(t)
	f.prepare(t, "order-1", 50000)

	_, ok, err := f.gate.TryEnter(context.Background(), merchantID, "order-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPrepareConcurrentRequestsShareOneSession(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	keys := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := f.sessionService.Prepare(context.Background(), prepareCommand("order-1", 50000))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrGateBusy)
				return
			}
			keys <- session.ID
		}()
	}
	wg.Wait()
	close(keys)

	seen := map[string]bool{}
	for k := range keys {
		seen[k] = true
	}
	assert.Len(t, seen, 1)
}

func TestPrepareLosingInsertRaceReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	winner, err := domain.NewPaymentSession("winner", merchantID, "order-1",
		prepareCommand("order-1", 50000).OrderLines, money.Amount{Total: 50000, Supply: 45455, VAT: 4545},
		domain.RedirectURLs{Success: "https://s", Fail: "https://f"}, domain.DefaultPolicy(), testNow)
	require.NoError(t, err)

	racing := &racingSessions{MemorySessionRepository: f.sessions, winner: winner}
	f.sessionService.sessions = racing

	session, err := f.sessionService.Prepare(ctx, prepareCommand("order-1", 50000))
	require.NoError(t, err)
	assert.Equal(t, "winner", session.ID)
}

// racingSessions inserts a competing session right after the lookup.
type racingSessions struct {
	*MemorySessionRepository
	winner *domain.PaymentSession
	raced  bool
}

func (r *racingSessions) FindOngoingByOrder(ctx context.Context, merchantID, orderID string) (*domain.PaymentSession, error) {
	s, err := r.MemorySessionRepository.FindOngoingByOrder(ctx, merchantID, orderID)
	if !r.raced {
		r.raced = true
		_ = r.MemorySessionRepository.Create(ctx, r.winner)
	}
	return s, err
}

func TestGetOngoingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.prepare(t, "order-1", 50000)

	got, err := f.sessionService.GetOngoingSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = f.sessionService.GetOngoingSession(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	f.clock = session.ExpiresAt.Add(time.Nanosecond)
	_, err = f.sessionService.GetOngoingSession(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestExpireStaleSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.prepare(t, "order-1", 50000)
	f.clock = f.clock.Add(10 * time.Minute)
	fresh := f.prepare(t, "order-2", 50000)

	f.clock = testNow.Add(16 * time.Minute)
	n, err := f.sessionService.ExpireStaleSessions(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.sessions.FindOngoingByKey(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.sessions.FindOngoingByKey(ctx, fresh.ID)
	assert.NoError(t, err)
}
