// ABOUTME: Tests for ticket issuance and single-use consumption
// ABOUTME: Covers expiry, replay, tampering, and unknown or inactive channels

package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley-gateway/internal/store"
)

type fakeChannelStore struct {
	channels map[string]*store.Channel
}

func (f *fakeChannelStore) GetChannel(_ context.Context, id string) (*store.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ch, nil
}

func newTestService(t *testing.T, ttl time.Duration) *TicketService {
	t.Helper()
	channels := &fakeChannelStore{channels: map[string]*store.Channel{
		"web-support":  {ID: "web-support", Kind: store.ChannelKindWeb, Active: true},
		"old-campaign": {ID: "old-campaign", Kind: store.ChannelKindWeb, Active: false},
	}}
	svc := NewTicketService([]byte("test-secret"), ttl, channels)
	t.Cleanup(svc.Close)
	return svc
}

func TestIssueTicket(t *testing.T) {
	svc := newTestService(t, time.Minute)

	ticket, err := svc.IssueTicket(context.Background(), "user-1", "web-support")
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.Token)
	assert.Equal(t, time.Minute, ticket.ExpiresIn)
}

func TestIssueTicket_UnknownChannel(t *testing.T) {
	svc := newTestService(t, time.Minute)

	_, err := svc.IssueTicket(context.Background(), "user-1", "nope")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestIssueTicket_InactiveChannel(t *testing.T) {
	svc := newTestService(t, time.Minute)

	_, err := svc.IssueTicket(context.Background(), "user-1", "old-campaign")
	assert.ErrorIs(t, err, ErrChannelInactive)
}

func TestIssueTicket_MissingFields(t *testing.T) {
	svc := newTestService(t, time.Minute)

	_, err := svc.IssueTicket(context.Background(), "", "web-support")
	assert.ErrorIs(t, err, ErrTicketInvalid)

	_, err = svc.IssueTicket(context.Background(), "user-1", "")
	assert.ErrorIs(t, err, ErrTicketInvalid)
}

func TestConsumeTicket(t *testing.T) {
	svc := newTestService(t, time.Minute)

	ticket, err := svc.IssueTicket(context.Background(), "user-1", "web-support")
	require.NoError(t, err)

	id, err := svc.ConsumeTicket(ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "web-support", id.ChannelID)
}

func TestConsumeTicket_Replay(t *testing.T) {
	svc := newTestService(t, time.Minute)

	ticket, err := svc.IssueTicket(context.Background(), "user-1", "web-support")
	require.NoError(t, err)

	_, err = svc.ConsumeTicket(ticket.Token)
	require.NoError(t, err)

	_, err = svc.ConsumeTicket(ticket.Token)
	assert.ErrorIs(t, err, ErrTicketAlreadyUsed)
}

func TestConsumeTicket_ConcurrentReplay(t *testing.T) {
	svc := newTestService(t, time.Minute)

	ticket, err := svc.IssueTicket(context.Background(), "user-1", "web-support")
	require.NoError(t, err)

	// Many goroutines race to consume the same ticket; exactly one may succeed
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ConsumeTicket(ticket.Token); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestConsumeTicket_Expired(t *testing.T) {
	svc := newTestService(t, -time.Second)

	ticket, err := svc.IssueTicket(context.Background(), "user-1", "web-support")
	require.NoError(t, err)

	_, err = svc.ConsumeTicket(ticket.Token)
	assert.ErrorIs(t, err, ErrTicketExpired)
}

func TestConsumeTicket_Garbage(t *testing.T) {
	svc := newTestService(t, time.Minute)

	_, err := svc.ConsumeTicket("not-a-jwt")
	assert.ErrorIs(t, err, ErrTicketInvalid)
}

func TestConsumeTicket_WrongSecret(t *testing.T) {
	svc := newTestService(t, time.Minute)

	other := NewTicketService([]byte("different-secret"), time.Minute, &fakeChannelStore{
		channels: map[string]*store.Channel{
			"web-support": {ID: "web-support", Kind: store.ChannelKindWeb, Active: true},
		},
	})
	defer other.Close()

	ticket, err := other.IssueTicket(context.Background(), "user-1", "web-support")
	require.NoError(t, err)

	_, err = svc.ConsumeTicket(ticket.Token)
	assert.ErrorIs(t, err, ErrTicketInvalid)
}
