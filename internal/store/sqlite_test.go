// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Uses in-memory databases; covers channels, conversations, messages, embeddings

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChannel_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := &Channel{
		ID:       "c1",
		Name:     "Website widget",
		Kind:     ChannelKindWeb,
		Greeting: "Hi there!",
		Active:   true,
	}
	require.NoError(t, s.CreateChannel(ctx, ch))

	got, err := s.GetChannel(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Website widget", got.Name)
	assert.Equal(t, ChannelKindWeb, got.Kind)
	assert.Equal(t, "Hi there!", got.Greeting)
	assert.True(t, got.Active)
}

func TestChannel_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetChannel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChannel_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := &Channel{ID: "c1", Name: "a", Kind: ChannelKindWeb, Active: true}
	require.NoError(t, s.CreateChannel(ctx, ch))

	err := s.CreateChannel(ctx, &Channel{ID: "c1", Name: "b", Kind: ChannelKindWeb})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestChannel_List(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateChannel(ctx, &Channel{ID: "c1", Name: "a", Kind: ChannelKindWeb, Active: true}))
	require.NoError(t, s.CreateChannel(ctx, &Channel{ID: "c2", Name: "b", Kind: ChannelKindTelegram, Active: false}))

	channels, err := s.ListChannels(ctx)
	require.NoError(t, err)
	assert.Len(t, channels, 2)
}

func TestConversation_Ensure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.EnsureConversation(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, conv.GreetingSent)

	// Second ensure returns the same row, not a reset one
	_, err = s.MarkGreetingSent(ctx, "u1", "c1")
	require.NoError(t, err)

	conv, err = s.EnsureConversation(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.True(t, conv.GreetingSent)
}

func TestConversation_MarkGreetingSentOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureConversation(ctx, "u1", "c1")
	require.NoError(t, err)

	first, err := s.MarkGreetingSent(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkGreetingSent(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, second)
}

func TestConversation_MarkGreetingSent_ConcurrentReconnects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureConversation(ctx, "u1", "c1")
	require.NoError(t, err)

	// Simulate 10 reconnecting clients racing to deliver the greeting.
	// Exactly one of them may win the transition.
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.MarkGreetingSent(ctx, "u1", "c1")
			if err == nil && won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestMessages_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	msgs := []*Message{
		{ID: "m1", UserID: "u1", ChannelID: "c1", Role: RoleUser, Content: "hi", CreatedAt: base},
		{ID: "m2", UserID: "u1", ChannelID: "c1", Role: RoleAssistant, Content: "hello!", CreatedAt: base.Add(time.Second)},
		{ID: "m3", UserID: "u1", ChannelID: "c1", Role: RoleUser, Content: "help me", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, s.SaveMessage(ctx, m))
	}

	got, err := s.GetMessages(ctx, "u1", "c1", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Chronological order
	assert.Equal(t, "hi", got[0].Content)
	assert.Equal(t, "help me", got[2].Content)

	// Limit returns most recent, still chronological
	got, err = s.GetMessages(ctx, "u1", "c1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hello!", got[0].Content)
	assert.Equal(t, "help me", got[1].Content)
}

func TestMessages_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMessage(ctx, &Message{ID: "m1", UserID: "u1", ChannelID: "c1", Role: RoleUser, Content: "x"}))
	err := s.SaveMessage(ctx, &Message{ID: "m1", UserID: "u1", ChannelID: "c1", Role: RoleUser, Content: "y"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestEmbeddings_SaveAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	embeddings := []*Embedding{
		{ID: "e1", DocumentID: "doc1", ChunkIndex: 0, Content: "first chunk", Vector: []float32{0.1, 0.2, 0.3}},
		{ID: "e2", DocumentID: "doc1", ChunkIndex: 1, Content: "second chunk", Vector: []float32{0.4, 0.5, 0.6}},
	}
	require.NoError(t, s.SaveEmbeddings(ctx, embeddings))

	n, err := s.CountEmbeddings(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountEmbeddings(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3.75, 0}
	decoded := DecodeVector(encodeVector(v))
	assert.Equal(t, v, decoded)
}
