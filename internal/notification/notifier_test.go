package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

type fakeMailer struct {
	mu    sync.Mutex
	sent  []Email
	fails int
}

func (m *fakeMailer) Send(_ context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails > 0 {
		m.fails--
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, e)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func testOrder() domain.Order {
	return domain.Order{
		ID:                 "o1",
		CustomerName:       "Jane Doe",
		CustomerEmail:      "jane@example.com",
		ProductDescription: "Widget",
		Quantity:           2,
		TotalPrice:         decimal.RequireFromString("20"),
		Status:             domain.StatusShipped,
	}
}

func TestNotifier_Emails(t *testing.T) {
	ctx := context.Background()
	m := &fakeMailer{}
	n := NewNotifier(m, NewMemoryHub(), NewMemoryDeduper(time.Hour), nil)
	o := testOrder()

	require.NoError(t, n.SendConfirmation(ctx, "e1", o))
	require.NoError(t, n.SendStatusUpdate(ctx, "e2", o, "PROCESSING"))
	require.NoError(t, n.SendCancellation(ctx, "e3", o))

	require.Len(t, m.sent, 3)
	assert.Equal(t, "jane@example.com", m.sent[0].To)
	assert.Equal(t, "Order Confirmation - #o1", m.sent[0].Subject)
	assert.Contains(t, m.sent[0].Body, "Total: 20.00")
	assert.Contains(t, m.sent[1].Body, "from PROCESSING to SHIPPED")
	assert.Equal(t, "Order Cancelled - #o1", m.sent[2].Subject)
}

func TestNotifier_RedeliveryIsSuppressed(t *testing.T) {
	ctx := context.Background()
	m := &fakeMailer{}
	hub := NewMemoryHub()
	n := NewNotifier(m, hub, NewMemoryDeduper(time.Hour), nil)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	live, err := hub.Subscribe(sctx, OrdersTopic)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, n.SendConfirmation(ctx, "e1", testOrder()))
		require.NoError(t, n.Broadcast(ctx, "e1", testOrder()))
	}
	assert.Equal(t, 1, m.count())
	assert.Len(t, live, 1)

	// Same event, different action is not a duplicate.
	require.NoError(t, n.SendCancellation(ctx, "e1", testOrder()))
	assert.Equal(t, 2, m.count())
}

func TestNotifier_FailureReleasesClaim(t *testing.T) {
	ctx := context.Background()
	m := &fakeMailer{fails: 1}
	n := NewNotifier(m, NewMemoryHub(), NewMemoryDeduper(time.Hour), nil)

	assert.Error(t, n.SendConfirmation(ctx, "e1", testOrder()))
	require.NoError(t, n.SendConfirmation(ctx, "e1", testOrder()))
	assert.Equal(t, 1, m.count())
}

func TestNotifier_BroadcastPayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewMemoryHub()
	n := NewNotifier(&fakeMailer{}, hub, nil, nil)

	live, err := hub.Subscribe(ctx, OrdersTopic)
	require.NoError(t, err)
	require.NoError(t, n.Broadcast(ctx, "", testOrder()))

	var got domain.Order
	require.NoError(t, json.Unmarshal(<-live, &got))
	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, domain.StatusShipped, got.Status)
}

func TestMemoryHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	live, err := hub.Subscribe(ctx, OrdersTopic)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-live:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, hub.Publish(context.Background(), OrdersTopic, []byte("x")))
}

func TestRedisHub_PubSub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	hub := NewRedisHub(client, "orderpulse")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live, err := hub.Subscribe(ctx, OrdersTopic)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, OrdersTopic, []byte(`{"id":"o1"}`)))
	select {
	case got := <-live:
		assert.JSONEq(t, `{"id":"o1"}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestDedupers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	for name, d := range map[string]Deduper{
		"memory": NewMemoryDeduper(time.Hour),
		"redis":  NewRedisDeduper(client, "orderpulse", time.Hour),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := d.Claim(ctx, "e1:confirmation")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = d.Claim(ctx, "e1:confirmation")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, d.Release(ctx, "e1:confirmation"))
			ok, err = d.Claim(ctx, "e1:confirmation")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
	assert.Equal(t, time.Hour, mr.TTL("orderpulse:dedupe:e1:confirmation"))
}

func TestMemoryDeduper_ExpiresAndSweeps(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		ok, _ := d.Claim(ctx, k)
		require.True(t, ok)
	}
	now = now.Add(2 * time.Minute)

	ok, _ := d.Claim(ctx, "a")
	assert.True(t, ok, "expired claim can be taken again")
	assert.Equal(t, 1, d.Len(), "expired keys were swept")
}

func TestSMTPMailer_Send(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Addr: "mail.example.com:587", From: "orders@example.com", Username: "u", Password: "p"})
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	require.NoError(t, m.Send(context.Background(), Email{To: "jane@example.com", Subject: "Hi", Body: "line1\nline2"}))
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, "orders@example.com", gotFrom)
	assert.Equal(t, []string{"jane@example.com"}, gotTo)
	msg := string(gotMsg)
	assert.True(t, strings.HasPrefix(msg, "From: orders@example.com\r\n"))
	assert.Contains(t, msg, "Subject: Hi\r\n")
	assert.True(t, strings.HasSuffix(msg, "line1\r\nline2"))
}
