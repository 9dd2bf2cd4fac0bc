package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paulober/pyboard-serial-com/internal/progress"
)

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	p := NewInMemoryPublisher()

	var got []*Event
	require.NoError(t, p.Subscribe("all", Filter{}, func(e *Event) { got = append(got, e) }))

	p.Publish(&Event{Type: TypeSessionOpened, SessionID: "s1"})
	p.Publish(&Event{Type: TypeSessionClosed, SessionID: "s1"})

	require.Len(t, got, 2)
	require.Equal(t, TypeSessionOpened, got[0].Type)
	require.False(t, got[0].Time.IsZero())
}

func TestFilterByType(t *testing.T) {
	p := NewInMemoryPublisher()

	var got []*Event
	filter := Filter{Types: []Type{TypeTransferProgress}}
	require.NoError(t, p.Subscribe("progress", filter, func(e *Event) { got = append(got, e) }))

	p.Publish(&Event{Type: TypeSessionOpened, SessionID: "s1"})
	p.Publish(&Event{
		Type:      TypeTransferProgress,
		SessionID: "s1",
		Payload:   progress.Report{Written: 10, Total: 100, FileCount: 2},
	})

	require.Len(t, got, 1)
	report, ok := got[0].Payload.(progress.Report)
	require.True(t, ok)
	require.Equal(t, int64(10), report.Written)
}

func TestFilterBySessionID(t *testing.T) {
	p := NewInMemoryPublisher()

	var got int
	require.NoError(t, p.Subscribe("one", Filter{SessionID: "s1"}, func(*Event) { got++ }))

	p.Publish(&Event{Type: TypeSessionOpened, SessionID: "s1"})
	p.Publish(&Event{Type: TypeSessionOpened, SessionID: "s2"})

	require.Equal(t, 1, got)
}

func TestSubscribeValidation(t *testing.T) {
	p := NewInMemoryPublisher()

	require.ErrorIs(t, p.Subscribe("", Filter{}, func(*Event) {}), ErrInvalidSubscriptionID)
	require.ErrorIs(t, p.Subscribe("x", Filter{}, nil), ErrNilHandler)

	require.NoError(t, p.Subscribe("x", Filter{}, func(*Event) {}))
	require.ErrorIs(t, p.Subscribe("x", Filter{}, func(*Event) {}), ErrSubscriptionExists)
}

func TestUnsubscribe(t *testing.T) {
	p := NewInMemoryPublisher()

	require.NoError(t, p.Subscribe("x", Filter{}, func(*Event) {}))
	require.Equal(t, 1, p.SubscriberCount())

	require.NoError(t, p.Unsubscribe("x"))
	require.Equal(t, 0, p.SubscriberCount())
	require.ErrorIs(t, p.Unsubscribe("x"), ErrSubscriptionNotFound)
}

func TestHandlerMayUnsubscribeItself(t *testing.T) {
	p := NewInMemoryPublisher()

	require.NoError(t, p.Subscribe("once", Filter{}, func(*Event) {
		require.NoError(t, p.Unsubscribe("once"))
	}))

	p.Publish(&Event{Type: TypeSessionOpened})
	require.Equal(t, 0, p.SubscriberCount())
}

func TestCloseDropsAllSubscriptions(t *testing.T) {
	p := NewInMemoryPublisher()
	require.NoError(t, p.Subscribe("a", Filter{}, func(*Event) {}))
	require.NoError(t, p.Subscribe("b", Filter{}, func(*Event) {}))

	p.Close()
	require.Equal(t, 0, p.SubscriberCount())
}
