package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/chat"
	"chat-relay/internal/metrics"
	"chat-relay/internal/mocks"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var createdAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dir       *mocks.MockDirectory
	store     *mocks.MockMessageStore
	profiles  *mocks.MockProfileLookup
	publisher *mocks.MockPublisher
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	return &fixture{
		dir:       mocks.NewMockDirectory(ctrl),
		store:     mocks.NewMockMessageStore(ctrl),
		profiles:  mocks.NewMockProfileLookup(ctrl),
		publisher: mocks.NewMockPublisher(ctrl),
	}
}

func (f *fixture) coordinator(publisher chat.Publisher, m *metrics.Collector) *chat.Coordinator {
	return chat.NewCoordinator(chat.NewAuthorizer(f.dir), f.store, f.profiles, publisher, nil, m)
}

func storedFrom(id int64, nm chat.NewMessage) *chat.Message {
	return &chat.Message{
		ID:           id,
		Conversation: nm.Conversation,
		SenderID:     nm.SenderID,
		ReceiverID:   nm.ReceiverID,
		Body:         nm.Body,
		CreatedAt:    createdAt,
	}
}

func TestCoordinator_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("should store then deliver the exact returned message to subscribers", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		hub := chat.NewHub(nil, nil, 8)
		receiver := hub.NewClient(nil, auth.Identity{UserID: 1, Username: "alice"})
		req.NoError(hub.Register(receiver))
		req.NoError(hub.Join(chat.Private(7), receiver))

		f.dir.EXPECT().PrivateChat(gomock.Any(), int64(7)).Return(chat7, nil)
		f.store.EXPECT().SaveMessage(gomock.Any(), chat.NewMessage{
			Conversation: chat.Private(7),
			SenderID:     2,
			ReceiverID:   1,
			Body:         "hi",
		}).DoAndReturn(func(_ context.Context, nm chat.NewMessage) (*chat.Message, error) {
			return storedFrom(100, nm), nil
		})
		f.profiles.EXPECT().Profiles(gomock.Any(), int64(2), int64(1)).Return(map[int64]chat.Profile{
			1: {ID: 1, Username: "alice", AvatarURL: "https://cdn.example/alice.png"},
			2: {ID: 2, Username: "bob"},
		}, nil)

		msg, err := f.coordinator(hub, nil).Send(ctx, chat.SendRequest{
			Conversation: chat.Private(7),
			SenderID:     2,
			Body:         "hi",
		})
		req.NoError(err)
		req.Equal(int64(100), msg.ID)
		req.Equal("bob", msg.SenderUsername)
		req.Equal(chat.DefaultAvatar, msg.SenderAvatar)
		req.Equal("alice", msg.ReceiverUsername)
		req.Equal("https://cdn.example/alice.png", msg.ReceiverAvatar)

		var pushed struct {
			Type    string          `json:"type"`
			Message json.RawMessage `json:"message"`
		}
		select {
		case payload := <-receiver.Outbox():
			req.NoError(json.Unmarshal(payload, &pushed))
		case <-time.After(time.Second):
			req.FailNow("no event delivered")
		}
		want, err := json.Marshal(msg)
		req.NoError(err)
		req.Equal(chat.EventNewMessage, pushed.Type)
		req.JSONEq(string(want), string(pushed.Message))
	})

	t.Run("should reject a sender outside the chat before storing", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.dir.EXPECT().PrivateChat(gomock.Any(), int64(7)).Return(chat7, nil)
		f.store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).Times(0)
		f.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		msg, err := f.coordinator(f.publisher, nil).Send(ctx, chat.SendRequest{
			Conversation: chat.Private(7),
			SenderID:     3,
			Body:         "x",
		})

		req.Nil(msg)
		req.ErrorIs(err, chat.ErrForbidden)
	})

	t.Run("should reject a blank body without touching anything", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.dir.EXPECT().PrivateChat(gomock.Any(), gomock.Any()).Times(0)
		f.store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).Times(0)
		f.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		co := f.coordinator(f.publisher, nil)

		for _, body := range []string{"", "   ", "\n\t"} {
			_, err := co.Send(ctx, chat.SendRequest{Conversation: chat.Private(7), SenderID: 2, Body: body})
			req.ErrorIs(err, chat.ErrInvalidInput)
		}
	})

	t.Run("should reject malformed requests", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		co := f.coordinator(f.publisher, nil)

		_, err := co.Send(ctx, chat.SendRequest{Conversation: chat.Group(0), SenderID: 2, Body: "x"})
		req.ErrorIs(err, chat.ErrInvalidInput)

		_, err = co.Send(ctx, chat.SendRequest{Conversation: chat.Group(1), SenderID: 0, Body: "x"})
		req.ErrorIs(err, chat.ErrInvalidInput)

		long := make([]byte, 4001)
		for i := range long {
			long[i] = 'a'
		}
		_, err = co.Send(ctx, chat.SendRequest{Conversation: chat.Group(1), SenderID: 2, Body: string(long)})
		req.ErrorIs(err, chat.ErrInvalidInput)
	})

	t.Run("should never publish when the store fails", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		m := metrics.NewCollector("test")
		f.dir.EXPECT().GroupMembership(gomock.Any(), int64(3), int64(2)).Return(chat.Membership{GroupExists: true, Member: true}, nil)
		f.store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).Return(nil, errors.New("disk full"))
		f.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		msg, err := f.coordinator(f.publisher, m).Send(ctx, chat.SendRequest{
			Conversation: chat.Group(3),
			SenderID:     2,
			Body:         "hello",
		})

		req.Nil(msg)
		req.ErrorIs(err, chat.ErrStoreFailed)
		req.Equal("internal server error", chat.PublicMessage(err))
		req.Equal(float64(1), testutil.ToFloat64(m.Writes.WithLabelValues("store_failed")))
	})

	t.Run("should still succeed when publishing fails", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		m := metrics.NewCollector("test")
		f.dir.EXPECT().GroupMembership(gomock.Any(), int64(3), int64(2)).Return(chat.Membership{GroupExists: true, Member: true}, nil)
		f.store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, nm chat.NewMessage) (*chat.Message, error) {
			return storedFrom(5, nm), nil
		})
		f.profiles.EXPECT().Profiles(gomock.Any(), int64(2)).Return(nil, errors.New("timeout"))
		f.publisher.EXPECT().Publish(gomock.Any(), chat.Group(3), gomock.Any()).Return(errors.New("broker down"))

		msg, err := f.coordinator(f.publisher, m).Send(ctx, chat.SendRequest{
			Conversation: chat.Group(3),
			SenderID:     2,
			Body:         "hello",
		})

		req.NoError(err)
		req.Equal(int64(5), msg.ID)
		req.Equal(chat.UnknownUsername, msg.SenderUsername)
		req.Equal(chat.DefaultAvatar, msg.SenderAvatar)
		req.Empty(msg.ReceiverUsername)
		req.Equal(float64(1), testutil.ToFloat64(m.Dropped.WithLabelValues("publish_failed")))
		req.Equal(float64(1), testutil.ToFloat64(m.Writes.WithLabelValues("stored")))
	})

	t.Run("should finish a write once persisting has started", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		f.dir.EXPECT().GroupMembership(gomock.Any(), int64(3), int64(2)).Return(chat.Membership{GroupExists: true, Member: true}, nil)
		f.store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, nm chat.NewMessage) (*chat.Message, error) {
			cancel()
			req.NoError(ctx.Err())
			return storedFrom(6, nm), nil
		})
		f.profiles.EXPECT().Profiles(gomock.Any(), gomock.Any()).Return(map[int64]chat.Profile{}, nil)
		f.publisher.EXPECT().Publish(gomock.Any(), chat.Group(3), gomock.Any()).DoAndReturn(func(ctx context.Context, _ chat.ConversationRef, _ *chat.Message) error {
			req.NoError(ctx.Err())
			return nil
		})

		msg, err := f.coordinator(f.publisher, nil).Send(ctx, chat.SendRequest{
			Conversation: chat.Group(3),
			SenderID:     2,
			Body:         "hello",
		})

		req.NoError(err)
		req.Equal(int64(6), msg.ID)
	})
}

func TestCoordinator_Ordering(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	const writers = 50
	var nextID atomic.Int64
	var mu sync.Mutex
	var published []int64

	f.dir.EXPECT().GroupMembership(gomock.Any(), int64(1), gomock.Any()).
		Return(chat.Membership{GroupExists: true, Member: true}, nil).Times(writers)
	f.store.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, nm chat.NewMessage) (*chat.Message, error) {
			return storedFrom(nextID.Add(1), nm), nil
		}).Times(writers)
	f.profiles.EXPECT().Profiles(gomock.Any(), gomock.Any()).Return(map[int64]chat.Profile{}, nil).Times(writers)
	f.publisher.EXPECT().Publish(gomock.Any(), chat.Group(1), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ chat.ConversationRef, msg *chat.Message) error {
			mu.Lock()
			published = append(published, msg.ID)
			mu.Unlock()
			return nil
		}).Times(writers)

	co := f.coordinator(f.publisher, nil)
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(sender int64) {
			defer wg.Done()
			_, err := co.Send(context.Background(), chat.SendRequest{
				Conversation: chat.Group(1),
				SenderID:     sender,
				Body:         "m",
			})
			errs <- err
		}(int64(i%5 + 1))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		req.NoError(err)
	}

	req.Len(published, writers)
	req.IsIncreasing(published)
}

func TestCoordinator_History(t *testing.T) {
	ctx := context.Background()

	t.Run("should return history to a member", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		stored := []*chat.Message{{ID: 1, Body: "a"}, {ID: 2, Body: "b"}}
		f.dir.EXPECT().GroupMembership(gomock.Any(), int64(3), int64(2)).Return(chat.Membership{GroupExists: true, Member: true}, nil)
		f.store.EXPECT().History(gomock.Any(), chat.Group(3), 50).Return(stored, nil)

		msgs, err := f.coordinator(f.publisher, nil).History(ctx, 2, chat.Group(3), 50)

		req.NoError(err)
		req.Equal(stored, msgs)
	})

	t.Run("should return an empty list rather than nil", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.dir.EXPECT().GroupMembership(gomock.Any(), int64(3), int64(2)).Return(chat.Membership{GroupExists: true, Member: true}, nil)
		f.store.EXPECT().History(gomock.Any(), chat.Group(3), 50).Return(nil, nil)

		msgs, err := f.coordinator(f.publisher, nil).History(ctx, 2, chat.Group(3), 50)

		req.NoError(err)
		req.NotNil(msgs)
		req.Empty(msgs)
	})

	t.Run("should not read history for outsiders", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.dir.EXPECT().GroupMembership(gomock.Any(), int64(3), int64(9)).Return(chat.Membership{GroupExists: true}, nil)
		f.store.EXPECT().History(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := f.coordinator(f.publisher, nil).History(ctx, 9, chat.Group(3), 50)

		req.ErrorIs(err, chat.ErrForbidden)
	})
}
