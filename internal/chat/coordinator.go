package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"chat-relay/internal/metrics"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	orderingStripes = 128

	DefaultAvatar   = "https://via.placeholder.com/40"
	UnknownUsername = "unknown"
)

// SendRequest is a write as received from an authenticated caller.
type SendRequest struct {
	Conversation ConversationRef
	SenderID     int64  `validate:"gt=0"`
	Body         string `validate:"max=4000"`
}

type writeState int

const (
	stateValidating writeState = iota
	stateAuthorizing
	statePersisting
	statePublishing
	stateDone
)

func (s writeState) String() string {
	return [...]string{"validating", "authorizing", "persisting", "publishing", "done"}[s]
}

// write carries one request through the state machine. stored is only set
// by the persisting step and publishing reads nothing else, so a message can
// only be published after it has been stored.
type write struct {
	req    SendRequest
	state  writeState
	access Access
	stored *Message
	unlock func()
}

// Coordinator runs every message write through
// Validating → Authorizing → Persisting → Publishing → Done.
//
// Writes to the same conversation hold an ordering stripe from the start of
// Persisting until Publishing returns, so subscribers see messages in the
// order the store committed them. Stripes are never held with a hub lock.
type Coordinator struct {
	authz     *Authorizer
	store     MessageStore
	profiles  ProfileLookup
	publisher Publisher
	log       *zap.Logger
	metrics   *metrics.Collector
	validate  *validator.Validate

	stripes [orderingStripes]sync.Mutex
}

func NewCoordinator(
	authz *Authorizer,
	store MessageStore,
	profiles ProfileLookup,
	publisher Publisher,
	log *zap.Logger,
	m *metrics.Collector,
) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		authz:     authz,
		store:     store,
		profiles:  profiles,
		publisher: publisher,
		log:       log,
		metrics:   m,
		validate:  validator.New(),
	}
}

// Send validates, authorizes, persists and publishes one message. The
// returned message is the same value handed to the publisher.
func (co *Coordinator) Send(ctx context.Context, req SendRequest) (*Message, error) {
	w := &write{req: req, state: stateValidating}
	defer func() {
		if w.unlock != nil {
			w.unlock()
		}
	}()

	for w.state != stateDone {
		next, err := co.step(ctx, w)
		if err != nil {
			co.metrics.Write(Code(err))
			co.log.Debug("message write rejected",
				zap.String("state", w.state.String()),
				zap.String("conversation", req.Conversation.String()),
				zap.Int64("sender_id", req.SenderID),
				zap.Error(err))
			return nil, err
		}
		w.state = next
	}

	co.metrics.Write("stored")
	return w.stored, nil
}

func (co *Coordinator) step(ctx context.Context, w *write) (writeState, error) {
	switch w.state {
	case stateValidating:
		if err := co.validate.Struct(w.req); err != nil {
			return w.state, newError(ErrInvalidInput, "invalid message", err)
		}
		if strings.TrimSpace(w.req.Body) == "" {
			return w.state, newError(ErrInvalidInput, "message body is empty", nil)
		}
		if !w.req.Conversation.Valid() {
			return w.state, newError(ErrInvalidInput, "invalid conversation reference", nil)
		}
		return stateAuthorizing, nil

	case stateAuthorizing:
		access, err := co.authz.Authorize(ctx, w.req.SenderID, w.req.Conversation)
		if err != nil {
			return w.state, err
		}
		w.access = access
		return statePersisting, nil

	case statePersisting:
		// From here on the write completes even if the caller goes away.
		ctx = context.WithoutCancel(ctx)
		w.unlock = co.lockConversation(w.access.Conversation)

		start := time.Now()
		stored, err := co.store.SaveMessage(ctx, NewMessage{
			Conversation: w.access.Conversation,
			SenderID:     w.req.SenderID,
			ReceiverID:   w.access.ReceiverID,
			Body:         w.req.Body,
		})
		co.metrics.ObservePersist(time.Since(start))
		if err != nil {
			co.log.Error("message store failed",
				zap.String("conversation", w.access.Conversation.String()),
				zap.Error(err))
			return w.state, newError(ErrStoreFailed, "message could not be stored", err)
		}
		w.stored = stored
		return statePublishing, nil

	case statePublishing:
		ctx = context.WithoutCancel(ctx)
		co.decorate(ctx, w.stored)
		if err := co.publisher.Publish(ctx, w.stored.Conversation, w.stored); err != nil {
			co.metrics.Drop("publish_failed")
			co.log.Warn("publish failed",
				zap.String("conversation", w.stored.Conversation.String()),
				zap.Int64("message_id", w.stored.ID),
				zap.Error(err))
		}
		w.unlock()
		w.unlock = nil
		return stateDone, nil
	}
	return stateDone, nil
}

func (co *Coordinator) lockConversation(ref ConversationRef) func() {
	mu := &co.stripes[xxhash.Sum64String(ref.String())%orderingStripes]
	mu.Lock()
	return mu.Unlock
}

// decorate resolves sender and receiver display fields from current user
// data. A lookup failure falls back to defaults; the message is already
// stored.
func (co *Coordinator) decorate(ctx context.Context, msg *Message) {
	ids := []int64{msg.SenderID}
	if msg.ReceiverID != 0 {
		ids = append(ids, msg.ReceiverID)
	}

	var profiles map[int64]Profile
	if co.profiles != nil {
		var err error
		profiles, err = co.profiles.Profiles(ctx, ids...)
		if err != nil {
			co.log.Warn("profile lookup failed", zap.Int64("message_id", msg.ID), zap.Error(err))
		}
	}

	sender := profiles[msg.SenderID]
	msg.SenderUsername = orDefault(sender.Username, UnknownUsername)
	msg.SenderAvatar = orDefault(sender.AvatarURL, DefaultAvatar)
	if msg.ReceiverID != 0 {
		receiver := profiles[msg.ReceiverID]
		msg.ReceiverUsername = orDefault(receiver.Username, UnknownUsername)
		msg.ReceiverAvatar = orDefault(receiver.AvatarURL, DefaultAvatar)
	}
}

// History returns the messages of ref after re-checking access.
func (co *Coordinator) History(ctx context.Context, userID int64, ref ConversationRef, limit int) ([]*Message, error) {
	if _, err := co.authz.Authorize(ctx, userID, ref); err != nil {
		return nil, err
	}
	msgs, err := co.store.History(ctx, ref, limit)
	if err != nil {
		return nil, newError(ErrStoreFailed, "history could not be read", err)
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return msgs, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
