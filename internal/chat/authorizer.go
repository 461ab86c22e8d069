package chat

import (
	"context"
	"errors"
)

// Access is the outcome of a successful authorization.
type Access struct {
	Conversation ConversationRef
	// ReceiverID is the other participant of a private chat, zero for groups.
	ReceiverID int64
}

type Authorizer struct {
	dir Directory
}

func NewAuthorizer(dir Directory) *Authorizer {
	return &Authorizer{dir: dir}
}

// Authorize decides whether userID may read and write ref. It fails with
// ErrNotFound, ErrForbidden, ErrInvalidInput or ErrStoreFailed.
func (a *Authorizer) Authorize(ctx context.Context, userID int64, ref ConversationRef) (Access, error) {
	if !ref.Valid() {
		return Access{}, newError(ErrInvalidInput, "invalid conversation reference", nil)
	}

	switch ref.Kind {
	case KindPrivate:
		pc, err := a.dir.PrivateChat(ctx, ref.ID)
		if errors.Is(err, ErrNotFound) {
			return Access{}, newError(ErrNotFound, "chat does not exist", nil)
		}
		if err != nil {
			return Access{}, newError(ErrStoreFailed, "chat lookup failed", err)
		}
		// A row missing one side is treated as absent.
		if pc == nil || pc.User1ID <= 0 || pc.User2ID <= 0 || pc.User1ID == pc.User2ID {
			return Access{}, newError(ErrNotFound, "chat does not exist", nil)
		}
		if userID != pc.User1ID && userID != pc.User2ID {
			return Access{}, newError(ErrForbidden, "not a participant of this chat", nil)
		}
		return Access{Conversation: ref, ReceiverID: pc.Other(userID)}, nil

	default:
		m, err := a.dir.GroupMembership(ctx, ref.ID, userID)
		if err != nil {
			return Access{}, newError(ErrStoreFailed, "group lookup failed", err)
		}
		if !m.GroupExists {
			return Access{}, newError(ErrNotFound, "group does not exist", nil)
		}
		if !m.Member {
			return Access{}, newError(ErrForbidden, "not a member of this group", nil)
		}
		return Access{Conversation: ref}, nil
	}
}

// CanAccess is Authorize reduced to a boolean. Lookup failures are returned
// as errors; Forbidden and NotFound are a plain false.
func (a *Authorizer) CanAccess(ctx context.Context, userID int64, ref ConversationRef) (bool, error) {
	_, err := a.Authorize(ctx, userID, ref)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
