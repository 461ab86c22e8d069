package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository is the Postgres implementation of MessageStore, Directory and
// ProfileLookup, plus the conversation bootstrap queries.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) SaveMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	stored := &Message{
		Conversation: msg.Conversation,
		SenderID:     msg.SenderID,
		ReceiverID:   msg.ReceiverID,
		Body:         msg.Body,
	}

	var row *sql.Row
	switch msg.Conversation.Kind {
	case KindPrivate:
		row = r.db.QueryRowContext(ctx, `
			INSERT INTO private_messages (chat_id, sender_id, receiver_id, content)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at`,
			msg.Conversation.ID, msg.SenderID, msg.ReceiverID, msg.Body)
	case KindGroup:
		row = r.db.QueryRowContext(ctx, `
			INSERT INTO group_messages (group_id, sender_id, content)
			VALUES ($1, $2, $3)
			RETURNING id, created_at`,
			msg.Conversation.ID, msg.SenderID, msg.Body)
	default:
		return nil, fmt.Errorf("unknown conversation kind %q", msg.Conversation.Kind)
	}

	if err := row.Scan(&stored.ID, &stored.CreatedAt); err != nil {
		return nil, err
	}
	return stored, nil
}

// History returns the latest limit messages of ref in ascending creation
// order, with display fields joined from users.
func (r *Repository) History(ctx context.Context, ref ConversationRef, limit int) ([]*Message, error) {
	var query string
	switch ref.Kind {
	case KindPrivate:
		query = `
			SELECT * FROM (
				SELECT m.id, m.sender_id, m.receiver_id, m.content, m.created_at,
				       COALESCE(s.username, ''), COALESCE(s.avatar_url, ''),
				       COALESCE(rc.username, ''), COALESCE(rc.avatar_url, '')
				FROM private_messages m
				LEFT JOIN users s ON m.sender_id = s.id
				LEFT JOIN users rc ON m.receiver_id = rc.id
				WHERE m.chat_id = $1
				ORDER BY m.created_at DESC, m.id DESC
				LIMIT $2
			) latest
			ORDER BY created_at ASC, id ASC`
	case KindGroup:
		query = `
			SELECT * FROM (
				SELECT m.id, m.sender_id, 0::int, m.content, m.created_at,
				       COALESCE(s.username, ''), COALESCE(s.avatar_url, ''),
				       '', ''
				FROM group_messages m
				LEFT JOIN users s ON m.sender_id = s.id
				WHERE m.group_id = $1
				ORDER BY m.created_at DESC, m.id DESC
				LIMIT $2
			) latest
			ORDER BY created_at ASC, id ASC`
	default:
		return nil, fmt.Errorf("unknown conversation kind %q", ref.Kind)
	}

	rows, err := r.db.QueryContext(ctx, query, ref.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{Conversation: ref}
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.CreatedAt,
			&msg.SenderUsername, &msg.SenderAvatar, &msg.ReceiverUsername, &msg.ReceiverAvatar); err != nil {
			return nil, err
		}
		msg.SenderUsername = orDefault(msg.SenderUsername, UnknownUsername)
		msg.SenderAvatar = orDefault(msg.SenderAvatar, DefaultAvatar)
		if msg.ReceiverID != 0 {
			msg.ReceiverUsername = orDefault(msg.ReceiverUsername, UnknownUsername)
			msg.ReceiverAvatar = orDefault(msg.ReceiverAvatar, DefaultAvatar)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *Repository) PrivateChat(ctx context.Context, chatID int64) (*PrivateChat, error) {
	pc := &PrivateChat{ID: chatID}
	var user1, user2 sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT user1_id, user2_id, created_at FROM private_chats WHERE id = $1`, chatID).
		Scan(&user1, &user2, &pc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pc.User1ID, pc.User2ID = user1.Int64, user2.Int64
	return pc, nil
}

func (r *Repository) GroupMembership(ctx context.Context, groupID, userID int64) (Membership, error) {
	var m Membership
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1),
		       EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&m.GroupExists, &m.Member)
	return m, err
}

func (r *Repository) Profiles(ctx context.Context, userIDs ...int64) (map[int64]Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, COALESCE(avatar_url, '') FROM users WHERE id = ANY($1)`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make(map[int64]Profile, len(userIDs))
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.AvatarURL); err != nil {
			return nil, err
		}
		profiles[p.ID] = p
	}
	return profiles, rows.Err()
}

// FindOrCreatePrivateChat returns the chat between a and b, creating it if
// the unordered pair has none yet.
func (r *Repository) FindOrCreatePrivateChat(ctx context.Context, a, b int64) (*PrivateChat, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO private_chats (user1_id, user2_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, a, b); err != nil {
		return nil, err
	}

	pc := &PrivateChat{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, created_at FROM private_chats
		WHERE LEAST(user1_id, user2_id) = LEAST($1::int, $2::int)
		  AND GREATEST(user1_id, user2_id) = GREATEST($1::int, $2::int)`, a, b).
		Scan(&pc.ID, &pc.User1ID, &pc.User2ID, &pc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// CreateGroup inserts the group and its members in one transaction.
func (r *Repository) CreateGroup(ctx context.Context, g *Group) (*Group, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (name, description, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`, g.Name, g.Description, g.CreatedBy).
		Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id)
		SELECT $1, u.id FROM users u WHERE u.id = ANY($2)
		ON CONFLICT DO NOTHING`, g.ID, g.Members); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return g, nil
}

// PrivateChats lists the chats of userID, most recently active first.
func (r *Repository) PrivateChats(ctx context.Context, userID int64) ([]PrivateChatSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id,
		       o.id, o.username, COALESCE(o.avatar_url, ''),
		       last.content, last.created_at
		FROM private_chats c
		JOIN users o ON o.id = CASE WHEN c.user1_id = $1 THEN c.user2_id ELSE c.user1_id END
		LEFT JOIN LATERAL (
			SELECT m.content, m.created_at FROM private_messages m
			WHERE m.chat_id = c.id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		) last ON true
		WHERE c.user1_id = $1 OR c.user2_id = $1
		ORDER BY COALESCE(last.created_at, c.created_at) DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []PrivateChatSummary{}
	for rows.Next() {
		var s PrivateChatSummary
		var last sql.NullString
		var lastAt sql.NullTime
		if err := rows.Scan(&s.ChatID, &s.OtherUserID, &s.OtherUsername, &s.OtherAvatar, &last, &lastAt); err != nil {
			return nil, err
		}
		s.OtherAvatar = orDefault(s.OtherAvatar, DefaultAvatar)
		if last.Valid {
			s.LastMessage = &last.String
		}
		if lastAt.Valid {
			s.LastMessageTime = &lastAt.Time
		}
		chats = append(chats, s)
	}
	return chats, rows.Err()
}

// Groups lists the groups userID belongs to, newest first.
func (r *Repository) Groups(ctx context.Context, userID int64) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.description, COALESCE(g.created_by, 0), g.created_at
		FROM group_members gm
		JOIN groups g ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY g.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []Group{}
	for rows.Next() {
		var g Group
		var desc sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &desc, &g.CreatedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			g.Description = &desc.String
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
