package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"chat-hub/internal/models"
	"chat-hub/pkg/logger"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

// EnsureSchema creates the tables the hub needs if they are missing.
func (db *PostgresDB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// User Repository Implementation

const userColumns = `id, username, email, password_hash, avatar_url, is_online, last_seen, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.AvatarURL, &user.IsOnline, &user.LastSeen, &user.CreatedAt,
	)
	return user, err
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(db.pool.QueryRow(ctx, query, email))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns

	user, err := scanUser(db.pool.QueryRow(ctx, query, req.Username, req.Email, string(hash)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("username or email: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id models.UserID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

func (db *PostgresDB) SearchUsers(ctx context.Context, query string, exclude models.UserID, limit int) ([]*models.User, error) {
	sql := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id <> $1 AND (username ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')
		ORDER BY username
		LIMIT $3`

	rows, err := db.pool.Query(ctx, sql, exclude, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		user.Email = ""
		users = append(users, user)
	}
	return users, rows.Err()
}

// Conversation Repository Implementation

// summaryQuery resolves the display fields of a conversation for viewer $1.
const summaryQuery = `
	SELECT c.id, c.is_group, c.name, c.updated_at,
		(SELECT COUNT(*) FROM conversation_participants cp WHERE cp.conversation_id = c.id),
		other.username, other.avatar_url
	FROM conversations c
	JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = $1
	LEFT JOIN LATERAL (
		SELECT u.username, u.avatar_url
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = c.id AND p.user_id <> $1
		ORDER BY p.joined_at, p.id
		LIMIT 1
	) other ON NOT c.is_group`

func scanSummary(row pgx.Row) (*models.ConversationSummary, error) {
	var (
		s           models.ConversationSummary
		name        *string
		otherName   *string
		otherAvatar *string
	)
	if err := row.Scan(&s.ID, &s.IsGroup, &name, &s.UpdatedAt, &s.ParticipantCount, &otherName, &otherAvatar); err != nil {
		return nil, err
	}

	switch {
	case s.IsGroup:
		s.Name = "Group Chat"
		if name != nil && *name != "" {
			s.Name = *name
		}
	case otherName != nil:
		s.Name = *otherName
		if otherAvatar != nil {
			s.AvatarURL = *otherAvatar
		}
	default:
		s.Name = "Unknown"
	}
	return &s, nil
}

func (db *PostgresDB) ListConversations(ctx context.Context, userID models.UserID) ([]*models.ConversationSummary, error) {
	rows, err := db.pool.Query(ctx, summaryQuery+` ORDER BY c.updated_at DESC, c.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []*models.ConversationSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, s)
	}
	return conversations, rows.Err()
}

func (db *PostgresDB) GetConversationSummary(ctx context.Context, id models.ConversationID, viewer models.UserID) (*models.ConversationSummary, error) {
	s, err := scanSummary(db.pool.QueryRow(ctx, summaryQuery+` WHERE c.id = $2`, viewer, id))
	if err != nil {
		return nil, notFound(err, "conversation")
	}
	return s, nil
}

func (db *PostgresDB) FindDirectConversation(ctx context.Context, a, b models.UserID) (models.ConversationID, bool, error) {
	query := `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE NOT c.is_group AND p.user_id IN ($1, $2)
		GROUP BY c.id
		HAVING COUNT(DISTINCT p.user_id) = 2
		ORDER BY c.id
		LIMIT 1`

	var id models.ConversationID
	err := db.pool.QueryRow(ctx, query, a, b).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (db *PostgresDB) CreateConversation(ctx context.Context, name string, isGroup bool, participants []models.UserID) (models.ConversationID, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var groupName *string
	if isGroup {
		groupName = &name
	}

	var id models.ConversationID
	err = tx.QueryRow(ctx,
		`INSERT INTO conversations (name, is_group) VALUES ($1, $2) RETURNING id`,
		groupName, isGroup,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, userID := range participants {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)
			ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			id, userID,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to add participant %d: %w", userID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (db *PostgresDB) TouchConversation(ctx context.Context, id models.ConversationID, at time.Time) error {
	_, err := db.pool.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, id, at)
	return err
}

// Participant Repository Implementation

func (db *PostgresDB) IsParticipant(ctx context.Context, userID models.UserID, conversationID models.ConversationID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE user_id = $1 AND conversation_id = $2)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, userID, conversationID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) ParticipantsOf(ctx context.Context, userID models.UserID) ([]models.ConversationID, error) {
	rows, err := db.pool.Query(ctx, `SELECT conversation_id FROM conversation_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[models.ConversationID])
}

// Message Repository Implementation

const messageColumns = `m.id, m.conversation_id, m.sender_id, u.username, u.avatar_url, m.content,
	m.message_type, m.file_url, m.file_name, m.file_size, m.created_at, m.edited_at, m.is_deleted`

func scanMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderUsername, &msg.SenderAvatar, &msg.Content,
		&msg.MessageType, &msg.FileURL, &msg.FileName, &msg.FileSize, &msg.CreatedAt, &msg.EditedAt, &msg.IsDeleted,
	)
	return msg, err
}

func (db *PostgresDB) PersistMessage(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	var fileURL, fileName *string
	var fileSize *int64
	if in.File != nil {
		fileURL, fileName, fileSize = &in.File.URL, &in.File.Name, in.File.Size
	}

	query := `
		WITH m AS (
			INSERT INTO messages (conversation_id, sender_id, content, message_type, file_url, file_name, file_size)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING *
		)
		SELECT ` + messageColumns + `
		FROM m JOIN users u ON u.id = m.sender_id`

	msg, err := scanMessage(db.pool.QueryRow(ctx, query,
		in.ConversationID, in.SenderID, in.Content, in.MessageType, fileURL, fileName, fileSize,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

// ListMessages returns one page of a conversation, newest page first with
// the page's items oldest first.
func (db *PostgresDB) ListMessages(ctx context.Context, conversationID models.ConversationID, page, perPage int) (*models.MessagePage, error) {
	if page < 1 {
		page = 1
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1 AND NOT m.is_deleted
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3`

	// One extra row tells whether an older page exists.
	rows, err := db.pool.Query(ctx, query, conversationID, perPage+1, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(messages) > perPage
	if hasMore {
		messages = messages[:perPage]
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return &models.MessagePage{Messages: messages, HasMore: hasMore, Page: page}, nil
}

func (db *PostgresDB) SearchMessages(ctx context.Context, viewer models.UserID, query string, limit int) ([]*models.Message, error) {
	sql := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = $1)
			AND m.content ILIKE '%' || $2 || '%'
			AND NOT m.is_deleted
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3`

	rows, err := db.pool.Query(ctx, sql, viewer, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Presence Repository Implementation

func (db *PostgresDB) SetPresence(ctx context.Context, userID models.UserID, online bool, lastSeen time.Time) error {
	query := `
		UPDATE users
		SET is_online = $2, last_seen = $3
		WHERE id = $1`

	_, err := db.pool.Exec(ctx, query, userID, online, lastSeen)
	return err
}
