// MySQL database adapter.
package mysql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	ms "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/uniconnect/chat/server/store"
	t "github.com/uniconnect/chat/server/store/types"
)

// adapter holds MySQL connection data.
type adapter struct {
	db     *sqlx.DB
	dbName string
}

const (
	defaultDSN      = "root:@tcp(localhost:3306)/uniconnect?parseTime=true"
	defaultDatabase = "uniconnect"

	adapterName = "mysql"
)

type configType struct {
	DSN    string `json:"dsn,omitempty"`
	DBName string `json:"database,omitempty"`
}

// Open initializes the MySQL connection pool.
func (a *adapter) Open(jsonconfig string) error {
	if a.db != nil {
		return errors.New("mysql adapter is already connected")
	}

	var err error
	var config configType

	if jsonconfig != "" {
		if err = json.Unmarshal([]byte(jsonconfig), &config); err != nil {
			return errors.New("mysql adapter failed to parse config: " + err.Error())
		}
	}

	dsn := config.DSN
	if dsn == "" {
		dsn = defaultDSN
	}

	a.dbName = config.DBName
	if a.dbName == "" {
		a.dbName = defaultDatabase
	}

	a.db, err = sqlx.Open("mysql", dsn)
	if err != nil {
		return err
	}

	// sqlx.Open does not open the network connection.
	// Force network connection here.
	return a.db.Ping()
}

// Close closes the underlying database connection.
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
	}
	return err
}

// IsOpen returns true if the connection to the database is ready for use.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

// CreateDb creates the schema. If reset is true it drops the tables first.
func (a *adapter) CreateDb(reset bool) error {
	if reset {
		for _, stmt := range []string{
			"DROP TABLE IF EXISTS messages",
			"DROP TABLE IF EXISTS conversation_participants",
			"DROP TABLE IF EXISTS conversations",
			"DROP TABLE IF EXISTS users",
		} {
			if _, err := a.db.Exec(stmt); err != nil {
				return err
			}
		}
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS users(
			id       CHAR(36) NOT NULL,
			username VARCHAR(64) NOT NULL,
			email    VARCHAR(255) NOT NULL,
			role     VARCHAR(16) NOT NULL,
			PRIMARY KEY(id),
			UNIQUE KEY users_email(email)
		)`,
		// pair_key is the canonical unordered participant pair of a direct
		// conversation. The unique index on it is the storage-level backstop
		// for concurrent find-or-create calls. NULL for group conversations.
		`CREATE TABLE IF NOT EXISTS conversations(
			id         CHAR(36) NOT NULL,
			is_group   TINYINT(1) NOT NULL DEFAULT 0,
			title      VARCHAR(255) NOT NULL DEFAULT '',
			pair_key   CHAR(73),
			created_at DATETIME(3) NOT NULL,
			PRIMARY KEY(id),
			UNIQUE KEY conversations_pair_key(pair_key),
			KEY conversations_created_at(created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_participants(
			conversation_id CHAR(36) NOT NULL,
			user_id         CHAR(36) NOT NULL,
			PRIMARY KEY(conversation_id, user_id),
			KEY participants_user(user_id),
			FOREIGN KEY(conversation_id) REFERENCES conversations(id),
			FOREIGN KEY(user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages(
			id              CHAR(36) NOT NULL,
			conversation_id CHAR(36) NOT NULL,
			sender_id       CHAR(36) NOT NULL,
			type            VARCHAR(16) NOT NULL,
			content         TEXT NOT NULL,
			attachment_url  VARCHAR(1024) NOT NULL DEFAULT '',
			status          VARCHAR(16) NOT NULL,
			sent_at         DATETIME(3) NOT NULL,
			PRIMARY KEY(id),
			KEY messages_conversation_time(conversation_id, sent_at DESC),
			FOREIGN KEY(conversation_id) REFERENCES conversations(id),
			FOREIGN KEY(sender_id) REFERENCES users(id)
		)`,
	} {
		if _, err := a.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UserCreate persists a new account record.
func (a *adapter) UserCreate(user *t.User) error {
	_, err := a.db.Exec("INSERT INTO users(id,username,email,role) VALUES(?,?,?,?)",
		user.Id.String(), user.Username, user.Email, string(user.Role))
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// UserGet loads a single user by id.
func (a *adapter) UserGet(id uuid.UUID) (*t.User, error) {
	var user t.User
	err := a.db.Get(&user, "SELECT id,username,email,role FROM users WHERE id=?", id.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UserGetByEmail loads a single user by email.
func (a *adapter) UserGetByEmail(email string) (*t.User, error) {
	var user t.User
	err := a.db.Get(&user, "SELECT id,username,email,role FROM users WHERE email=?", email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// conversationRow is the conversations table row without participants.
type conversationRow struct {
	Id        uuid.UUID `db:"id"`
	IsGroup   bool      `db:"is_group"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *conversationRow) conversation() *t.Conversation {
	return &t.Conversation{
		Id:        r.Id,
		IsGroup:   r.IsGroup,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
	}
}

// loadParticipants resolves the participant set of a conversation.
func (a *adapter) loadParticipants(conv *t.Conversation) error {
	var users []t.User
	err := a.db.Select(&users,
		"SELECT u.id,u.username,u.email,u.role FROM users u "+
			"JOIN conversation_participants cp ON cp.user_id=u.id "+
			"WHERE cp.conversation_id=?", conv.Id.String())
	if err != nil {
		return err
	}
	conv.Participants = users
	return nil
}

// ConversationGet loads a conversation with participants resolved.
func (a *adapter) ConversationGet(id uuid.UUID) (*t.Conversation, error) {
	var row conversationRow
	err := a.db.Get(&row,
		"SELECT id,is_group,title,created_at FROM conversations WHERE id=?", id.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conv := row.conversation()
	if err = a.loadParticipants(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ConversationGetP2P loads the direct conversation of an unordered user pair.
func (a *adapter) ConversationGetP2P(u1, u2 uuid.UUID) (*t.Conversation, error) {
	var row conversationRow
	err := a.db.Get(&row,
		"SELECT id,is_group,title,created_at FROM conversations WHERE pair_key=?", t.PairKey(u1, u2))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conv := row.conversation()
	if err = a.loadParticipants(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ConversationCreateP2P inserts a direct conversation and its two
// participants in one transaction. A duplicate-key violation on pair_key
// means a concurrent insert won the race: the insert is rolled back and the
// existing conversation is returned with created=false.
func (a *adapter) ConversationCreateP2P(conv *t.Conversation) (*t.Conversation, bool, error) {
	if len(conv.Participants) != 2 {
		return nil, false, t.ErrMalformed
	}
	pairKey := t.PairKey(conv.Participants[0].Id, conv.Participants[1].Id)

	tx, err := a.db.Beginx()
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("INSERT INTO conversations(id,is_group,title,pair_key,created_at) VALUES(?,?,?,?,?)",
		conv.Id.String(), conv.IsGroup, conv.Title, pairKey, conv.CreatedAt)
	if isDupe(err) {
		tx.Rollback()
		err = nil
		existing, exErr := a.ConversationGetP2P(conv.Participants[0].Id, conv.Participants[1].Id)
		if exErr != nil {
			return nil, false, exErr
		}
		if existing == nil {
			// The winner disappeared between the insert and the re-query.
			return nil, false, t.ErrInternal
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	for _, p := range conv.Participants {
		if _, err = tx.Exec("INSERT INTO conversation_participants(conversation_id,user_id) VALUES(?,?)",
			conv.Id.String(), p.Id.String()); err != nil {
			return nil, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// ConversationsForUser loads all conversations of a user, newest first.
func (a *adapter) ConversationsForUser(uid uuid.UUID) ([]t.Conversation, error) {
	var rows []conversationRow
	err := a.db.Select(&rows,
		"SELECT c.id,c.is_group,c.title,c.created_at FROM conversations c "+
			"JOIN conversation_participants cp ON cp.conversation_id=c.id "+
			"WHERE cp.user_id=? ORDER BY c.created_at DESC, c.id DESC", uid.String())
	if err != nil {
		return nil, err
	}

	var result []t.Conversation
	for i := range rows {
		conv := rows[i].conversation()
		if err = a.loadParticipants(conv); err != nil {
			return nil, err
		}
		result = append(result, *conv)
	}
	return result, nil
}

// ConversationHasParticipant is a point membership query: a single EXISTS
// against the junction table, no participant collection load.
func (a *adapter) ConversationHasParticipant(conv, user uuid.UUID) (bool, error) {
	var exists bool
	err := a.db.Get(&exists,
		"SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id=? AND user_id=?)",
		conv.String(), user.String())
	return exists, err
}

// MessageSave persists a new message.
func (a *adapter) MessageSave(msg *t.Message) error {
	_, err := a.db.Exec(
		"INSERT INTO messages(id,conversation_id,sender_id,type,content,attachment_url,status,sent_at) "+
			"VALUES(?,?,?,?,?,?,?,?)",
		msg.Id.String(), msg.ConversationId.String(), msg.SenderId.String(),
		string(msg.Type), msg.Content, msg.AttachmentUrl, string(msg.Status), msg.SentAt)
	return err
}

// MessageGetAll loads a page of conversation messages, send time descending.
func (a *adapter) MessageGetAll(conv uuid.UUID, page, size int) ([]t.Message, error) {
	var msgs []t.Message
	err := a.db.Select(&msgs,
		"SELECT id,conversation_id,sender_id,type,content,attachment_url,status,sent_at "+
			"FROM messages WHERE conversation_id=? ORDER BY sent_at DESC, id DESC LIMIT ? OFFSET ?",
		conv.String(), size, page*size)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Check if the error is MySQL Error Code: 1062. Duplicate entry ... for key ...
func isDupe(err error) bool {
	if err == nil {
		return false
	}
	var myerr *ms.MySQLError
	return errors.As(err, &myerr) && myerr.Number == 1062
}

func init() {
	store.RegisterAdapter(&adapter{})
}
