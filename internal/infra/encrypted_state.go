package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	stateDBName = "state.db"
)

// EncryptedStateStore implements domain.LocalStateStore using a SQLCipher
// encrypted SQLite database: the linked child context, the device id and the
// running agent's heartbeat.
type EncryptedStateStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewEncryptedStateStore opens (or creates) the encrypted state database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStateStore(dataDir string, key []byte) (*EncryptedStateStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	keyHex := hex.EncodeToString(key)

	// Open with SQLCipher key as DSN parameter
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key passes Ping and fails in createTables
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &EncryptedStateStore{
		db:     db,
		dbPath: dbPath,
		now:    time.Now,
	}

	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the schema if it doesn't exist.
func (s *EncryptedStateStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS link (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		child_id TEXT NOT NULL,
		family_id TEXT NOT NULL,
		parent_id TEXT DEFAULT '',
		linked_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pid INTEGER NOT NULL,
		session_id TEXT DEFAULT '',
		api_address TEXT DEFAULT '',
		last_heartbeat INTEGER NOT NULL,
		app_version TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LoadLink returns the linked child context. A stored context that no longer
// validates counts as not linked.
func (s *EncryptedStateStore) LoadLink() (*domain.LinkedDevice, error) {
	var ec domain.EnforcementContext
	var linkedAt int64
	err := s.db.QueryRow(`SELECT child_id, family_id, parent_id, linked_at FROM link WHERE id = 1`).
		Scan(&ec.ChildID, &ec.FamilyID, &ec.ParentID, &linkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotLinked
	}
	if err != nil {
		return nil, err
	}

	ec = ec.Normalize()
	if ec.Validate() != nil {
		return nil, domain.ErrNotLinked
	}

	deviceID, err := s.DeviceID()
	if err != nil {
		return nil, err
	}
	return &domain.LinkedDevice{
		DeviceID: deviceID,
		Context:  ec,
		LinkedAt: time.Unix(linkedAt, 0),
	}, nil
}

// SaveLink persists the child context, replacing any earlier link.
func (s *EncryptedStateStore) SaveLink(ec domain.EnforcementContext) (*domain.LinkedDevice, error) {
	ec = ec.Normalize()
	if err := ec.Validate(); err != nil {
		return nil, err
	}

	deviceID, err := s.DeviceID()
	if err != nil {
		return nil, err
	}

	linkedAt := s.now().Unix()
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO link (id, child_id, family_id, parent_id, linked_at)
		VALUES (1, ?, ?, ?, ?)`,
		ec.ChildID, ec.FamilyID, ec.ParentID, linkedAt,
	)
	if err != nil {
		return nil, err
	}

	return &domain.LinkedDevice{
		DeviceID: deviceID,
		Context:  ec,
		LinkedAt: time.Unix(linkedAt, 0),
	}, nil
}

// ClearLink forgets the child context. The device id survives.
func (s *EncryptedStateStore) ClearLink() error {
	_, err := s.db.Exec(`DELETE FROM link`)
	return err
}

// DeviceID returns the stable device id, generating one on first use.
func (s *EncryptedStateStore) DeviceID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'device_id'`).Scan(&id)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id = uuid.NewString()
	// INSERT OR IGNORE keeps the first id if two callers race.
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('device_id', ?)`, id); err != nil {
		return "", err
	}
	err = s.db.QueryRow(`SELECT value FROM meta WHERE key = 'device_id'`).Scan(&id)
	return id, err
}

// SaveAgentState records the running agent for the status command.
func (s *EncryptedStateStore) SaveAgentState(state domain.AgentState) error {
	heartbeat := state.LastHeartbeat
	if heartbeat.IsZero() {
		heartbeat = s.now()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO agent_state (id, pid, session_id, api_address, last_heartbeat, app_version)
		VALUES (1, ?, ?, ?, ?, ?)`,
		state.PID, state.SessionID, state.APIAddress, heartbeat.Unix(), state.AppVersion,
	)
	return err
}

// LoadAgentState returns the last recorded agent, or domain.ErrNotFound.
func (s *EncryptedStateStore) LoadAgentState() (*domain.AgentState, error) {
	var state domain.AgentState
	var heartbeat int64
	err := s.db.QueryRow(`SELECT pid, session_id, api_address, last_heartbeat, app_version FROM agent_state WHERE id = 1`).
		Scan(&state.PID, &state.SessionID, &state.APIAddress, &heartbeat, &state.AppVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	state.LastHeartbeat = time.Unix(heartbeat, 0)
	return &state, nil
}

// ClearAgentState removes the agent record on clean shutdown.
func (s *EncryptedStateStore) ClearAgentState() error {
	_, err := s.db.Exec(`DELETE FROM agent_state`)
	return err
}

// Path returns the database file path.
func (s *EncryptedStateStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedStateStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure EncryptedStateStore implements domain.LocalStateStore.
var _ domain.LocalStateStore = (*EncryptedStateStore)(nil)
