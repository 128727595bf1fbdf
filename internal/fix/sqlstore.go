package fix

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -------------------------------------------------------------------------
// SQLStore — gorm/sqlite MessageStore backend
// -------------------------------------------------------------------------

// storedMessage is one persisted outbound message.
type storedMessage struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex:idx_session_seq;size:255"`
	SeqNum    int    `gorm:"uniqueIndex:idx_session_seq"`
	Raw       []byte
}

// TableName keeps the table name stable across gorm naming strategies.
func (storedMessage) TableName() string { return "fix_messages" }

// storedSession holds the per-session counters and creation time.
type storedSession struct {
	SessionID    string `gorm:"primaryKey;size:255"`
	SenderSeqNum int
	TargetSeqNum int
	CreationTime time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (storedSession) TableName() string { return "fix_sessions" }

// SQLStoreFactory creates SQLStores sharing one sqlite database file. The
// database handle is opened lazily on the first session and reused.
type SQLStoreFactory struct {
	DSN string

	mu sync.Mutex
	db *gorm.DB
}

// NewSQLStoreFactory creates a factory for the given sqlite DSN.
func NewSQLStoreFactory(dsn string) *SQLStoreFactory {
	return &SQLStoreFactory{DSN: dsn}
}

// Create implements MessageStoreFactory.
func (f *SQLStoreFactory) Create(sessionID SessionID) (MessageStore, error) {
	db, err := f.openDB()
	if err != nil {
		return nil, err
	}
	return openSQLStore(db, sessionID)
}

// openDB opens the shared database handle and migrates the schema once.
func (f *SQLStoreFactory) openDB() (*gorm.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db != nil {
		return f.db, nil
	}
	db, err := gorm.Open(sqlite.Open(f.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w: %v", f.DSN, ErrStoreIO, err)
	}
	if err := db.AutoMigrate(&storedMessage{}, &storedSession{}); err != nil {
		return nil, fmt.Errorf("migrate store schema: %w: %v", ErrStoreIO, err)
	}
	f.db = db
	return db, nil
}

// SQLStore is the SQL-backed MessageStore. Sequence numbers are cached in
// memory and written through on every mutation, mirroring the file backend.
type SQLStore struct {
	mu        sync.Mutex
	db        *gorm.DB
	sessionID string
	cache     *MemoryStore
}

// openSQLStore loads or creates the session row and returns the store.
func openSQLStore(db *gorm.DB, sessionID SessionID) (*SQLStore, error) {
	s := &SQLStore{
		db:        db,
		sessionID: sessionID.String(),
		cache:     NewMemoryStore(),
	}
	if err := s.loadOrCreateRow(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadOrCreateRow reads the persisted counters, inserting the initial row
// on first open.
func (s *SQLStore) loadOrCreateRow() error {
	var row storedSession
	err := s.db.First(&row, "session_id = ?", s.sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = storedSession{
			SessionID:    s.sessionID,
			SenderSeqNum: 1,
			TargetSeqNum: 1,
			CreationTime: time.Now().UTC(),
		}
		if err := s.db.Create(&row).Error; err != nil {
			return fmt.Errorf("create session row: %w: %v", ErrStoreIO, err)
		}
	} else if err != nil {
		return fmt.Errorf("load session row: %w: %v", ErrStoreIO, err)
	}

	_ = s.cache.SetNextSenderMsgSeqNum(row.SenderSeqNum)
	_ = s.cache.SetNextTargetMsgSeqNum(row.TargetSeqNum)
	s.cache.mu.Lock()
	s.cache.creationTime = row.CreationTime
	s.cache.mu.Unlock()
	return nil
}

// saveSeqNums writes the cached counters through to the session row.
func (s *SQLStore) saveSeqNums() error {
	sender, _ := s.cache.NextSenderMsgSeqNum()
	target, _ := s.cache.NextTargetMsgSeqNum()
	err := s.db.Model(&storedSession{}).
		Where("session_id = ?", s.sessionID).
		Updates(map[string]any{
			"sender_seq_num": sender,
			"target_seq_num": target,
		}).Error
	if err != nil {
		return fmt.Errorf("update seqnums: %w: %v", ErrStoreIO, err)
	}
	return nil
}

// Set implements MessageStore.
func (s *SQLStore) Set(seqNum int, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(raw))
	copy(cp, raw)
	err := s.db.Create(&storedMessage{
		SessionID: s.sessionID,
		SeqNum:    seqNum,
		Raw:       cp,
	}).Error
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("seqnum %d: %w", seqNum, ErrDuplicateSeqNum)
		}
		return fmt.Errorf("store seqnum %d: %w: %v", seqNum, ErrStoreIO, err)
	}
	return nil
}

// Get implements MessageStore.
func (s *SQLStore) Get(begin, end int) (map[int][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []storedMessage
	err := s.db.
		Where("session_id = ? AND seq_num BETWEEN ? AND ?", s.sessionID, begin, end).
		Order("seq_num").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load range [%d,%d]: %w: %v", begin, end, ErrStoreIO, err)
	}
	out := make(map[int][]byte, len(rows))
	for _, row := range rows {
		out[row.SeqNum] = row.Raw
	}
	return out, nil
}

// NextSenderMsgSeqNum implements MessageStore.
func (s *SQLStore) NextSenderMsgSeqNum() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.NextSenderMsgSeqNum()
}

// NextTargetMsgSeqNum implements MessageStore.
func (s *SQLStore) NextTargetMsgSeqNum() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.NextTargetMsgSeqNum()
}

// SetNextSenderMsgSeqNum implements MessageStore.
func (s *SQLStore) SetNextSenderMsgSeqNum(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.SetNextSenderMsgSeqNum(n); err != nil {
		return err
	}
	return s.saveSeqNums()
}

// SetNextTargetMsgSeqNum implements MessageStore.
func (s *SQLStore) SetNextTargetMsgSeqNum(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.SetNextTargetMsgSeqNum(n); err != nil {
		return err
	}
	return s.saveSeqNums()
}

// IncrNextSenderMsgSeqNum implements MessageStore.
func (s *SQLStore) IncrNextSenderMsgSeqNum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.IncrNextSenderMsgSeqNum(); err != nil {
		return err
	}
	return s.saveSeqNums()
}

// IncrNextTargetMsgSeqNum implements MessageStore.
func (s *SQLStore) IncrNextTargetMsgSeqNum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.IncrNextTargetMsgSeqNum(); err != nil {
		return err
	}
	return s.saveSeqNums()
}

// CreationTime implements MessageStore.
func (s *SQLStore) CreationTime() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.CreationTime()
}

// Reset implements MessageStore: delete the message rows, reset the session
// row, and restart the cache.
func (s *SQLStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Delete(&storedMessage{}, "session_id = ?", s.sessionID).Error; err != nil {
		return fmt.Errorf("reset messages: %w: %v", ErrStoreIO, err)
	}
	if err := s.cache.Reset(); err != nil {
		return err
	}
	created, _ := s.cache.CreationTime()
	err := s.db.Model(&storedSession{}).
		Where("session_id = ?", s.sessionID).
		Updates(map[string]any{
			"sender_seq_num": 1,
			"target_seq_num": 1,
			"creation_time":  created,
		}).Error
	if err != nil {
		return fmt.Errorf("reset session row: %w: %v", ErrStoreIO, err)
	}
	return nil
}

// Refresh implements MessageStore: reload counters from the database.
func (s *SQLStore) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOrCreateRow()
}

// Close implements MessageStore. The database handle is shared by the
// factory, so individual stores do not close it.
func (s *SQLStore) Close() error { return nil }
