package fix

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// FileStore — four files per session
// -------------------------------------------------------------------------

// seqNumsWidth is the fixed zero-padded width of each number in the
// .seqnums file, so the file can be rewritten in place.
const seqNumsWidth = 10

// FileStore is the file-backed MessageStore. Four files share a session stem
// <path>/<BeginString>-<SenderCompID>-<TargetCompID>[-<Qualifier>]:
//
//	.body     raw stream of serialized messages
//	.header   CSV lines "seqnum,offset,len"
//	.seqnums  "SENDER : TARGET", fixed-width padded, rewritten in place
//	.session  creation UTC timestamp, YYYYMMDD-HH:MM:SS
//
// Every mutation is flushed before returning so a crash never loses
// acknowledged state.
type FileStore struct {
	mu sync.Mutex

	cache   *MemoryStore
	offsets map[int][2]int64 // seqnum -> (offset, len) into the body file

	bodyName    string
	headerName  string
	seqNumsName string
	sessionName string

	bodyFile   *os.File
	headerFile *os.File
}

// FileStoreFactory creates FileStores rooted at a directory.
type FileStoreFactory struct {
	Path string
}

// Create implements MessageStoreFactory.
func (f FileStoreFactory) Create(sessionID SessionID) (MessageStore, error) {
	return OpenFileStore(f.Path, sessionID)
}

// OpenFileStore opens (or creates) the four store files for the session and
// loads persisted state into the cache.
func OpenFileStore(path string, sessionID SessionID) (*FileStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w: %v", path, ErrStoreIO, err)
	}
	stem := filepath.Join(path, sessionID.String())
	s := &FileStore{
		cache:       NewMemoryStore(),
		offsets:     make(map[int][2]int64),
		bodyName:    stem + ".body",
		headerName:  stem + ".header",
		seqNumsName: stem + ".seqnums",
		sessionName: stem + ".session",
	}
	if err := s.open(false); err != nil {
		return nil, err
	}
	return s, nil
}

// open opens the body and header files, optionally truncating all four
// files first, then reloads the cache from disk.
func (s *FileStore) open(truncate bool) error {
	s.closeFiles()

	if truncate {
		for _, name := range []string{s.bodyName, s.headerName, s.seqNumsName, s.sessionName} {
			if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("truncate %s: %w: %v", name, ErrStoreIO, err)
			}
		}
	}

	var err error
	if s.bodyFile, err = os.OpenFile(s.bodyName, os.O_CREATE|os.O_RDWR, 0o644); err != nil {
		return fmt.Errorf("open %s: %w: %v", s.bodyName, ErrStoreIO, err)
	}
	if s.headerFile, err = os.OpenFile(s.headerName, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644); err != nil {
		return fmt.Errorf("open %s: %w: %v", s.headerName, ErrStoreIO, err)
	}

	if err := s.populateCache(); err != nil {
		return err
	}
	if err := s.writeSeqNums(); err != nil {
		return err
	}
	return s.writeSessionTime()
}

// populateCache loads the header index, sequence numbers, and creation time
// from disk into the in-memory cache.
func (s *FileStore) populateCache() error {
	s.offsets = make(map[int][2]int64)
	s.cache = NewMemoryStore()

	if err := s.loadHeader(); err != nil {
		return err
	}
	if err := s.loadSeqNums(); err != nil {
		return err
	}
	return s.loadSessionTime()
}

// loadHeader parses the CSV index file into the offsets map.
func (s *FileStore) loadHeader() error {
	f, err := os.Open(s.headerName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w: %v", s.headerName, ErrStoreIO, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Split(strings.TrimSpace(scanner.Text()), ",")
		if len(parts) != 3 {
			continue
		}
		seqNum, err1 := strconv.Atoi(parts[0])
		offset, err2 := strconv.ParseInt(parts[1], 10, 64)
		length, err3 := strconv.ParseInt(parts[2], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return fmt.Errorf("corrupt header line %q: %w", scanner.Text(), ErrStoreIO)
		}
		s.offsets[seqNum] = [2]int64{offset, length}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w: %v", s.headerName, ErrStoreIO, err)
	}
	return nil
}

// loadSeqNums reads the "SENDER : TARGET" file if it exists.
func (s *FileStore) loadSeqNums() error {
	data, err := os.ReadFile(s.seqNumsName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w: %v", s.seqNumsName, ErrStoreIO, err)
	}
	parts := strings.Split(string(data), ":")
	if len(parts) != 2 {
		return fmt.Errorf("corrupt seqnums file %q: %w", data, ErrStoreIO)
	}
	sender, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	target, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return fmt.Errorf("corrupt seqnums file %q: %w", data, ErrStoreIO)
	}
	_ = s.cache.SetNextSenderMsgSeqNum(sender)
	_ = s.cache.SetNextTargetMsgSeqNum(target)
	return nil
}

// loadSessionTime reads the persisted creation timestamp if present.
func (s *FileStore) loadSessionTime() error {
	data, err := os.ReadFile(s.sessionName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w: %v", s.sessionName, ErrStoreIO, err)
	}
	t, err := ParseUTCTimestamp(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("corrupt session file %q: %w", data, ErrStoreIO)
	}
	s.cache.mu.Lock()
	s.cache.creationTime = t
	s.cache.mu.Unlock()
	return nil
}

// writeSeqNums rewrites the fixed-width seqnums file and flushes it.
func (s *FileStore) writeSeqNums() error {
	sender, _ := s.cache.NextSenderMsgSeqNum()
	target, _ := s.cache.NextTargetMsgSeqNum()
	line := fmt.Sprintf("%0*d : %0*d", seqNumsWidth, sender, seqNumsWidth, target)

	f, err := os.OpenFile(s.seqNumsName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w: %v", s.seqNumsName, ErrStoreIO, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write %s: %w: %v", s.seqNumsName, ErrStoreIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w: %v", s.seqNumsName, ErrStoreIO, err)
	}
	return nil
}

// writeSessionTime persists the creation timestamp if the file is absent.
func (s *FileStore) writeSessionTime() error {
	if _, err := os.Stat(s.sessionName); err == nil {
		return nil
	}
	created, _ := s.cache.CreationTime()
	data := FormatUTCTimestamp(created, false)
	if err := os.WriteFile(s.sessionName, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write %s: %w: %v", s.sessionName, ErrStoreIO, err)
	}
	return nil
}

// Set implements MessageStore: append to the body file, record the offset
// in the header index, flush both.
func (s *FileStore) Set(seqNum int, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.offsets[seqNum]; exists {
		return fmt.Errorf("seqnum %d: %w", seqNum, ErrDuplicateSeqNum)
	}

	offset, err := s.bodyFile.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek body: %w: %v", ErrStoreIO, err)
	}
	if _, err := s.bodyFile.Write(raw); err != nil {
		return fmt.Errorf("write body: %w: %v", ErrStoreIO, err)
	}
	if err := s.bodyFile.Sync(); err != nil {
		return fmt.Errorf("sync body: %w: %v", ErrStoreIO, err)
	}

	line := fmt.Sprintf("%d,%d,%d\n", seqNum, offset, len(raw))
	if _, err := s.headerFile.WriteString(line); err != nil {
		return fmt.Errorf("write header: %w: %v", ErrStoreIO, err)
	}
	if err := s.headerFile.Sync(); err != nil {
		return fmt.Errorf("sync header: %w: %v", ErrStoreIO, err)
	}

	s.offsets[seqNum] = [2]int64{offset, int64(len(raw))}
	return nil
}

// Get implements MessageStore: read each stored message in [begin, end]
// from the body file by its recorded offset.
func (s *FileStore) Get(begin, end int) (map[int][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int][]byte)
	for n := begin; n <= end; n++ {
		loc, ok := s.offsets[n]
		if !ok {
			continue
		}
		buf := make([]byte, loc[1])
		if _, err := s.bodyFile.ReadAt(buf, loc[0]); err != nil {
			return nil, fmt.Errorf("read body seqnum %d: %w: %v", n, ErrStoreIO, err)
		}
		out[n] = buf
	}
	return out, nil
}

// NextSenderMsgSeqNum implements MessageStore.
func (s *FileStore) NextSenderMsgSeqNum() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.NextSenderMsgSeqNum()
}

// NextTargetMsgSeqNum implements MessageStore.
func (s *FileStore) NextTargetMsgSeqNum() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.NextTargetMsgSeqNum()
}

// SetNextSenderMsgSeqNum implements MessageStore.
func (s *FileStore) SetNextSenderMsgSeqNum(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.SetNextSenderMsgSeqNum(n); err != nil {
		return err
	}
	return s.writeSeqNums()
}

// SetNextTargetMsgSeqNum implements MessageStore.
func (s *FileStore) SetNextTargetMsgSeqNum(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.SetNextTargetMsgSeqNum(n); err != nil {
		return err
	}
	return s.writeSeqNums()
}

// IncrNextSenderMsgSeqNum implements MessageStore.
func (s *FileStore) IncrNextSenderMsgSeqNum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.IncrNextSenderMsgSeqNum(); err != nil {
		return err
	}
	return s.writeSeqNums()
}

// IncrNextTargetMsgSeqNum implements MessageStore.
func (s *FileStore) IncrNextTargetMsgSeqNum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.IncrNextTargetMsgSeqNum(); err != nil {
		return err
	}
	return s.writeSeqNums()
}

// CreationTime implements MessageStore.
func (s *FileStore) CreationTime() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.CreationTime()
}

// Reset implements MessageStore: truncate all four files and restart both
// sequence numbers at 1 with a fresh creation time.
func (s *FileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Reset(); err != nil {
		return err
	}
	return s.open(true)
}

// Refresh implements MessageStore: drop cached state and reload from disk.
func (s *FileStore) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open(false)
}

// Close implements MessageStore.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFiles()
	return nil
}

// closeFiles closes the body and header handles if open.
func (s *FileStore) closeFiles() {
	if s.bodyFile != nil {
		_ = s.bodyFile.Close()
		s.bodyFile = nil
	}
	if s.headerFile != nil {
		_ = s.headerFile.Close()
		s.headerFile = nil
	}
}
