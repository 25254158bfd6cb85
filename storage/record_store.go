package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-kit/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultFileCapacity = 128 * 1024 * 1024
	defaultMaxOpenFiles = 16
	defaultFilePrefix   = "blk"
)

type RecordStoreOpts struct {
	Dir          string
	FileCapacity uint32
	// MaxOpenFiles 缓存的历史文件句柄数，不含当前写入的文件
	MaxOpenFiles int
	FilePrefix   string
	Logger       log.Logger
}

// RecordStore 在一组 RecordFile 上维护当前文件号，写满时切换到下一个文件
type RecordStore struct {
	RecordStoreOpts

	mu      sync.Mutex
	current *RecordFile
	files   *lru.Cache[uint32, *RecordFile]
}

// OpenRecordStore 打开 Dir 下已有的记录文件，从编号最大的文件继续写入
func OpenRecordStore(opts RecordStoreOpts) (*RecordStore, error) {
	if opts.FileCapacity == 0 {
		opts.FileCapacity = defaultFileCapacity
	}
	if opts.MaxOpenFiles <= 0 {
		opts.MaxOpenFiles = defaultMaxOpenFiles
	}
	if opts.FilePrefix == "" {
		opts.FilePrefix = defaultFilePrefix
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, Unavailable("create record dir", err)
	}

	files, err := lru.NewWithEvict[uint32, *RecordFile](opts.MaxOpenFiles, func(_ uint32, rf *RecordFile) {
		rf.Close()
	})
	if err != nil {
		return nil, err
	}

	s := &RecordStore{
		RecordStoreOpts: opts,
		files:           files,
	}
	last, err := s.lastFileNumber()
	if err != nil {
		return nil, err
	}
	if s.current, err = OpenRecordFile(s.filePath(last), last, opts.FileCapacity); err != nil {
		return nil, err
	}
	s.Logger.Log("msg", "record store opened", "dir", opts.Dir, "file", last, "size", s.current.Size())
	return s, nil
}

func (s *RecordStore) filePath(number uint32) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s%05d.dat", s.FilePrefix, number))
}

func (s *RecordStore) lastFileNumber() (uint32, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return 0, Unavailable("list record dir", err)
	}
	var last uint32
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, s.FilePrefix) || !strings.HasSuffix(name, ".dat") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, s.FilePrefix), ".dat"), 10, 32)
		if err != nil {
			continue
		}
		if uint32(n) > last {
			last = uint32(n)
		}
	}
	return last, nil
}

// CurrentFile 当前写入的文件编号
func (s *RecordStore) CurrentFile() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Number()
}

// Append 写入一条记录，当前文件写满时切换到下一个文件号再写
func (s *RecordStore) Append(data []byte) (RecordLocator, error) {
	if uint64(recordHeaderSize)+uint64(len(data)) > uint64(s.FileCapacity) {
		return RecordLocator{}, fmt.Errorf("%w: %d bytes, capacity %d", ErrRecordTooLarge, len(data), s.FileCapacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loc, err := s.current.Append(data)
	if !errors.Is(err, ErrFileFull) {
		if err == nil {
			recordBytesAppended.Add(float64(len(data)))
		}
		return loc, err
	}

	if err := s.rollover(); err != nil {
		return RecordLocator{}, err
	}
	loc, err = s.current.Append(data)
	if err == nil {
		recordBytesAppended.Add(float64(len(data)))
	}
	return loc, err
}

func (s *RecordStore) rollover() error {
	prev := s.current
	if err := prev.Sync(); err != nil {
		return err
	}
	next, err := OpenRecordFile(s.filePath(prev.Number()+1), prev.Number()+1, s.FileCapacity)
	if err != nil {
		return err
	}
	s.current = next
	// 写满的文件转为只读句柄缓存
	s.files.Add(prev.Number(), prev)
	recordRollovers.Inc()
	s.Logger.Log("msg", "record file rolled over", "full", prev.Number(), "size", prev.Size(), "next", next.Number())
	return nil
}

// Read 读取任意文件中的一条记录
func (s *RecordStore) Read(loc RecordLocator) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loc.File == s.current.Number() {
		return s.current.Read(loc)
	}
	if loc.File > s.current.Number() {
		return nil, Corrupt("locator %s points past current file %d", loc, s.current.Number())
	}

	rf, ok := s.files.Get(loc.File)
	if !ok {
		path := s.filePath(loc.File)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, Corrupt("locator %s: record file missing", loc)
			}
			return nil, Unavailable("stat record file", err)
		}
		var err error
		if rf, err = OpenRecordFile(path, loc.File, s.FileCapacity); err != nil {
			return nil, err
		}
		s.files.Add(loc.File, rf)
	}
	return rf.Read(loc)
}

// Sync 把当前文件刷到磁盘
func (s *RecordStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Sync()
}

func (s *RecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files.Purge()
	if err := s.current.Sync(); err != nil {
		s.current.Close()
		return err
	}
	return s.current.Close()
}
