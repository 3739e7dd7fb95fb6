// Package catalog 记录已加载模型的元数据, 以文件指纹为键
package catalog

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/getcharzp/go-voiceconv"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const keyPrefix = "model/"

// ErrNotFound 指纹不存在
var ErrNotFound = errors.New("catalog: 未找到记录")

// Entry 模型元数据
type Entry struct {
	Fingerprint string    `msgpack:"fingerprint"`
	Name        string    `msgpack:"name"`
	Version     string    `msgpack:"version"`
	PitchGuided bool      `msgpack:"f0"`
	SampleRate  int       `msgpack:"sr"`
	Speakers    int       `msgpack:"speakers"`
	Info        string    `msgpack:"info,omitempty"`
	HasIndex    bool      `msgpack:"has_index"`
	Loads       int       `msgpack:"loads"`
	LastLoaded  time.Time `msgpack:"last_loaded"`
}

// Options 打开参数
type Options struct {
	Dir      string // 数据目录, InMemory 为 false 时必填
	InMemory bool   // 仅内存, 用于测试
}

// Catalog badger 存储的模型目录
type Catalog struct {
	db *badger.DB
}

// Open 打开或创建目录
func Open(opts Options) (*Catalog, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "catalog 目录不能为空")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{voiceconv.Component("catalog").Sugar()})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{voiceconv.Component("catalog").Sugar()})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("打开 catalog 失败: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close 关闭目录
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record 写入一次加载记录, 已存在时累加加载次数
func (c *Catalog) Record(e Entry) (Entry, error) {
	if e.Fingerprint == "" {
		return Entry{}, voiceconv.Errorf(voiceconv.ErrInvalidParameter, "缺少模型指纹")
	}
	key := []byte(keyPrefix + e.Fingerprint)
	err := c.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get(key); err == nil {
			var prev Entry
			if err := item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &prev) }); err != nil {
				return err
			}
			e.Loads = prev.Loads
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		e.Loads++
		if e.LastLoaded.IsZero() {
			e.LastLoaded = time.Now().UTC()
		}
		val, err := msgpack.Marshal(&e)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("写入 catalog 失败: %w", err)
	}
	return e, nil
}

// Get 按指纹读取
func (c *Catalog) Get(fingerprint string) (Entry, error) {
	var e Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + fingerprint))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &e) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List 返回全部记录, 按名称排序
func (c *Catalog) List() ([]Entry, error) {
	var entries []Entry
	prefix := []byte(keyPrefix)
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error { return msgpack.Unmarshal(val, &e) }); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Fingerprint < entries[j].Fingerprint
	})
	return entries, nil
}

// Fingerprint 计算 blake2b-256 指纹
func Fingerprint(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("计算指纹失败: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintFile 计算文件指纹
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("无法读取文件: %w", err)
	}
	defer f.Close()
	return Fingerprint(f)
}

// badgerLogger 把 badger 日志转到 zap, 丢弃 info 与 debug
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...any)   { l.s.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...any) { l.s.Warnf(f, v...) }
func (badgerLogger) Infof(string, ...any)          {}
func (badgerLogger) Debugf(string, ...any)         {}
