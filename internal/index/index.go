package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/patch-hub/patch-hub/internal/cache"
	"github.com/patch-hub/patch-hub/internal/logging"
)

// NotFound 是源站确认资源不存在时记录的哨兵值。
const NotFound = "not_found"

const recordExt = ".json"

var (
	// ErrVerifiedEntry 表示试图用 not_found 或空值覆盖已校验的摘要。
	ErrVerifiedEntry = errors.New("index: entry already verified")
	// ErrInvalidScope 表示 scope 名称无法映射为记录文件。
	ErrInvalidScope = errors.New("index: invalid scope name")
)

// Record 是某个 scope 的 URL → 摘要快照。
type Record map[string]string

// Match 描述一次跨 scope 查找命中。
type Match struct {
	Scope string
	URL   string
	Value string
}

// Verified 表示命中的是摘要而非 not_found。
func (m Match) Verified() bool {
	return m.Value != "" && m.Value != NotFound
}

type scope struct {
	name string
	path string

	mu      sync.RWMutex
	entries map[string]string
	byNorm  map[string][]string
}

// Index 管理目录下所有 scope 记录，各 scope 独立加锁。
type Index struct {
	dir    string
	prefix string
	logger *logrus.Logger

	mu         sync.RWMutex
	scopes     map[string]*scope
	order      []string
	discovered []string

	loads singleflight.Group
}

// Open 创建目录（若不存在）并登记已有的 *.json 记录，记录内容在首次使用时加载。
func Open(dir, originPrefix string, logger *logrus.Logger) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan index dir: %w", err)
	}

	idx := &Index{
		dir:    dir,
		prefix: strings.TrimSuffix(originPrefix, "/"),
		logger: logging.OrDiscard(logger),
		scopes: make(map[string]*scope),
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		idx.discovered = append(idx.discovered, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(idx.discovered)
	return idx, nil
}

// Normalize 使用本索引的源站前缀归一化 URL。
func (idx *Index) Normalize(remoteURL string) string {
	return Normalize(idx.prefix, remoteURL)
}

// Load 返回 scope 的记录副本；文件缺失或损坏时返回空记录。
func (idx *Index) Load(name string) Record {
	s := idx.scope(name)
	if s == nil {
		return Record{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Record, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Get 返回 scope 中 remoteURL 的记录值。
func (idx *Index) Get(name, remoteURL string) (string, bool) {
	s := idx.scope(name)
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[remoteURL]
	return value, ok
}

// LookupAcross 返回第一个归一化路径相同的记录。
func (idx *Index) LookupAcross(remoteURL string) (Match, bool) {
	matches := idx.Matches(remoteURL)
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}

// Matches 按 scope 加载顺序返回所有归一化路径相同的记录，磁盘上尚未加载的 scope 会先加载。
func (idx *Index) Matches(remoteURL string) []Match {
	idx.loadDiscovered()
	key := idx.Normalize(remoteURL)

	idx.mu.RLock()
	ordered := make([]*scope, 0, len(idx.order))
	for _, name := range idx.order {
		ordered = append(ordered, idx.scopes[name])
	}
	idx.mu.RUnlock()

	var matches []Match
	for _, s := range ordered {
		s.mu.RLock()
		for _, u := range s.byNorm[key] {
			matches = append(matches, Match{Scope: s.name, URL: u, Value: s.entries[u]})
		}
		s.mu.RUnlock()
	}
	return matches
}

// Set 写入记录并立即持久化整个 scope。
// 已校验的摘要只能被另一个摘要覆盖，不会被清空或降级为 not_found。
func (idx *Index) Set(ctx context.Context, name, remoteURL, value string) error {
	if !validScopeName(name) {
		return ErrInvalidScope
	}
	s := idx.scope(name)
	value = strings.TrimSpace(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.entries[remoteURL]
	if existed && prev != NotFound && prev != "" && (value == "" || value == NotFound) {
		return ErrVerifiedEntry
	}
	if value == "" {
		return fmt.Errorf("index: empty value for %s", remoteURL)
	}
	if existed && prev == value {
		return nil
	}

	s.entries[remoteURL] = value
	if !existed {
		key := idx.Normalize(remoteURL)
		s.byNorm[key] = append(s.byNorm[key], remoteURL)
	}

	if err := idx.persist(ctx, s); err != nil {
		if existed {
			s.entries[remoteURL] = prev
		} else {
			delete(s.entries, remoteURL)
			key := idx.Normalize(remoteURL)
			list := s.byNorm[key]
			s.byNorm[key] = list[:len(list)-1]
		}
		idx.logger.WithFields(logrus.Fields{
			"action": "index",
			"scope":  name,
			"path":   s.path,
		}).WithError(err).Error("index_persist_failed")
		return err
	}
	return nil
}

// Scopes 返回已加载与磁盘上已知的 scope 名称。
func (idx *Index) Scopes() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	seen := make(map[string]struct{}, len(idx.order)+len(idx.discovered))
	var names []string
	for _, list := range [][]string{idx.order, idx.discovered} {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

func (idx *Index) loadDiscovered() {
	idx.mu.RLock()
	pending := make([]string, 0, len(idx.discovered))
	for _, name := range idx.discovered {
		if _, ok := idx.scopes[name]; !ok {
			pending = append(pending, name)
		}
	}
	idx.mu.RUnlock()
	for _, name := range pending {
		idx.scope(name)
	}
}

// scope 返回已加载的 scope；并发的首次加载通过 singleflight 合并为一次磁盘读取。
func (idx *Index) scope(name string) *scope {
	if !validScopeName(name) {
		return nil
	}
	idx.mu.RLock()
	s, ok := idx.scopes[name]
	idx.mu.RUnlock()
	if ok {
		return s
	}

	v, _, _ := idx.loads.Do(name, func() (interface{}, error) {
		idx.mu.RLock()
		existing, ok := idx.scopes[name]
		idx.mu.RUnlock()
		if ok {
			return existing, nil
		}

		loaded := idx.readScope(name)

		idx.mu.Lock()
		defer idx.mu.Unlock()
		if existing, ok := idx.scopes[name]; ok {
			return existing, nil
		}
		idx.scopes[name] = loaded
		idx.order = append(idx.order, name)
		return loaded, nil
	})
	return v.(*scope)
}

func (idx *Index) readScope(name string) *scope {
	s := &scope{
		name:    name,
		path:    filepath.Join(idx.dir, name+recordExt),
		entries: make(map[string]string),
		byNorm:  make(map[string][]string),
	}
	fields := logrus.Fields{"action": "index", "scope": name, "path": s.path}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			idx.logger.WithFields(fields).WithError(err).Warn("index_read_failed")
		}
		return s
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		idx.logger.WithFields(fields).WithError(err).Warn("index_corrupt_reset")
		return s
	}

	urls := make([]string, 0, len(raw))
	for u := range raw {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	for _, u := range urls {
		s.entries[u] = raw[u]
		key := idx.Normalize(u)
		s.byNorm[key] = append(s.byNorm[key], u)
	}
	idx.logger.WithFields(fields).WithField("entries", len(s.entries)).Debug("index_loaded")
	return s
}

// persist 需在持有 s.mu 写锁时调用。
func (idx *Index) persist(ctx context.Context, s *scope) error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	_, err = cache.WriteFileAtomic(ctx, s.path, bytes.NewReader(data))
	return err
}

func validScopeName(name string) bool {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}
