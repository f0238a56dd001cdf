package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/quotewing/quotewing/models"
	bolt "go.etcd.io/bbolt"
)

var (
	historyBucket   = []byte("history")
	runsBucket      = []byte("runs")
	artifactsBucket = []byte("artifacts")
	cookiesBucket   = []byte("cookies")
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

type BoltDB struct {
	db *bolt.DB
}

func NewBoltDB(dbPath string) (*BoltDB, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w (directory: %s)", dbPath, err, dir)
	}

	// 创建必要的bucket
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{historyBucket, runsBucket, artifactsBucket, cookiesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) put(bucket []byte, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (b *BoltDB) get(bucket []byte, key string, dest any) error {
	return b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "%s/%s", bucket, key)
		}
		return json.Unmarshal(data, dest)
	})
}

// ============= 防重复历史 =============

// SaveHistory 按语录库保存历史
func (b *BoltDB) SaveHistory(history *models.History) error {
	history.UpdatedAt = time.Now()
	return b.put(historyBucket, history.Catalog, history)
}

// GetHistory 获取语录库的历史，不存在时返回空历史
func (b *BoltDB) GetHistory(catalog string) (*models.History, error) {
	history := &models.History{Catalog: catalog}
	err := b.get(historyBucket, catalog, history)
	if errors.Is(err, ErrNotFound) {
		return &models.History{Catalog: catalog, Recent: []int{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return history, nil
}

// ============= 运行记录 =============

// SaveRun 保存运行记录
func (b *BoltDB) SaveRun(run *models.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run record has no id")
	}
	return b.put(runsBucket, run.ID, run)
}

// GetRun 获取单个运行记录
func (b *BoltDB) GetRun(id string) (*models.RunRecord, error) {
	var run models.RunRecord
	if err := b.get(runsBucket, id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns 按开始时间倒序列出运行记录，limit <= 0 表示全部
func (b *BoltDB) ListRuns(limit int) ([]*models.RunRecord, error) {
	var runs []*models.RunRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			var run models.RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// 最新的在前
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ============= 调试快照索引 =============

// artifactKey 按采集时间排序；序号每次进程重启归零，所以不能单独作为 key
func artifactKey(a *models.DebugArtifact) []byte {
	return []byte(fmt.Sprintf("%020d-%010d", a.CapturedAt.UnixNano(), a.Seq))
}

// RecordArtifact 记录一个调试快照
func (b *BoltDB) RecordArtifact(artifact *models.DebugArtifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(artifactsBucket).Put(artifactKey(artifact), data)
	})
}

// ListArtifacts 最新的在前；runID 为空时不过滤
func (b *BoltDB) ListArtifacts(runID string, limit int) ([]*models.DebugArtifact, error) {
	var artifacts []*models.DebugArtifact
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(artifactsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var artifact models.DebugArtifact
			if err := json.Unmarshal(v, &artifact); err != nil {
				return err
			}
			if runID != "" && artifact.RunID != runID {
				continue
			}
			artifacts = append(artifacts, &artifact)
			if limit > 0 && len(artifacts) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

// ============= Cookie =============

// SaveCookies 保存Cookie
func (b *BoltDB) SaveCookies(cookieStore *models.CookieStore) error {
	cookieStore.UpdatedAt = time.Now()
	if cookieStore.CreatedAt.IsZero() {
		cookieStore.CreatedAt = time.Now()
	}

	data, err := cookieStore.ToJSON()
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cookiesBucket).Put([]byte(cookieStore.ID), data)
	})
}

// GetCookies 获取Cookie
func (b *BoltDB) GetCookies(id string) (*models.CookieStore, error) {
	var cookieStore models.CookieStore
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(cookiesBucket).Get([]byte(id))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "cookies %s", id)
		}
		return cookieStore.FromJSON(data)
	})
	if err != nil {
		return nil, err
	}
	return &cookieStore, nil
}

// DeleteCookies 删除Cookie
func (b *BoltDB) DeleteCookies(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cookiesBucket).Delete([]byte(id))
	})
}
