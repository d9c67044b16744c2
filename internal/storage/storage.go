package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrReportNotFound reports a lookup by an internal report id that does not
// exist in the guild's sequence.
var ErrReportNotFound = errors.New("storage: report not found")

// Bucket names for the keyed JSON documents.
var (
	bucketReports        = []byte("reports")
	bucketReportCounters = []byte("report_counters")
	bucketWarnings       = []byte("warnings")
	bucketThreads        = []byte("threads")
	bucketThreadChannels = []byte("thread_channels")
	bucketMutes          = []byte("mutes")
)

// Store is the durable document store: per-guild report and warning
// sequences, the thread registry, thread-eligible channels and mute records,
// all JSON-encoded under stable keys.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketReports,
			bucketReportCounters,
			bucketWarnings,
			bucketThreads,
			bucketThreadChannels,
			bucketMutes,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AppendReport assigns the next internal id for the guild and appends the
// report to its sequence. It returns the stored report and its 1-based
// position, which is the user-facing report number.
func (s *Store) AppendReport(ctx context.Context, report Report) (Report, int, error) {
	_ = ctx
	var position int
	err := s.db.Update(func(tx *bolt.Tx) error {
		counters := tx.Bucket(bucketReportCounters)
		next := readCounter(counters.Get([]byte(report.GuildID))) + 1
		if err := counters.Put([]byte(report.GuildID), writeCounter(next)); err != nil {
			return err
		}
		report.ID = next

		reports, err := readReports(tx, report.GuildID)
		if err != nil {
			return err
		}
		reports = append(reports, report)
		position = len(reports)
		return putReports(tx, report.GuildID, reports)
	})
	if err != nil {
		return Report{}, 0, err
	}
	return report, position, nil
}

func (s *Store) ListReports(ctx context.Context, guildID string) ([]Report, error) {
	_ = ctx
	var reports []Report
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		reports, err = readReports(tx, guildID)
		return err
	})
	return reports, err
}

// UpdateReport applies update to the report with the given internal id inside
// one write transaction. It returns ErrReportNotFound when no such report
// exists.
func (s *Store) UpdateReport(ctx context.Context, guildID string, reportID int64, update func(*Report) error) (Report, error) {
	_ = ctx
	var updated Report
	err := s.db.Update(func(tx *bolt.Tx) error {
		reports, err := readReports(tx, guildID)
		if err != nil {
			return err
		}
		for i := range reports {
			if reports[i].ID != reportID {
				continue
			}
			if err := update(&reports[i]); err != nil {
				return err
			}
			updated = reports[i]
			return putReports(tx, guildID, reports)
		}
		return ErrReportNotFound
	})
	return updated, err
}

// AppendWarning records a warning for (guild, user) and returns the user's
// total warning count.
func (s *Store) AppendWarning(ctx context.Context, guildID, userID string, warning Warning) (int, error) {
	_ = ctx
	var count int
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketWarnings)
		byUser := make(map[string][]Warning)
		if data := bucket.Get([]byte(guildID)); data != nil {
			if err := json.Unmarshal(data, &byUser); err != nil {
				return fmt.Errorf("decode warnings for guild %s: %w", guildID, err)
			}
		}
		byUser[userID] = append(byUser[userID], warning)
		count = len(byUser[userID])

		data, err := json.Marshal(byUser)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(guildID), data)
	})
	return count, err
}

func (s *Store) ListWarnings(ctx context.Context, guildID, userID string) ([]Warning, error) {
	_ = ctx
	var warnings []Warning
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWarnings).Get([]byte(guildID))
		if data == nil {
			return nil
		}
		byUser := make(map[string][]Warning)
		if err := json.Unmarshal(data, &byUser); err != nil {
			return fmt.Errorf("decode warnings for guild %s: %w", guildID, err)
		}
		warnings = byUser[userID]
		return nil
	})
	return warnings, err
}

func (s *Store) PutThread(ctx context.Context, record ThreadRecord) error {
	_ = ctx
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketThreads), record.ID, record)
	})
}

// PutThreads persists a batch of thread records in one write transaction.
func (s *Store) PutThreads(ctx context.Context, records []ThreadRecord) error {
	_ = ctx
	if len(records) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketThreads)
		for _, record := range records {
			if err := putJSON(bucket, record.ID, record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetThread(ctx context.Context, threadID string) (ThreadRecord, bool, error) {
	_ = ctx
	var record ThreadRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketThreads).Get([]byte(threadID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("decode thread %s: %w", threadID, err)
		}
		found = true
		return nil
	})
	return record, found, err
}

func (s *Store) ListThreads(ctx context.Context) ([]ThreadRecord, error) {
	_ = ctx
	var records []ThreadRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketThreads).ForEach(func(_, data []byte) error {
			var record ThreadRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

// AddThreadChannel marks a channel as eligible for managed threads. It
// reports whether the channel was newly added.
func (s *Store) AddThreadChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	_ = ctx
	added := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketThreadChannels)
		channels, err := readStringList(bucket, guildID)
		if err != nil {
			return err
		}
		for _, id := range channels {
			if id == channelID {
				return nil
			}
		}
		channels = append(channels, channelID)
		added = true
		return putJSON(bucket, guildID, channels)
	})
	return added, err
}

func (s *Store) RemoveThreadChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	_ = ctx
	removed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketThreadChannels)
		channels, err := readStringList(bucket, guildID)
		if err != nil {
			return err
		}
		kept := channels[:0]
		for _, id := range channels {
			if id == channelID {
				removed = true
				continue
			}
			kept = append(kept, id)
		}
		if !removed {
			return nil
		}
		if len(kept) == 0 {
			return bucket.Delete([]byte(guildID))
		}
		return putJSON(bucket, guildID, kept)
	})
	return removed, err
}

func (s *Store) ListThreadChannels(ctx context.Context, guildID string) ([]string, error) {
	_ = ctx
	var channels []string
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		channels, err = readStringList(tx.Bucket(bucketThreadChannels), guildID)
		return err
	})
	return channels, err
}

func (s *Store) PutMute(ctx context.Context, record MuteRecord) error {
	_ = ctx
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketMutes), record.ID, record)
	})
}

func (s *Store) PutMutes(ctx context.Context, records []MuteRecord) error {
	_ = ctx
	if len(records) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMutes)
		for _, record := range records {
			if err := putJSON(bucket, record.ID, record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetMute(ctx context.Context, guildID, userID string) (MuteRecord, bool, error) {
	_ = ctx
	var record MuteRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMutes).Get([]byte(MuteKey(guildID, userID)))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("decode mute %s: %w", MuteKey(guildID, userID), err)
		}
		found = true
		return nil
	})
	return record, found, err
}

func (s *Store) ListMutes(ctx context.Context) ([]MuteRecord, error) {
	_ = ctx
	var records []MuteRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMutes).ForEach(func(_, data []byte) error {
			var record MuteRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

func readReports(tx *bolt.Tx, guildID string) ([]Report, error) {
	data := tx.Bucket(bucketReports).Get([]byte(guildID))
	if data == nil {
		return nil, nil
	}
	var reports []Report
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("decode reports for guild %s: %w", guildID, err)
	}
	return reports, nil
}

func putReports(tx *bolt.Tx, guildID string, reports []Report) error {
	return putJSON(tx.Bucket(bucketReports), guildID, reports)
}

func putJSON(bucket *bolt.Bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(key), data)
}

func readStringList(bucket *bolt.Bucket, key string) ([]string, error) {
	data := bucket.Get([]byte(key))
	if data == nil {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode list %s: %w", key, err)
	}
	return list, nil
}

func readCounter(data []byte) int64 {
	if len(data) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(data))
}

func writeCounter(value int64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(value))
	return data
}
