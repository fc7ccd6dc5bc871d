package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketJobs = []byte("jobs")
var bucketDeliveries = []byte("deliveries")
var bucketCooldowns = []byte("cooldowns")

// Job is one queued review request, keyed by delivery id for dedup.
type Job struct {
	ID           string    `json:"id"`
	RepoFullName string    `json:"repo_full_name"`
	PRNumber     int       `json:"pr_number"`
	PRURL        string    `json:"pr_url"`
	CommentID    int64     `json:"comment_id"`
	Sender       string    `json:"sender"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Store is a bbolt-backed job queue with delivery-id dedup and a per-repo/PR
// cooldown, mirroring original_source/github_pat/db.py's JobStore.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if needed) a bbolt database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("webhook: open job store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketJobs, bucketDeliveries, bucketCooldowns} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("webhook: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnqueueJob records job under deliveryID if not already seen, and if the
// repo/PR pair is outside its cooldown window. Returns ok=false when the
// delivery is a dedup or the cooldown has not elapsed — the caller should
// treat that as "ignored", not an error.
func (s *Store) EnqueueJob(deliveryID string, job Job, cooldown time.Duration) (ok bool, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		deliveries := tx.Bucket(bucketDeliveries)
		if deliveries.Get([]byte(deliveryID)) != nil {
			ok = false
			return nil
		}

		cooldowns := tx.Bucket(bucketCooldowns)
		cooldownKey := []byte(fmt.Sprintf("%s#%d", job.RepoFullName, job.PRNumber))
		if raw := cooldowns.Get(cooldownKey); raw != nil {
			var last time.Time
			if err := json.Unmarshal(raw, &last); err == nil && time.Since(last) < cooldown {
				ok = false
				return nil
			}
		}

		jobs := tx.Bucket(bucketJobs)
		job.EnqueuedAt = time.Now()
		b, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := jobs.Put([]byte(job.ID), b); err != nil {
			return err
		}
		if err := deliveries.Put([]byte(deliveryID), []byte("1")); err != nil {
			return err
		}
		lastB, err := json.Marshal(job.EnqueuedAt)
		if err != nil {
			return err
		}
		ok = true
		return cooldowns.Put(cooldownKey, lastB)
	})
	return ok, err
}

// Get fetches a job by id.
func (s *Store) Get(id string) (Job, bool, error) {
	var job Job
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketJobs).Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &job)
	})
	return job, found, err
}
