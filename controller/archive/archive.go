// Package archive keeps finished sessions in a bbolt database so they can
// be listed and exported after the controller has moved on.
package archive

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/whispernet/whispernet/controller/channel"
	"github.com/whispernet/whispernet/controller/session"
	"github.com/whispernet/whispernet/controller/telemetry"
)

var (
	ErrNotFound = errors.New("Session not found")
	ErrClosed   = errors.New("Archive is closed")
)

var sessionBucket = []byte("sessions")

// Record is the stored form of a session in a terminal state
type Record struct {
	ID           string           `msgpack:"id"`
	State        session.State    `msgpack:"state"`
	Start        int64            `msgpack:"start"`
	ShortDelay   uint64           `msgpack:"short_delay"`
	LongDelay    uint64           `msgpack:"long_delay"`
	Text         string           `msgpack:"text"`
	Bits         string           `msgpack:"bits"`
	Packets      []channel.Packet `msgpack:"packets"`
	Stats        telemetry.Stats  `msgpack:"stats"`
	TimingErrors int              `msgpack:"timing_errors"`
}

// Summary is what List returns for each record
type Summary struct {
	ID      string
	State   session.State
	Start   int64
	Text    string
	Packets int
}

func FromSnapshot(snap session.Snapshot, shortDelay, longDelay uint64) Record {
	return Record{
		ID:           snap.ID,
		State:        snap.State,
		Start:        snap.Start,
		ShortDelay:   shortDelay,
		LongDelay:    longDelay,
		Text:         snap.Frame.Text,
		Bits:         snap.Bits,
		Packets:      snap.Packets,
		Stats:        snap.Stats,
		TimingErrors: snap.TimingErrors,
	}
}

// The start time of the record, for writing captures
func (r Record) StartTime() time.Time {
	return time.UnixMilli(r.Start)
}

type Store struct {
	db *bolt.DB
}

// Open creates the database file if needed
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores r, replacing any record with the same ID
func (s *Store) Put(r Record) error {
	if r.ID == "" {
		return errors.New("Record has no ID")
	}
	data, err := msgpack.Marshal(&r)
	if err != nil {
		return err
	}
	return s.update(func(b *bolt.Bucket) error {
		return b.Put([]byte(r.ID), data)
	})
}

func (s *Store) Get(id string) (Record, error) {
	var r Record
	err := s.view(func(b *bolt.Bucket) error {
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return msgpack.Unmarshal(data, &r)
	})
	return r, err
}

func (s *Store) Delete(id string) error {
	return s.update(func(b *bolt.Bucket) error {
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// List returns every record, oldest first
func (s *Store) List() ([]Summary, error) {
	var list []Summary
	err := s.view(func(b *bolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			var r Record
			if err := msgpack.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("record %s: %w", k, err)
			}
			list = append(list, Summary{
				ID:      r.ID,
				State:   r.State,
				Start:   r.Start,
				Text:    r.Text,
				Packets: len(r.Packets),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Start != list[j].Start {
			return list[i].Start < list[j].Start
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *Store) update(fn func(b *bolt.Bucket) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(sessionBucket))
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func (s *Store) view(fn func(b *bolt.Bucket) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(sessionBucket))
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
