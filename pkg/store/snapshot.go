package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Snapshotter persists an opaque state snapshot. Implementations must
// be safe for concurrent use.
type Snapshotter interface {
	// Load retrieves the last saved snapshot.
	// Returns (nil, nil) if nothing has been saved yet.
	Load(ctx context.Context) ([]byte, error)

	// Save persists a snapshot, overwriting any prior one.
	Save(ctx context.Context, data []byte) error
}

// DiskSnapshotter stores the snapshot as a single JSON blob on disk,
// written via a temp file and rename so readers never see a torn write.
type DiskSnapshotter struct {
	Path string
}

// Load implements Snapshotter.
func (d *DiskSnapshotter) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(d.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read snapshot: %w", err)
	}
	return data, nil
}

// Save implements Snapshotter.
func (d *DiskSnapshotter) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(d.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("store: snapshot temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, d.Path); err != nil {
		os.Remove(name)
		return fmt.Errorf("store: replace snapshot: %w", err)
	}
	return nil
}

// Saver watches a store and persists its value as JSON, debounced so a
// rapid burst of updates produces one write. Close flushes any pending
// snapshot before returning.
type Saver[S any] struct {
	store    *Store[S]
	snap     Snapshotter
	debounce time.Duration
	logger   *slog.Logger

	dirty       chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()

	closeOnce sync.Once
}

// NewSaver starts watching st. debounce bounds how often Save runs; a
// zero debounce saves on every change.
func NewSaver[S any](st *Store[S], snap Snapshotter, debounce time.Duration, logger *slog.Logger) *Saver[S] {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Saver[S]{
		store:    st,
		snap:     snap,
		debounce: debounce,
		logger:   logger.With("component", "store.saver"),
		dirty:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.unsubscribe = st.Subscribe(func(S) {
		select {
		case s.dirty <- struct{}{}:
		default:
		}
	})

	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *Saver[S]) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.dirty:
		}

		if s.debounce > 0 {
			timer := time.NewTimer(s.debounce)
			select {
			case <-s.done:
				timer.Stop()
				s.save()
				return
			case <-timer.C:
			}
			// Absorb changes that arrived during the debounce window.
			select {
			case <-s.dirty:
			default:
			}
		}
		s.save()
	}
}

func (s *Saver[S]) save() {
	data, err := json.Marshal(s.store.Get())
	if err != nil {
		s.logger.Error("snapshot encode failed", "error", err)
		return
	}
	if err := s.snap.Save(context.Background(), data); err != nil {
		s.logger.Error("snapshot save failed", "error", err)
	}
}

// Close stops the saver and flushes a final snapshot if one is pending.
func (s *Saver[S]) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.done)
		s.wg.Wait()

		// The loop may have exited between marking dirty and saving.
		select {
		case <-s.dirty:
			s.save()
		default:
		}
	})
}

// Restore loads a snapshot from snap into st. A missing snapshot is not
// an error; the store keeps its initial value.
func Restore[S any](ctx context.Context, st *Store[S], snap Snapshotter) error {
	data, err := snap.Load(ctx)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	var value S
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("store: decode snapshot: %w", err)
	}
	st.Set(value)
	return nil
}
