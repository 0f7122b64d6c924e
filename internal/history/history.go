// Package history persists the narrative record of each game as two parallel
// streams of entries: the verbatim full text and the summarized version used
// to bound prompt size. Streams are split into numbered JSON segments capped
// at a configured byte size. A third, segment-less file holds the
// initialization metadata (location, skills, characters).
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jwebster45206/crash-engine/internal/storage"
	"github.com/jwebster45206/crash-engine/pkg/chat"
	"github.com/jwebster45206/crash-engine/pkg/retry"
)

// Stream selects which history stream an operation touches.
type Stream string

const (
	StreamFullText  Stream = "full_text"
	StreamSummaries Stream = "summaries"
)

const initializationFile = "initialization.json"

// Store reads and writes history segments through a pluggable blob backend.
// All I/O is wrapped in a bounded retry; exhaustion surfaces the error to the
// caller, which must treat it as fatal for the current operation.
type Store struct {
	blob            storage.Blob
	logger          *slog.Logger
	maxSegmentBytes int64
	retries         int
	retryDelay      time.Duration
}

// New creates a history store on top of the given blob backend.
func New(blob storage.Blob, logger *slog.Logger, maxSegmentBytes int64, retries int, retryDelay time.Duration) *Store {
	if maxSegmentBytes <= 0 {
		maxSegmentBytes = 50 * 1024
	}
	return &Store{
		blob:            blob,
		logger:          logger,
		maxSegmentBytes: maxSegmentBytes,
		retries:         retries,
		retryDelay:      retryDelay,
	}
}

func streamDir(gameID uint, stream Stream) string {
	return fmt.Sprintf("%d/%s", gameID, stream)
}

func segmentPath(gameID uint, stream Stream, n int) string {
	return fmt.Sprintf("%d/%s/%d.json", gameID, stream, n)
}

// segments returns the stream's segment numbers in ascending numeric order.
// Lexical order breaks past segment 9, so names are parsed.
func (s *Store) segments(ctx context.Context, gameID uint, stream Stream) ([]int, error) {
	var names []string
	err := retry.Do(ctx, s.retries, s.retryDelay, func() error {
		var err error
		names, err = s.blob.List(ctx, streamDir(gameID, stream))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s segments: %w", stream, err)
	}

	nums := make([]int, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

func (s *Store) readSegment(ctx context.Context, path string) ([]chat.Entry, []byte, error) {
	var raw []byte
	err := retry.Do(ctx, s.retries, s.retryDelay, func() error {
		var err error
		raw, err = s.blob.Read(ctx, path)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var entries []chat.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil, fmt.Errorf("corrupt segment %s: %w", path, err)
	}
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return nil, nil, fmt.Errorf("corrupt segment %s: %w", path, err)
		}
	}
	return entries, raw, nil
}

func (s *Store) writeSegment(ctx context.Context, path string, entries []chat.Entry) error {
	if entries == nil {
		entries = []chat.Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal segment %s: %w", path, err)
	}
	err = retry.Do(ctx, s.retries, s.retryDelay, func() error {
		return s.blob.Write(ctx, path, data)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Append adds one entry to the stream, opening a new segment when the latest
// one has reached the size cap. The new segment then holds only the new entry.
func (s *Store) Append(ctx context.Context, gameID uint, stream Stream, entry chat.Entry) error {
	nums, err := s.segments(ctx, gameID, stream)
	if err != nil {
		return err
	}

	seg := 0
	var entries []chat.Entry
	if len(nums) > 0 {
		latest := nums[len(nums)-1]
		existing, raw, err := s.readSegment(ctx, segmentPath(gameID, stream, latest))
		if err != nil {
			return err
		}
		if int64(len(raw)) >= s.maxSegmentBytes {
			seg = latest + 1
		} else {
			seg = latest
			entries = existing
		}
	}

	entries = append(entries, entry)
	return s.writeSegment(ctx, segmentPath(gameID, stream, seg), entries)
}

// OverwriteLatest replaces the contents of the stream's latest segment.
// Used by rollback and by stripping a stray trailing user entry.
func (s *Store) OverwriteLatest(ctx context.Context, gameID uint, stream Stream, entries []chat.Entry) error {
	nums, err := s.segments(ctx, gameID, stream)
	if err != nil {
		return err
	}
	seg := 0
	if len(nums) > 0 {
		seg = nums[len(nums)-1]
	}
	return s.writeSegment(ctx, segmentPath(gameID, stream, seg), entries)
}

// ReadAll concatenates every segment of the stream in ascending order.
func (s *Store) ReadAll(ctx context.Context, gameID uint, stream Stream) ([]chat.Entry, error) {
	nums, err := s.segments(ctx, gameID, stream)
	if err != nil {
		return nil, err
	}

	var all []chat.Entry
	for _, n := range nums {
		entries, _, err := s.readSegment(ctx, segmentPath(gameID, stream, n))
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// ReadLatestSegment returns only the newest segment's entries, or nil when
// the stream has no segments yet.
func (s *Store) ReadLatestSegment(ctx context.Context, gameID uint, stream Stream) ([]chat.Entry, error) {
	nums, err := s.segments(ctx, gameID, stream)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}
	entries, _, err := s.readSegment(ctx, segmentPath(gameID, stream, nums[len(nums)-1]))
	return entries, err
}

// RemoveTurn drops every entry tagged with the given turn number from the
// latest segment of both streams. A stream with no segments is skipped
// silently; there is nothing to roll back.
func (s *Store) RemoveTurn(ctx context.Context, gameID uint, turn int) error {
	for _, stream := range []Stream{StreamFullText, StreamSummaries} {
		entries, err := s.ReadLatestSegment(ctx, gameID, stream)
		if err != nil {
			return err
		}
		if entries == nil {
			continue
		}

		kept := make([]chat.Entry, 0, len(entries))
		for _, e := range entries {
			if e.Turn != nil && e.Turn.IsNumber() && e.Turn.Number == turn {
				continue
			}
			kept = append(kept, e)
		}

		if err := s.OverwriteLatest(ctx, gameID, stream, kept); err != nil {
			return err
		}
		s.logger.Info("Removed turn from stream",
			"game_id", gameID, "stream", stream, "turn", turn, "removed", len(entries)-len(kept))
	}
	return nil
}

// AppendInitialization appends to the segment-less initialization file.
func (s *Store) AppendInitialization(ctx context.Context, gameID uint, entry chat.Entry) error {
	path := fmt.Sprintf("%d/%s", gameID, initializationFile)

	var exists bool
	err := retry.Do(ctx, s.retries, s.retryDelay, func() error {
		var err error
		exists, err = s.blob.Exists(ctx, path)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	var entries []chat.Entry
	if exists {
		entries, _, err = s.readSegment(ctx, path)
		if err != nil {
			return err
		}
	}
	entries = append(entries, entry)
	return s.writeSegment(ctx, path, entries)
}

// ReadInitialization returns the initialization entries, or nil when the
// game has not persisted any yet.
func (s *Store) ReadInitialization(ctx context.Context, gameID uint) ([]chat.Entry, error) {
	path := fmt.Sprintf("%d/%s", gameID, initializationFile)

	var exists bool
	err := retry.Do(ctx, s.retries, s.retryDelay, func() error {
		var err error
		exists, err = s.blob.Exists(ctx, path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !exists {
		return nil, nil
	}

	entries, _, err := s.readSegment(ctx, path)
	return entries, err
}
