package playback

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lumen-live/cohost/internal/models"
	"github.com/lumen-live/cohost/internal/util"
)

// Catalog is the music catalog the scheduler pulls tracks from. Lookup
// failures return zero values; the scheduler logs and moves on, never crashes.
type Catalog interface {
	// Search returns the best-matching track id for a keyword, 0 if none.
	Search(ctx context.Context, keyword string) (int64, error)
	// ResolveURL returns a playable URL for a track id, "" if unavailable.
	ResolveURL(ctx context.Context, trackID int64) (string, error)
	// PlaylistTrackIDs lists every track id in a playlist.
	PlaylistTrackIDs(ctx context.Context, playlistID int64) ([]int64, error)
}

// DefaultAmbientQueueMax bounds the ambient lane; on overflow the oldest item
// is dropped, since ambient is a re-shuffled loop rather than a request list.
const DefaultAmbientQueueMax = 50

// Scheduler serializes all music playback. A single worker loop owns the
// player: the on-demand lane pre-empts the ambient lane, ambient items loop
// by re-enqueueing at the tail, and at most one player process ever runs.
type Scheduler struct {
	catalog    Catalog
	player     Player
	poll       time.Duration
	ambientMax int

	mu             sync.Mutex
	onDemand       []models.PlaybackItem
	ambient        []models.PlaybackItem
	ambientEnabled bool
	playlistID     int64
	playing        bool
	current        models.PlaybackOrigin
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval overrides the idle poll interval (used by tests).
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.poll = d }
}

// WithAmbientQueueMax overrides the ambient lane bound.
func WithAmbientQueueMax(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.ambientMax = n
		}
	}
}

// NewScheduler creates a Scheduler playing through player and refilling the
// ambient lane from catalog's playlistID.
func NewScheduler(catalog Catalog, player Player, playlistID int64, opts ...Option) *Scheduler {
	s := &Scheduler{
		catalog:    catalog,
		player:     player,
		poll:       time.Second,
		ambientMax: DefaultAmbientQueueMax,
		playlistID: playlistID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is the worker loop. It returns when ctx is cancelled. Callers run it in
// exactly one goroutine; the loop is the only dequeuer.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("playback.Scheduler: worker started", "poll", s.poll, "ambient_max", s.ambientMax)
	for {
		if ctx.Err() != nil {
			s.player.Stop()
			slog.Info("playback.Scheduler: worker stopped")
			return
		}

		// On-demand always wins. Ambient was already stopped by the enqueue.
		if item, ok := s.popOnDemand(); ok {
			s.playItem(ctx, item)
			if s.onDemandLen() == 0 {
				slog.Debug("playback.Scheduler: on-demand lane drained, ambient may resume")
			}
			continue
		}

		if !s.AmbientEnabled() {
			s.sleep(ctx)
			continue
		}

		if s.ambientLen() == 0 {
			if !s.refillAmbient(ctx) {
				s.sleep(ctx)
			}
			continue
		}

		item := s.popAmbient()
		s.playItem(ctx, item)
		// Loop the lane: back to the tail whether it completed or was paused.
		s.pushAmbient(item)
	}
}

// RequestSong searches the catalog and enqueues the result on the on-demand
// lane. A track that cannot be found or resolved is logged and skipped.
func (s *Scheduler) RequestSong(ctx context.Context, song, artist string) error {
	keyword := strings.TrimSpace(song)
	if artist != "" {
		keyword = keyword + " " + artist
	}
	trackID, err := s.catalog.Search(ctx, keyword)
	if err != nil {
		return err
	}
	if trackID == 0 {
		slog.Warn("playback.Scheduler: no track found", "keyword", keyword)
		return nil
	}
	url, err := s.catalog.ResolveURL(ctx, trackID)
	if err != nil {
		return err
	}
	if url == "" {
		slog.Warn("playback.Scheduler: track not playable", "track_id", trackID)
		return nil
	}
	s.EnqueueOnDemand(url)
	slog.Info("playback.Scheduler: on-demand track queued", "keyword", keyword, "track_id", trackID)
	return nil
}

// EnqueueOnDemand queues a playable URL on the on-demand lane and pauses any
// in-flight ambient playback so the worker picks the request up next.
func (s *Scheduler) EnqueueOnDemand(url string) {
	s.mu.Lock()
	s.onDemand = append(s.onDemand, models.PlaybackItem{URL: url, Origin: models.OriginOnDemand})
	preempt := s.playing && s.current == models.OriginAmbient
	s.mu.Unlock()
	if preempt {
		slog.Debug("playback.Scheduler: pausing ambient for on-demand request")
		s.player.Stop()
	}
}

// StartAmbient enables the ambient lane.
func (s *Scheduler) StartAmbient() {
	s.mu.Lock()
	s.ambientEnabled = true
	s.mu.Unlock()
	slog.Info("playback.Scheduler: ambient enabled")
}

// StopAmbient disables the ambient lane and stops any ambient playback.
func (s *Scheduler) StopAmbient() {
	s.mu.Lock()
	s.ambientEnabled = false
	stop := s.playing && s.current == models.OriginAmbient
	s.mu.Unlock()
	if stop {
		s.player.Stop()
	}
	slog.Info("playback.Scheduler: ambient disabled")
}

// SetAmbientPlaylist switches the ambient lane to a new playlist. The queued
// items of the old playlist are discarded and the lane is enabled so the
// worker refills from the new source.
func (s *Scheduler) SetAmbientPlaylist(id int64) {
	s.mu.Lock()
	s.playlistID = id
	s.ambient = nil
	s.ambientEnabled = true
	stop := s.playing && s.current == models.OriginAmbient
	s.mu.Unlock()
	if stop {
		s.player.Stop()
	}
	slog.Info("playback.Scheduler: ambient playlist switched", "playlist_id", id)
}

// AmbientEnabled reports whether the ambient lane is currently enabled.
func (s *Scheduler) AmbientEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ambientEnabled
}

// QueueDepths returns the current lane depths, for status reporting.
func (s *Scheduler) QueueDepths() (onDemand, ambient int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.onDemand), len(s.ambient)
}

func (s *Scheduler) playItem(ctx context.Context, item models.PlaybackItem) {
	s.mu.Lock()
	// A request that arrived between the ambient dequeue and here saw
	// playing=false and could not pause us; yield the lane instead of
	// holding it for a full track.
	if item.Origin == models.OriginAmbient && len(s.onDemand) > 0 {
		s.mu.Unlock()
		slog.Debug("playback.Scheduler: ambient yields to pending request", "url", item.URL)
		return
	}
	s.playing = true
	s.current = item.Origin
	s.mu.Unlock()

	err := s.player.Play(ctx, item.URL)

	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()

	if err != nil {
		// Track unavailable or process killed abnormally: log and advance.
		slog.Warn("playback.Scheduler: track ended abnormally", "lane", item.Origin.String(), "url", item.URL, "error", err)
	}
}

// refillAmbient fetches and shuffles a fresh track list and enqueues every
// resolvable URL up to the lane bound. Returns false when nothing playable
// was found so the worker backs off for one poll interval.
func (s *Scheduler) refillAmbient(ctx context.Context) bool {
	s.mu.Lock()
	playlistID := s.playlistID
	s.mu.Unlock()

	ids, err := s.catalog.PlaylistTrackIDs(ctx, playlistID)
	if err != nil {
		slog.Warn("playback.Scheduler: playlist fetch failed", "playlist_id", playlistID, "error", err)
		return false
	}
	if len(ids) == 0 {
		slog.Warn("playback.Scheduler: playlist empty", "playlist_id", playlistID)
		return false
	}
	util.Shuffle(ids)

	queued := 0
	for _, id := range ids {
		if queued >= s.ambientMax {
			break
		}
		url, err := s.catalog.ResolveURL(ctx, id)
		if err != nil || url == "" {
			continue
		}
		s.pushAmbient(models.PlaybackItem{URL: url, Origin: models.OriginAmbient})
		queued++
	}
	slog.Info("playback.Scheduler: ambient lane refilled", "playlist_id", playlistID, "queued", queued)
	return queued > 0
}

func (s *Scheduler) popOnDemand() (models.PlaybackItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.onDemand) == 0 {
		return models.PlaybackItem{}, false
	}
	item := s.onDemand[0]
	s.onDemand = s.onDemand[1:]
	return item, true
}

func (s *Scheduler) popAmbient() models.PlaybackItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.ambient[0]
	s.ambient = s.ambient[1:]
	return item
}

// pushAmbient appends to the ambient tail, dropping the oldest item when the
// bounded lane overflows.
func (s *Scheduler) pushAmbient(item models.PlaybackItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ambient) >= s.ambientMax {
		s.ambient = s.ambient[1:]
	}
	s.ambient = append(s.ambient, item)
}

func (s *Scheduler) onDemandLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.onDemand)
}

func (s *Scheduler) ambientLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ambient)
}

func (s *Scheduler) sleep(ctx context.Context) {
	t := time.NewTimer(s.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
