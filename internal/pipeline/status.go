package pipeline

import (
	"sync"
	"time"

	"github.com/italolelis/mover/internal/transfer"
)

// Stage is where a run currently is.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageSearching   Stage = "searching"
	StageSelecting   Stage = "selecting"
	StageDownloading Stage = "downloading"
	StageCurating    Stage = "curating"
	StagePlaying     Stage = "playing"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// TransferStatus is the JSON view of transfer.Stats.
type TransferStatus struct {
	Name           string  `json:"name"`
	Phase          string  `json:"phase"`
	BytesCompleted int64   `json:"bytes_completed"`
	BytesTotal     int64   `json:"bytes_total"`
	Progress       float64 `json:"progress"`
	Peers          int     `json:"peers"`
	Seeders        int     `json:"seeders"`
}

// Snapshot is a copy of the run state, safe to hand to other goroutines.
type Snapshot struct {
	RunID     string          `json:"run_id"`
	Stage     Stage           `json:"stage"`
	Title     string          `json:"title,omitempty"`
	Quality   string          `json:"quality,omitempty"`
	File      string          `json:"file,omitempty"`
	Transfer  *TransferStatus `json:"transfer,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Status tracks the live state of one run.
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewStatus(runID string) *Status {
	now := time.Now().UTC()

	return &Status{snap: Snapshot{RunID: runID, Stage: StageIdle, StartedAt: now, UpdatedAt: now}}
}

func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snap
	if snap.Transfer != nil {
		t := *snap.Transfer
		snap.Transfer = &t
	}

	return snap
}

func (s *Status) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.snap.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Status) setStage(stage Stage) {
	s.update(func(snap *Snapshot) { snap.Stage = stage })
}

// UpdateTransfer records the latest transfer sample. It matches downloader.Downloader.OnProgress.
func (s *Status) UpdateTransfer(stats transfer.Stats) {
	s.update(func(snap *Snapshot) {
		snap.Transfer = &TransferStatus{
			Name:           stats.Name,
			Phase:          string(stats.Phase),
			BytesCompleted: stats.BytesCompleted,
			BytesTotal:     stats.BytesTotal,
			Progress:       stats.Progress(),
			Peers:          stats.Peers,
			Seeders:        stats.Seeders,
		}
	})
}

func (s *Status) fail(err error) {
	s.update(func(snap *Snapshot) {
		snap.Stage = StageFailed
		snap.Error = err.Error()
	})
}
