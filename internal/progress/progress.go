package progress

import (
	"fmt"
	"time"
)

type Progress interface {
	GetTotalSize() int64
	GetDownloaded() int64
	GetPercentage() float64
	GetSpeedBPS() int64
	GetETA() string
}

var _ Progress = Snapshot{}

// Snapshot is the progress of one segment fetch at a point in time.
type Snapshot struct {
	TotalSize  int64
	Downloaded int64
	Percentage float64
	SpeedBPS   int64
	ETA        time.Duration
}

// NewSnapshot derives speed, percentage and ETA from the bytes transferred
// since start. total <= 0 means the size is not known yet.
func NewSnapshot(total, downloaded, transferred int64, elapsed time.Duration) Snapshot {
	s := Snapshot{
		TotalSize:  total,
		Downloaded: downloaded,
	}

	if total > 0 {
		s.Percentage = float64(downloaded) / float64(total) * 100
	}

	if elapsed > 0 && transferred > 0 {
		s.SpeedBPS = int64(float64(transferred) / elapsed.Seconds())
	}

	if s.SpeedBPS > 0 && total > downloaded {
		s.ETA = time.Duration(float64(total-downloaded) / float64(s.SpeedBPS) * float64(time.Second))
	}

	return s
}

func (s Snapshot) GetTotalSize() int64    { return s.TotalSize }
func (s Snapshot) GetDownloaded() int64   { return s.Downloaded }
func (s Snapshot) GetPercentage() float64 { return s.Percentage }
func (s Snapshot) GetSpeedBPS() int64     { return s.SpeedBPS }
func (s Snapshot) GetETA() string {
	if s.ETA == 0 {
		return "unknown"
	}

	hrs := int(s.ETA.Hours())
	mins := int(s.ETA.Minutes()) % 60
	secs := int(s.ETA.Seconds()) % 60

	switch {
	case hrs > 0:
		return fmt.Sprintf("%dh %dm %ds", hrs, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
