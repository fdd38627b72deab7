package profiler

import (
	"log"
	"runtime"
	"time"
)

// FrameStats carries the per-frame render statistics reported by the
// renderer at the end of each frame.
type FrameStats struct {
	// Views is the number of views that rendered successfully this frame.
	Views int
	// Draws is the total number of draw records submitted across all views.
	Draws int
	// UploadWrites is the number of inline staging writes this frame.
	UploadWrites int
	// UploadBytes is the total byte volume of inline staging writes this frame.
	UploadBytes int
}

// Profiler tracks frame rate, render workload and memory statistics for
// performance monitoring. Outputs stats to the log at a configurable interval.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	views        int
	draws        int
	uploadWrites int
	uploadBytes  int
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 second.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler() *Profiler {
	return &Profiler{
		frameCount:     0,
		lastTime:       time.Now(),
		updateInterval: time.Second,
		memStats:       runtime.MemStats{},
	}
}

// FrameCompleted should be called once per frame with that frame's render
// statistics. Accumulates the workload counters and logs a combined
// performance line when the update interval has elapsed.
//
// Parameters:
//   - s: the render statistics for the completed frame
//
// Returns:
//   - bool: true if stats were logged this frame, false otherwise
func (p *Profiler) FrameCompleted(s FrameStats) bool {
	p.views += s.Views
	p.draws += s.Draws
	p.uploadWrites += s.UploadWrites
	p.uploadBytes += s.UploadBytes
	return p.Tick()
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, render workload, heap usage, allocation rate,
// GC count/pause times, total memory.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)

	if elapsed >= p.updateInterval {
		fps := float64(p.frameCount) / elapsed.Seconds()

		// Per-frame averages over the interval
		frames := float64(p.frameCount)
		avgViews := float64(p.views) / frames
		avgDraws := float64(p.draws) / frames
		uploadMB := float64(p.uploadBytes) / 1024 / 1024

		runtime.ReadMemStats(&p.memStats)
		// Alloc: Bytes of allocated heap objects (live memory)
		// TotalAlloc: Cumulative bytes allocated for heap objects (increases forever, tracks churn)
		// Sys: Total bytes of memory obtained from the OS (actual process footprint)
		allocMB := float64(p.memStats.Alloc) / 1024 / 1024
		sysMB := float64(p.memStats.Sys) / 1024 / 1024

		// Calculate allocation rate (MB/sec)
		allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
		allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

		// Calculate GC pause stats (last pause and max recent pause)
		gcCount := p.memStats.NumGC
		var lastPauseUs, maxPauseUs uint64
		if gcCount > 0 {
			// PauseNs is a circular buffer of last 256 GC pauses
			lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

			// Find max pause since last tick
			startIdx := p.lastGCCount
			if gcCount-startIdx > 256 {
				startIdx = gcCount - 256
			}
			for i := startIdx; i < gcCount; i++ {
				pause := p.memStats.PauseNs[i%256] / 1000
				if pause > maxPauseUs {
					maxPauseUs = pause
				}
			}
		}

		log.Printf("[Profiler] FPS: %.2f | Views: %.1f | Draws: %.1f | Upload: %d writes, %.2f MB | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (last: %d µs, max: %d µs) | Sys: %.2f MB",
			fps, avgViews, avgDraws, p.uploadWrites, uploadMB, allocMB, allocRateMB, gcCount, lastPauseUs, maxPauseUs, sysMB)

		p.frameCount = 0
		p.lastTime = currentTime
		p.lastGCCount = gcCount
		p.lastTotalAlloc = p.memStats.TotalAlloc
		p.views = 0
		p.draws = 0
		p.uploadWrites = 0
		p.uploadBytes = 0
		return true
	}

	return false
}
