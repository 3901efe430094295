package upscale

import (
	"runtime"

	"github.com/sirupsen/logrus"
)

// reclaimMemory runs after every top-level request, success or failure.
// Repeated model calls accumulate large buffers; purging the upscaler
// cache and forcing a collection bounds peak memory across invocations.
func (m *Manager) reclaimMemory() {
	if purger, ok := m.upscaler.(CachePurger); ok {
		purger.PurgeCache()
	}

	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	runtime.GC()

	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	freed := int64(before.Alloc) - int64(after.Alloc)
	m.logger.WithFields(logrus.Fields{
		"alloc_mb": float64(after.Alloc) / 1024 / 1024,
		"freed_mb": float64(freed) / 1024 / 1024,
		"num_gc":   after.NumGC,
	}).Debug("Memory reclaimed")
}
