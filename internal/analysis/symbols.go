package analysis

import (
	"fmt"
	"sync"

	"tracelocate/internal/elfx"

	"github.com/ianlancetaylor/demangle"
)

// symbolCache provides thread-safe caching for demangling. Parallel
// scans hit the same mangled names across images, so results are shared.
type symbolCache struct {
	mu            sync.RWMutex
	demangleCache map[string]string
}

var cache = &symbolCache{
	demangleCache: make(map[string]string),
}

// CachedDemangle performs demangling with caching support.
func CachedDemangle(mangled string) string {
	cache.mu.RLock()
	if cached, exists := cache.demangleCache[mangled]; exists {
		cache.mu.RUnlock()
		return cached
	}
	cache.mu.RUnlock()

	demangled := demangle.Filter(mangled, demangle.NoClones)

	cache.mu.Lock()
	cache.demangleCache[mangled] = demangled
	cache.mu.Unlock()
	return demangled
}

// FunctionName returns the demangled symbol name covering va, or a
// stable sub_<hex> placeholder when the image names nothing there.
func FunctionName(img *elfx.Image, va uint64) string {
	if name, ok := img.FuncNameAt(va); ok && name != "" {
		return CachedDemangle(name)
	}
	return fmt.Sprintf("sub_%x", va)
}
