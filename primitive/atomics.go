package primitive

import "runtime"

// Pause yields the processor to another goroutine. Real spin loops on amd64
// would execute a PAUSE instruction here; Go gives us no portable way to
// drop that into a spin loop without assembly, so we fall back to
// runtime.Gosched, same as the backoff loops in this package's sibling lock
// implementations.
func Pause() {
	runtime.Gosched()
}
