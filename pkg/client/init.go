package client

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/arpeggia/soundbridge/pkg/port"
)

// ErrNotInitialized is returned by Open before Init ran.
var ErrNotInitialized = errors.New("client: Init not called")

var (
	initOnce    sync.Once
	initialized atomic.Bool
)

// Init performs process-wide setup: probing the CPU and selecting the
// summing kernel. It must run before the first Open; calling it again is
// a no-op.
func Init() {
	initOnce.Do(func() {
		port.SelectKernel()
		initialized.Store(true)
	})
}
