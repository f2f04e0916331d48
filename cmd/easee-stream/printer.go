package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nordicopen/pyeasee/pkg/subscription"
	"github.com/nordicopen/pyeasee/pkg/wire"
)

// printer writes one line per product update.
type printer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, now: time.Now}
}

// Callback returns a subscription callback that prints every update.
func (p *printer) Callback() subscription.Callback {
	return func(deviceID string, dataType wire.DataType, fieldID int, value any) {
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprintf(p.w, "%s %s #%d %s %v\n",
			p.now().Format("15:04:05.000"), deviceID, fieldID, dataType, value)
	}
}
