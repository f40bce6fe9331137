// Package transport holds what the shell transports share.
package transport

import (
	"io"
	"slices"
	"sync"
)

// Observers is a set of output callbacks. Remove funcs are safe to call from
// inside a callback.
type Observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func([]byte)
}

func (o *Observers) Add(fn func([]byte)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = map[int]func([]byte){}
	}
	id := o.next
	o.next++
	o.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.fns, id)
			o.mu.Unlock()
		})
	}
}

// Broadcast hands a copy of p to every observer in registration order.
func (o *Observers) Broadcast(p []byte) {
	if len(p) == 0 {
		return
	}

	o.mu.Lock()
	ids := make([]int, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func([]byte), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		buf := make([]byte, len(p))
		copy(buf, p)
		fn(buf)
	}
}

func (o *Observers) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.fns)
}

// Pump broadcasts everything read from r until it fails. io.EOF is returned
// as nil.
func Pump(r io.Reader, o *Observers) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			o.Broadcast(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
