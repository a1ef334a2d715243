package matchclock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Ticker drives a tick callback from a clockwork clock so tests can advance
// time by hand.
type Ticker struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartTicker calls onTick with the configured interval until Stop.
func StartTicker(clk clockwork.Clock, interval time.Duration, onTick func(elapsed time.Duration)) *Ticker {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = time.Second
	}
	t := &Ticker{stop: make(chan struct{}), done: make(chan struct{})}
	tk := clk.NewTicker(interval)
	go func() {
		defer close(t.done)
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.Chan():
				select {
				case <-t.stop:
					return
				default:
				}
				onTick(interval)
			}
		}
	}()
	return t
}

// Stop ends the loop. It does not wait, so it may be called from inside onTick;
// use Done to wait for the loop to exit.
func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
}

func (t *Ticker) Done() <-chan struct{} { return t.done }
