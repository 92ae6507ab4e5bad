package chain

import "sync"

// CallbackFunc bridges a node-style asynchronous API: the implementation
// performs its work and fires done exactly once, with a non-nil error to
// reject or trailing values to resume.
type CallbackFunc func(done func(err error, vals ...any), args ...any)

// DirectFunc bridges callback APIs whose completion carries no error.
type DirectFunc func(done func(vals ...any), args ...any)

// CallFunc is the synchronous adapter shape used by Call.
type CallFunc func(args ...any) (any, error)

// settleOnce returns a done callback that settles the chain at most once,
// however often the bridged API fires it.
func (c *Chain) settleOnce() func(err error, vals ...any) {
	var once sync.Once
	return func(err error, vals ...any) {
		once.Do(func() {
			if err != nil {
				c.Reject(err)
				return
			}
			c.Resume(vals...)
		})
	}
}
