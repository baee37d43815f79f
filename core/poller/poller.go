// Package poller wraps the OS readiness multiplexer.
package poller

// Event is a portable readiness mask.
type Event uint32

// Readiness and registration bits.
const (
	EventRead Event = 1 << iota
	EventWrite
	EventPeerHangup // peer shut down its writing half
	EventHangup
	EventError
	// EventOneShot disables the registration after one delivery until Modify re-arms it.
	EventOneShot
	// EventEdge selects edge-triggered delivery.
	EventEdge
)

// Poller is the I/O multiplexing interface
type Poller interface {
	Add(fd int, events Event) error
	Modify(fd int, events Event) error
	Remove(fd int) error
	// Wait blocks up to timeout milliseconds (-1 forever, 0 poll) and
	// returns the number of ready descriptors.
	Wait(timeout int) (int, error)
	EventFd(i int) int
	Events(i int) Event
	Close() error
}
