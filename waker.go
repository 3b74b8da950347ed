package taskbridge

// WakerVTable maps the generic operations of a [Waker] onto its backing
// callback. All wakers in this package share the same trampoline functions;
// what distinguishes a reactor-owned waker from an ordinary host waker is the
// identity of the table pointer itself, which [ReactorWakerFor] uses to
// recover the concrete [ReactorWaker] without any allocation.
type WakerVTable struct {
	// Clone produces an independently owned waker for the same target.
	Clone func(data any) Waker
	// Wake signals the target and consumes this handle's ownership.
	Wake func(data any)
	// WakeByRef signals the target without consuming the handle.
	WakeByRef func(data any)
	// Drop releases the handle's ownership without signaling.
	Drop func(data any)
}

// HostCallback is the target of a [Waker] built by [WakerForHost]. Clone may
// return a different implementation than its receiver, and may return nil to
// indicate the clone is a no-op waker. Wake, WakeByRef, and Drop must be safe
// to call from any goroutine.
type HostCallback interface {
	Clone() HostCallback
	Wake()
	WakeByRef()
	Drop()
}

// ReactorWaker is a [HostCallback] that additionally knows which reactor
// created it, and how to arm that reactor's poll event directly. IsCurrent
// reports whether the calling goroutine is the reactor goroutine the waker
// was created on; ArmPoll requests a re-poll without going through the
// generic wake path, and is only valid on that goroutine.
type ReactorWaker interface {
	HostCallback
	IsCurrent() bool
	ArmPoll()
}

// The two tables are behaviorally identical. Their distinct addresses are
// what allows ReactorWakerFor to tell a reactor-owned waker apart from an
// arbitrary host waker. They are populated in init because callbackClone
// refers to hostWakerVTable, which would otherwise be an initialization
// cycle.
var (
	hostWakerVTable    WakerVTable
	reactorWakerVTable WakerVTable
)

func init() {
	hostWakerVTable = WakerVTable{Clone: callbackClone, Wake: callbackWake, WakeByRef: callbackWakeByRef, Drop: callbackDrop}
	reactorWakerVTable = WakerVTable{Clone: callbackClone, Wake: callbackWake, WakeByRef: callbackWakeByRef, Drop: callbackDrop}
}

func callbackClone(data any) Waker {
	cloned := data.(HostCallback).Clone()
	if cloned == nil {
		return Waker{}
	}
	// Clones always use the host table: a clone may outlive the poll that
	// produced it, so it must never be mistaken for the reactor's own waker.
	return Waker{vt: &hostWakerVTable, data: cloned}
}

func callbackWake(data any) {
	data.(HostCallback).Wake()
}

func callbackWakeByRef(data any) {
	data.(HostCallback).WakeByRef()
}

func callbackDrop(data any) {
	data.(HostCallback).Drop()
}

// Waker is a lightweight handle used by a [Task] to request a re-poll. The
// zero value is a valid no-op waker. A Waker passed to [Task.Poll] is only
// valid for the duration of that call; a task that needs to signal later must
// retain a [Waker.Clone] and eventually consume it via [Waker.Wake] or
// release it via [Waker.Drop].
type Waker struct {
	vt   *WakerVTable
	data any
}

// WakerForHost wraps cb in a Waker using the generic host table. A nil cb
// yields a no-op waker.
func WakerForHost(cb HostCallback) Waker {
	if cb == nil {
		return Waker{}
	}
	return Waker{vt: &hostWakerVTable, data: cb}
}

// WakerForReactor wraps rw in a Waker using the reactor table, making it
// recoverable via [ReactorWakerFor]. A nil rw yields a no-op waker.
func WakerForReactor(rw ReactorWaker) Waker {
	if rw == nil {
		return Waker{}
	}
	return Waker{vt: &reactorWakerVTable, data: rw}
}

// NoopWaker returns a waker whose operations all do nothing.
func NoopWaker() Waker {
	return Waker{}
}

// ReactorWakerFor recovers the [ReactorWaker] behind w, if and only if w was
// built by [WakerForReactor] and the calling goroutine is the waker's own
// reactor goroutine. It returns false for clones, for host wakers, and for
// reactor wakers observed from any other goroutine.
func ReactorWakerFor(w Waker) (ReactorWaker, bool) {
	if w.vt != &reactorWakerVTable {
		return nil, false
	}
	rw := w.data.(ReactorWaker)
	if !rw.IsCurrent() {
		return nil, false
	}
	return rw, true
}

// Clone produces an independently owned waker for the same target.
func (w Waker) Clone() Waker {
	if w.vt == nil {
		return Waker{}
	}
	return w.vt.Clone(w.data)
}

// Wake signals the target and consumes the handle. The receiver must not be
// used again.
func (w Waker) Wake() {
	if w.vt == nil {
		return
	}
	w.vt.Wake(w.data)
}

// WakeByRef signals the target without consuming the handle.
func (w Waker) WakeByRef() {
	if w.vt == nil {
		return
	}
	w.vt.WakeByRef(w.data)
}

// Drop releases the handle without signaling. The receiver must not be used
// again.
func (w Waker) Drop() {
	if w.vt == nil {
		return
	}
	w.vt.Drop(w.data)
}

// OptionWaker is an optional slot for one cloned waker. It is how the
// awaiter's subscription stores the waker of whichever task most recently
// polled it, so readiness can be translated into a wake later.
//
// OptionWaker is confined to the reactor goroutine of the subscription that
// owns it.
type OptionWaker struct {
	waker Waker
	set   bool
}

// IsSet reports whether the slot currently holds a waker.
func (o *OptionWaker) IsSet() bool {
	return o.set
}

// Set replaces the slot's contents with a clone of w, releasing any
// previously stored waker without signaling it.
func (o *OptionWaker) Set(w Waker) {
	if o.set {
		o.waker.Drop()
	}
	o.waker = w.Clone()
	o.set = true
}

// SetNone empties the slot, releasing any stored waker without signaling it.
func (o *OptionWaker) SetNone() {
	if o.set {
		o.waker.Drop()
		o.waker = Waker{}
		o.set = false
	}
}

// Wake consumes and signals the stored waker, leaving the slot empty. It
// panics if the slot is empty: waking the same subscription twice without an
// intervening Set is a contract violation by the caller.
func (o *OptionWaker) Wake() {
	if !o.set {
		panic("taskbridge: wake of an empty waker slot")
	}
	w := o.waker
	o.waker = Waker{}
	o.set = false
	w.Wake()
}
