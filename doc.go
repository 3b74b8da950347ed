// Package taskbridge connects poll-based tasks with a cooperative,
// single-threaded reactor, in the style of a promise/event-loop runtime.
//
// The package is built around two dual adapters:
//
//   - [PromiseAwaiter] lets a poll-based [Task] suspend on a reactor promise
//     ([PromiseNode]), translating promise readiness into task wakes.
//   - [TaskPromiseAdapter] drives a [BoxedTask] from the reactor, translating
//     task completion into a [Fulfiller] signal (or a [PromiseNode], so the
//     result can be awaited again).
//
// Between them sits the waker bridge ([Waker], [WakerVTable]), which carries
// wake requests across the boundary while preserving enough identity that a
// wake originating from the reactor's own poll can be optimized into a direct
// event arm, with no intermediate allocation and no cross-goroutine handoff.
//
// Unless stated otherwise, all types in this package are confined to the
// goroutine running their [Reactor]. The exceptions are the waker handles
// produced by cloning during a poll, which may be invoked and released from
// any goroutine.
//
// The reactor subpackage provides a ready-made single-threaded [Reactor]
// implementation, and the gojabridge subpackage connects both directions to
// JavaScript promises running under goja.
package taskbridge
