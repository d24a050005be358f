/*
Package clock abstracts the time operations used by RunnerX timers so that
reconnection backoff, debounce windows and polling intervals can be driven
deterministically in tests.

Production code uses Real(). Tests use Fake(start) and move time with
Advance, which fires every timer that came due in deadline order.
*/
package clock
