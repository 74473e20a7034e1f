// Package policy binds a detection rule to a decision action and exposes a
// single Execute entry point.
//
// A Policy runs its rule exactly once and hands that result to its action
// exactly once. Blocked and raised content, as well as unavailable detection
// capabilities, come back as typed errors from pkg/domain rather than as a
// result. Chain composes several policies by feeding each stage's output to the
// next, and ExecuteAll fans a batch of inputs out over a bounded worker group.
package policy
