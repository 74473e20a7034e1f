// Package governance protects calls to external collaborators with a
// consecutive-failure circuit breaker.
package governance
