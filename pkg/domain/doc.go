// Package domain defines the core types shared by rules, actions and policies.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. It owns:
//
//   - PolicyInput / PolicyOutput: the multi-channel content envelope
//   - RuleOutput: a confidence-scored detection result
//   - ActionOutput / ActionTaken: the outcome chosen by an action
//   - TransformationMap: per-item original -> replacement pairs
//   - DomainError and the sentinel errors used for blocked, raised and
//     unavailable outcomes
//
// Other packages (rule, action, policy, storage) depend on these types. The
// dependency direction is always:
//
//	rule/action/policy → domain (CORRECT)
//	domain → rule/action/policy (FORBIDDEN)
package domain
