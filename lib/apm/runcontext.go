// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

// RunContext is an immutable record of the operation and step active
// at some point of execution. Entering an operation or step derives a
// new RunContext whose parent is the receiver; the receiver itself never
// changes, so a RunContext can be shared freely between goroutines.
//
// A nil *RunContext behaves as the root: no operation, no step.
type RunContext struct {
	operation *Operation
	step      *Step
	parent    *RunContext
}

// Operation returns the active operation, or nil.
func (rc *RunContext) Operation() *Operation {
	if rc == nil {
		return nil
	}
	return rc.operation
}

// Step returns the innermost step that has not ended, or nil. Ended
// steps are skipped, so code holding a stale context parents new work
// under the nearest running ancestor instead of a finished span. The
// walk stops at the node that entered the operation.
func (rc *RunContext) Step() *Step {
	for node := rc; node != nil; node = node.parent {
		if node.step == nil {
			return nil
		}
		if !node.step.Ended() {
			return node.step
		}
	}
	return nil
}

// Parent returns the context this one was derived from, or nil at the
// root.
func (rc *RunContext) Parent() *RunContext {
	if rc == nil {
		return nil
	}
	return rc.parent
}

// EnterOperation returns a context in which op is active and no step
// is. A nil op yields a context with no operation, which is how an
// untraced operation hides the enclosing one from its children.
func (rc *RunContext) EnterOperation(op *Operation) *RunContext {
	return &RunContext{operation: op, parent: rc}
}

// EnterStep returns a context in which step and its operation are
// active. Entering a nil step returns the receiver.
func (rc *RunContext) EnterStep(step *Step) *RunContext {
	if step == nil {
		return rc
	}
	return &RunContext{operation: step.Operation(), step: step, parent: rc}
}

// LeaveStep returns the nearest ancestor whose step is still running,
// or that has no step. It is the context to resume once the current
// step has ended.
func (rc *RunContext) LeaveStep() *RunContext {
	if rc == nil {
		return nil
	}
	for node := rc.parent; node != nil; node = node.parent {
		if node.step == nil || !node.step.Ended() {
			return node
		}
	}
	return nil
}
