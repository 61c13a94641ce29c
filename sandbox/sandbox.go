// Package sandbox wraps an otto VM as the evaluation context used to resolve
// encrypted literals and to host the virtualized encryption routine.
//
// A Context has no I/O capability beyond the natives installed by New. Every
// evaluation runs under a wall-clock budget; scripts that exceed it are
// interrupted and reported as ErrBudgetExhausted.
package sandbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/robertkrimen/otto"
)

const DefaultBudget = 2 * time.Second

var (
	ErrBudgetExhausted = errors.New("sandbox: evaluation budget exhausted")
	ErrNotString       = errors.New("sandbox: result is not a string")
)

type halt struct{}

type Context struct {
	vm     *otto.Otto
	budget time.Duration
}

// New returns a context with the decryption natives installed.
// A non-positive budget selects DefaultBudget.
func New(budget time.Duration) (*Context, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}

	vm := otto.New()
	if err := installNatives(vm); err != nil {
		return nil, fmt.Errorf("sandbox: install natives: %w", err)
	}
	return &Context{vm: vm, budget: budget}, nil
}

// Clone returns an isolated copy. Bindings created or mutated in the clone
// are never visible to the receiver.
func (c *Context) Clone() *Context {
	return &Context{vm: c.vm.Copy(), budget: c.budget}
}

// Run executes src and returns its completion value.
func (c *Context) Run(src string) (v otto.Value, err error) {
	err = c.guard(func() error {
		var runErr error
		v, runErr = c.vm.Run(src)
		return runErr
	})
	return v, err
}

// EvalString runs src and requires its completion value to be a string.
func (c *Context) EvalString(src string) (string, error) {
	v, err := c.Run(src)
	if err != nil {
		return "", err
	}
	if !v.IsString() {
		return "", fmt.Errorf("%w: got %s", ErrNotString, v.Class())
	}
	return v.ToString()
}

// Call invokes the global function name with args and returns the result as a string.
func (c *Context) Call(name string, args ...interface{}) (out string, err error) {
	err = c.guard(func() error {
		v, callErr := c.vm.Call(name, nil, args...)
		if callErr != nil {
			return callErr
		}
		out, callErr = v.ToString()
		return callErr
	})
	return out, err
}

// Has reports whether name is bound to a defined value.
func (c *Context) Has(name string) bool {
	v, err := c.vm.Get(name)
	return err == nil && v.IsDefined()
}

// guard runs fn with the interrupt budget armed.
func (c *Context) guard(fn func() error) (err error) {
	defer func() {
		if caught := recover(); caught != nil {
			if _, ok := caught.(halt); ok {
				err = ErrBudgetExhausted
				return
			}
			panic(caught)
		}
	}()

	// each call gets its own channel so a timer firing late cannot reach
	// the next evaluation
	ch := make(chan func(), 1)
	c.vm.Interrupt = ch
	timer := time.AfterFunc(c.budget, func() {
		ch <- func() {
			panic(halt{})
		}
	})
	defer timer.Stop()

	return fn()
}
