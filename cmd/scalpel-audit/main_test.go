package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlePanic(t *testing.T) {
	origWrite, origExit := osWriteFile, osExit
	t.Cleanup(func() { osWriteFile, osExit = origWrite, origExit })

	t.Run("writes the panic log", func(t *testing.T) {
		var written string
		var code int
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = string(data)
			return nil
		}
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Contains(t, written, "panic: boom")
		assert.Contains(t, written, "goroutine", "the stack is included")
		assert.Equal(t, 2, code)
	})

	t.Run("log write failure still exits", func(t *testing.T) {
		var code int
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only") }
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Equal(t, 2, code)
	})

	t.Run("no panic", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }
		func() { defer handlePanic() }()
		assert.False(t, called)
	})
}
