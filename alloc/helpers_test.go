package alloc_test

import (
	"bytes"
	"strings"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostmem/alloc"
	"github.com/vkngwrapper/hostmem/memutils"
	"golang.org/x/exp/slog"
)

func requireCorruption(t *testing.T, allocator alloc.Allocator) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected CheckCorruption to panic")

		err, isErr := r.(error)
		require.True(t, isErr)
		require.True(t, errors.Is(err, memutils.ErrCorruption), "unexpected panic: %v", err)
	}()

	allocator.CheckCorruption()
}

func requireHealthy(t *testing.T, allocator alloc.Allocator) {
	t.Helper()
	require.NotPanics(t, allocator.CheckCorruption)
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buffer bytes.Buffer
	return slog.New(slog.NewTextHandler(&buffer)), &buffer
}

func countUnreleased(buffer *bytes.Buffer) int {
	return strings.Count(buffer.String(), "[UNRELEASED MEMORY]")
}

func requireZeroed(t *testing.T, allocator alloc.Allocator, ptr unsafe.Pointer) {
	t.Helper()

	data := alloc.Bytes(allocator, ptr)
	require.NotEmpty(t, data)
	for i, b := range data {
		require.Equalf(t, byte(0), b, "byte %d was not zeroed", i)
	}
}
