package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindPermanentDownload, Code: 404, Message: "not found"}
	assert.Equal(t, "permanent_download error (code 404): not found", err.Error())

	wrapped := Wrap(KindWrite, io.ErrShortWrite, "saving %s", "a.jpg")
	assert.Equal(t, "write error: saving a.jpg: short write", wrapped.Error())
	assert.ErrorIs(t, wrapped, io.ErrShortWrite)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("plain")))

	inner := New(KindFolderCreation, "mkdir failed")
	outer := fmt.Errorf("group 7: %w", inner)
	assert.Equal(t, KindFolderCreation, KindOf(outer))
}

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("ctx: %w", New(KindTransientDownload, "timeout"))

	assert.True(t, stderrors.Is(err, &Error{Kind: KindTransientDownload}))
	assert.True(t, stderrors.Is(err, &Error{}))
	assert.False(t, stderrors.Is(err, &Error{Kind: KindWrite}))
}

func TestAttemptsOf(t *testing.T) {
	err := &Error{Kind: KindPermanentDownload, Attempts: 3}
	assert.Equal(t, 3, AttemptsOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, 0, AttemptsOf(io.EOF))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(KindTransientDownload))
	for _, k := range []Kind{KindPermanentDownload, KindWrite, KindFolderCreation, KindDataValidation, KindUnknown} {
		assert.False(t, IsRetryable(k), string(k))
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{0, true},
		{408, true},
		{425, true},
		{429, true},
		{500, true},
		{503, true},
		{599, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{410, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableStatusCode(tt.code))
		})
	}
}
