package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeString(t *testing.T) {
	assert.Equal(t, "OK", OK.String())
	assert.Equal(t, "INTERNAL", Internal.String())
	assert.Equal(t, "UNAUTHENTICATED", Unauthenticated.String())
	assert.Equal(t, "CODE(42)", Code(42).String())
	assert.Equal(t, "CODE(-1)", Code(-1).String())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "INTERNAL: boom", New(Internal, "boom").String())
	assert.Equal(t, "NOT_FOUND", New(NotFound, "").String())
	assert.Equal(t, "DEADLINE_EXCEEDED: after 100ms", Newf(DeadlineExceeded, "after %dms", 100).String())
	assert.True(t, New(OK, "").IsOK())
	assert.False(t, New(Aborted, "").IsOK())
}
