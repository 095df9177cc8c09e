package utils

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type errCloser struct {
	io.Reader
	closeErr error
}

func (c *errCloser) Close() error { return c.closeErr }

func TestDrainAndClose_NilIsNoop(t *testing.T) {
	assert.NoError(t, DrainAndClose(nil))
}

func TestDrainAndClose_DrainsThenCloses(t *testing.T) {
	rc := io.NopCloser(strings.NewReader("body"))
	assert.NoError(t, DrainAndClose(rc))
}

func TestDrainAndClose_PropagatesCloseError(t *testing.T) {
	closeErr := assert.AnError
	rc := &errCloser{Reader: strings.NewReader(""), closeErr: closeErr}
	assert.ErrorIs(t, DrainAndClose(rc), closeErr)
}
