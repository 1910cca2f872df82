package dep

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequired(t *testing.T) {
	r := strings.NewReader("x")
	assert.Same(t, r, Required(r))

	var reader io.Reader = r
	assert.Equal(t, reader, Required(reader))
}

func TestRequiredPanicsOnNil(t *testing.T) {
	var reader io.Reader
	assert.Panics(t, func() { Required(reader) })

	var p *strings.Reader
	assert.Panics(t, func() { Required(p) })

	var fn func()
	assert.Panics(t, func() { Required(fn) })
}

func TestRequiredNamesTheType(t *testing.T) {
	defer func() {
		r := recover()
		msg, ok := r.(string)
		if assert.True(t, ok) {
			assert.Contains(t, msg, "io.Reader")
			assert.Contains(t, msg, "TestRequiredNamesTheType")
		}
	}()
	var reader io.Reader
	Required(reader)
}
