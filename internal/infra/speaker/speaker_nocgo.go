//go:build !((linux && cgo) || windows || darwin)

package speaker

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/CarlosFdez/SpueBox/internal/app/session"
	"github.com/CarlosFdez/SpueBox/internal/infra/pcm"
)

// Available reports whether local playback is supported by this build.
// Audio output needs cgo.
const Available = false

// Transport is unavailable without cgo.
type Transport struct{}

func NewTransport(_ *pcm.Decoder) *Transport {
	return &Transport{}
}

func (t *Transport) Connect(_ context.Context, _ string) (session.Connection, error) {
	return nil, errors.New("local playback requires a cgo build")
}
