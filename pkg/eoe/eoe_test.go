package eoe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFragmentSplitReassembleRoundTrip(t *testing.T) {
	frame := make([]byte, 130)
	for i := range frame {
		frame[i] = byte(i * 3)
	}
	f := Fragmenter{MaxFragment: 64}
	fragments := f.Split(frame)
	require.Greater(t, len(fragments), 1)

	var r Reassembler
	var got []byte
	for _, frag := range fragments {
		out, done := r.Feed(frag)
		if done {
			got = out
		}
	}
	require.Equal(t, frame, got)
}

func TestFragmentSplitSingleFragmentForSmallFrame(t *testing.T) {
	frame := []byte{1, 2, 3, 4}
	f := Fragmenter{MaxFragment: 1024}
	fragments := f.Split(frame)
	require.Len(t, fragments, 1)

	var r Reassembler
	out, done := r.Feed(fragments[0])
	require.True(t, done)
	require.Equal(t, frame, out)
}

func TestFragmentSplitEmptyFrame(t *testing.T) {
	f := Fragmenter{MaxFragment: 64}
	fragments := f.Split(nil)
	require.Len(t, fragments, 1)
}
