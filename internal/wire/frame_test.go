package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// pipe is an in-memory io.ReadWriter good enough for loopback framing tests.
type pipe struct {
	buf bytes.Buffer
}

func (p *pipe) Read(b []byte) (int, error)  { return p.buf.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.buf.Write(b) }

func TestWriteReadRoundTrip(t *testing.T) {
	p := &pipe{}
	c := New(p)

	require.NoError(t, c.WriteFrame('A', []byte("hello")))

	hdr, err := c.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, uint32('A'), hdr.Type)
	require.EqualValues(t, 5, hdr.Length)

	buf := make([]byte, 16)
	n, err := c.ReadContent(hdr.Length, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

// TestRoundTripProperty is property 1 from spec.md §8: for any payload of
// length 0 <= L <= MAX, read(write(p)) == p on a loopback pipe.
func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, MaxPayload).Draw(t, "payload")
		tag := rapid.Uint32().Draw(t, "tag")

		p := &pipe{}
		c := New(p)
		require.NoError(t, c.WriteFrame(tag, payload))

		hdr, err := c.ReadHeader()
		require.NoError(t, err)
		require.Equal(t, tag, hdr.Type)
		require.EqualValues(t, len(payload), hdr.Length)

		buf := make([]byte, len(payload))
		n, err := c.ReadContent(hdr.Length, buf)
		require.NoError(t, err)
		require.Equal(t, payload, buf[:n])
	})
}

// TestOversizeTruncatesAndResyncs covers the second half of property 1 and
// end-to-end scenario 6: an oversize frame is truncated on read and the
// next frame boundary is located correctly.
func TestOversizeTruncatesAndResyncs(t *testing.T) {
	p := &pipe{}
	c := New(p)

	big := bytes.Repeat([]byte{0x41}, 10000)
	require.NoError(t, rawWriteOversize(p, 'w', big))
	require.NoError(t, c.WriteFrame('A', []byte("next")))

	hdr, err := c.ReadHeader()
	require.NoError(t, err)
	require.EqualValues(t, 10000, hdr.Length)

	buf := make([]byte, 512)
	n, err := c.ReadContent(hdr.Length, buf)
	require.NoError(t, err)
	require.Equal(t, 512, n)
	require.Equal(t, big[:512], buf)

	hdr2, err := c.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, uint32('A'), hdr2.Type)
	buf2 := make([]byte, 16)
	n2, err := c.ReadContent(hdr2.Length, buf2)
	require.NoError(t, err)
	require.Equal(t, "next", string(buf2[:n2]))
}

// rawWriteOversize bypasses WriteFrame's MaxPayload guard to simulate a
// misbehaving peer announcing a frame bigger than the protocol allows.
func rawWriteOversize(w io.Writer, typeTag uint32, payload []byte) error {
	hdr := make([]byte, 8)
	hdr[0] = byte(len(payload) >> 24)
	hdr[1] = byte(len(payload) >> 16)
	hdr[2] = byte(len(payload) >> 8)
	hdr[3] = byte(len(payload))
	hdr[4] = byte(typeTag >> 24)
	hdr[5] = byte(typeTag >> 16)
	hdr[6] = byte(typeTag >> 8)
	hdr[7] = byte(typeTag)
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
