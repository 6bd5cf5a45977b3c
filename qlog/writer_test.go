package qlog

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"testing"

	"github.com/qweave/qweave/internal/protocol"
	"github.com/qweave/qweave/logging"

	"github.com/stretchr/testify/require"
)

type limitedWriter struct {
	io.WriteCloser
	N       int
	written int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.N {
		return 0, errors.New("writer full")
	}
	n, err := w.WriteCloser.Write(p)
	w.written += n
	return n, err
}

func TestWriterRecordFraming(t *testing.T) {
	buf := &bytes.Buffer{}
	tracer := NewConnectionTracer(
		nopWriteCloser(buf),
		protocol.PerspectiveClient,
		protocol.ParseConnectionID([]byte{0xde, 0xad, 0xbe, 0xef}),
	)
	tracer.DroppedEncryptionLevel(protocol.EncryptionInitial)
	tracer.Close()

	data := buf.Bytes()
	require.Equal(t, byte(recordSeparator), data[0])
	lines := bytes.Split(data, []byte{'\n'})
	// the last split element is the empty string after the trailing newline
	require.Len(t, lines, 4)
	require.Empty(t, lines[3])
	for _, line := range lines[:3] {
		require.Equal(t, byte(recordSeparator), line[0])
	}
	require.Contains(t, string(lines[0]), "qlog_format")
	require.Contains(t, string(lines[0]), "NDJSON")
	require.Contains(t, string(lines[1]), "key_discarded")
}

func TestWriterStopsOnError(t *testing.T) {
	buf := &bytes.Buffer{}
	tracer := NewConnectionTracer(
		&limitedWriter{WriteCloser: nopWriteCloser(buf), N: 250},
		protocol.PerspectiveServer,
		protocol.ParseConnectionID([]byte{0xde, 0xad, 0xbe, 0xef}),
	)

	for i := 0; i < 1000; i++ {
		tracer.ReceivedPacket(protocol.Encryption1RTT, logging.PacketNumber(i), 1337, nil)
	}

	var logBuf bytes.Buffer
	log.SetOutput(&logBuf)
	defer log.SetOutput(os.Stdout)

	tracer.Close()

	require.Contains(t, logBuf.String(), "writer full")
}
