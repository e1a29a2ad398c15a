package pcapwriter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.pcap")

	writer, err := New(&Config{FilePath: testFile, LinkType: layers.LinkTypeRaw})
	require.NoError(t, err)
	defer writer.Close()

	assert.Equal(t, testFile, writer.FilePath())
	_, err = os.Stat(testFile)
	assert.NoError(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)

	_, err = New(&Config{FilePath: filepath.Join(t.TempDir(), "missing", "x.pcap")})
	assert.Error(t, err)
}

func TestWritePacket_RoundTrip(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.pcap")

	writer, err := New(&Config{FilePath: testFile, LinkType: layers.LinkTypeEthernet})
	require.NoError(t, err)

	frames := [][]byte{
		[]byte("first frame payload"),
		[]byte("second"),
	}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: ts.Add(time.Duration(i) * time.Second)}
		require.NoError(t, writer.WritePacket(ci, f))
	}

	packets, written := writer.Stats()
	assert.Equal(t, int64(2), packets)
	assert.Equal(t, int64(len(frames[0])+len(frames[1])), written)
	require.NoError(t, writer.Close())

	f, err := os.Open(testFile)
	require.NoError(t, err)
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	for i, want := range frames {
		data, ci, err := r.ReadPacketData()
		require.NoError(t, err)
		assert.Equal(t, want, data)
		assert.Equal(t, len(want), ci.Length)
		assert.True(t, ts.Add(time.Duration(i)*time.Second).Equal(ci.Timestamp))
	}
}

func TestClose_Idempotent(t *testing.T) {
	writer, err := New(&Config{FilePath: filepath.Join(t.TempDir(), "test.pcap"), LinkType: layers.LinkTypeRaw})
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close())

	err = writer.WritePacket(gopacket.CaptureInfo{}, []byte{1})
	assert.Error(t, err)
}
