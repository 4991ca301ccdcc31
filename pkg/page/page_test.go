package page_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsync/sqlsync/pkg/page"
)

func fillPage(b byte) page.Page {
	var p page.Page
	for i := range p {
		p[i] = b
	}
	return p
}

func TestWriteReadRoundTrip(t *testing.T) {
	sp := page.New()
	sp.Write(3, fillPage(3))
	sp.Write(1, fillPage(1))

	buf := make([]byte, page.Size)
	n, ok := sp.Read(1, 0, buf)
	require.True(t, ok)
	assert.Equal(t, page.Size, n)
	assert.Equal(t, fillPage(1)[:], buf)

	_, ok = sp.Read(99, 0, buf)
	assert.False(t, ok)
}

func TestMaxPageIdxAndNumPages(t *testing.T) {
	sp := page.New()
	_, ok := sp.MaxPageIdx()
	assert.False(t, ok)
	assert.Equal(t, 0, sp.NumPages())

	sp.Write(5, fillPage(1))
	sp.Write(2, fillPage(2))
	sp.Write(9, fillPage(3))

	max, ok := sp.MaxPageIdx()
	require.True(t, ok)
	assert.Equal(t, page.Idx(9), max)
	assert.Equal(t, 3, sp.NumPages())
}

func TestSerializeEmptyIsError(t *testing.T) {
	sp := page.New()
	_, err := sp.Serialize()
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	sp := page.New()
	sp.Write(10, fillPage(10))
	sp.Write(1, fillPage(1))
	sp.Write(7, fillPage(7))

	data, err := sp.Serialize()
	require.NoError(t, err)

	restored, err := page.Deserialize(data)
	require.NoError(t, err)
	assert.True(t, sp.Equal(restored))

	frame, err := page.NewFrame(data)
	require.NoError(t, err)
	assert.Equal(t, 3, frame.NumPages())
	assert.Equal(t, page.Idx(10), frame.MaxPageIdx())

	for _, idx := range []page.Idx{1, 7, 10} {
		got, ok := frame.Read(idx)
		require.True(t, ok, "idx %d should be present", idx)
		assert.Equal(t, fillPage(byte(idx)), got)
	}

	_, ok := frame.Read(42)
	assert.False(t, ok)
}

func TestFrameReadAt(t *testing.T) {
	sp := page.New()
	p := fillPage(0)
	p[100] = 0xAB
	sp.Write(4, p)

	data, err := sp.Serialize()
	require.NoError(t, err)
	frame, err := page.NewFrame(data)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, ok := frame.ReadAt(4, 100, buf)
	require.True(t, ok)
	assert.Equal(t, 4, n)
	assert.Equal(t, byte(0xAB), buf[0])
}

func TestDeserializeRejectsMalformedLength(t *testing.T) {
	_, err := page.Deserialize([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = page.Deserialize(make([]byte, 9))
	assert.Error(t, err)
}
