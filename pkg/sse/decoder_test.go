package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r io.Reader) []string {
	t.Helper()
	dec := NewDecoder(r)
	var out []string
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestRecordsSurviveArbitraryChunking(t *testing.T) {
	stream := "data: {\"type\":\"log\",\"message\":\"a\"}\n\n" +
		"data: {\"type\":\"status\",\"status\":\"PASS\"}\n\n"

	// one byte per Read
	got := collect(t, iotest.OneByteReader(strings.NewReader(stream)))
	require.Len(t, got, 2)
	assert.Equal(t, `data: {"type":"log","message":"a"}`, got[0])
	assert.Equal(t, `data: {"type":"status","status":"PASS"}`, got[1])
}

func TestUnterminatedTrailingRecordIsDropped(t *testing.T) {
	got := collect(t, strings.NewReader("data: {\"a\":1}\n\ndata: {\"partial\""))
	assert.Equal(t, []string{`data: {"a":1}`}, got)
}

func TestCRLFAndExtraBlankLines(t *testing.T) {
	got := collect(t, strings.NewReader("\r\n\r\ndata: x\r\n\r\n\r\ndata: y\r\n\r\n"))
	assert.Equal(t, []string{"data: x", "data: y"}, got)
}

func TestReadErrorSurfaces(t *testing.T) {
	dec := NewDecoder(iotest.ErrReader(errors.New("connection reset")))
	_, err := dec.Next()
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
}

func TestData(t *testing.T) {
	data, ok := Data(`data: {"type":"log"}`)
	assert.True(t, ok)
	assert.Equal(t, `{"type":"log"}`, data)

	data, ok = Data(": keep-alive\nevent: message\ndata:{\"a\":1}")
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, data)

	data, ok = Data("data: line1\ndata: line2")
	assert.True(t, ok)
	assert.Equal(t, "line1\nline2", data)

	_, ok = Data("event: ping")
	assert.False(t, ok)
}

func TestFormatRoundTrip(t *testing.T) {
	got := collect(t, strings.NewReader(string(Format([]byte(`{"x":1}`)))))
	require.Len(t, got, 1)
	data, ok := Data(got[0])
	assert.True(t, ok)
	assert.Equal(t, `{"x":1}`, data)
}
