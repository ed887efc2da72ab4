package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects logger output into a buffer for the test's duration.
func capture(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	InitWithWriter(&buf, level, format, false)
	t.Cleanup(func() {
		InitWithWriter(io.Discard, "INFO", "text", false)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, "WARN", "text")

	Debug("hidden debug")
	Info("hidden info")
	Warn("visible warn")
	Error("visible error")

	out := buf.String()
	assert.NotContains(t, out, "hidden debug")
	assert.NotContains(t, out, "hidden info")
	assert.Contains(t, out, "visible warn")
	assert.Contains(t, out, "visible error")
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	buf := capture(t, "INFO", "text")

	SetLevel("LOUD") // no-op
	Info("still here")

	assert.Contains(t, buf.String(), "still here")
}

func TestTextFormat(t *testing.T) {
	buf := capture(t, "INFO", "text")

	Info("object stored", "path", "/poseidon/stor/obj", "copies", 2)

	out := buf.String()
	assert.Contains(t, out, "[INFO] object stored")
	assert.Contains(t, out, "path=/poseidon/stor/obj")
	assert.Contains(t, out, "copies=2")
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, "INFO", "json")

	Info("object stored", "path", "/poseidon/stor/obj", "size", int64(1024))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "object stored", entry["msg"])
	assert.Equal(t, "/poseidon/stor/obj", entry["path"])
	assert.Equal(t, float64(1024), entry["size"])
}

func TestFieldHelpers(t *testing.T) {
	buf := capture(t, "INFO", "text")

	Info("replica written",
		Path("/poseidon/stor/obj"),
		ObjectID("oid-1"),
		Size(42),
		Copies(2),
		Etag("etag-1"),
	)

	out := buf.String()
	assert.Contains(t, out, KeyPath+"=/poseidon/stor/obj")
	assert.Contains(t, out, KeyObjectID+"=oid-1")
	assert.Contains(t, out, KeySize+"=42")
	assert.Contains(t, out, KeyCopies+"=2")
	assert.Contains(t, out, KeyEtag+"=etag-1")
}

func TestContextFieldsInjected(t *testing.T) {
	buf := capture(t, "INFO", "text")

	lc := NewLogContext("req-123", "10.0.0.9")
	lc = lc.WithRoute("PUT", "/{account}/*").WithAccount("poseidon")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "request complete")

	out := buf.String()
	assert.Contains(t, out, KeyRequestID+"=req-123")
	assert.Contains(t, out, KeyClientIP+"=10.0.0.9")
	assert.Contains(t, out, KeyMethod+"=PUT")
	assert.Contains(t, out, KeyAccount+"=poseidon")
}

func TestContextFieldsAbsentWithoutLogContext(t *testing.T) {
	buf := capture(t, "INFO", "text")

	InfoCtx(context.Background(), "bare message")

	assert.NotContains(t, buf.String(), KeyRequestID)
}

func TestLogContextClone(t *testing.T) {
	base := NewLogContext("req-1", "10.0.0.1")
	upload := base.WithUpload("0af4a1b2c3d4e5f60718293a4b5c6d71")

	assert.Empty(t, base.UploadID)
	assert.Equal(t, "0af4a1b2c3d4e5f60718293a4b5c6d71", upload.UploadID)
	assert.Equal(t, "req-1", upload.RequestID)

	var nilLC *LogContext
	assert.Nil(t, nilLC.Clone())
	assert.Zero(t, nilLC.DurationMs())
}

func TestFromContextNil(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}

func TestConcurrentLogging(t *testing.T) {
	buf := capture(t, "INFO", "text")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("concurrent", "worker", j)
			}
		}()
	}
	wg.Wait()

	// Every line must be whole, not interleaved.
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		assert.Contains(t, line, "concurrent")
		assert.Equal(t, 1, strings.Count(line, "[INFO]"))
	}
}

func TestWith(t *testing.T) {
	buf := capture(t, "INFO", "text")

	l := With("shard", 1)
	l.Info("bound fields")

	assert.Contains(t, buf.String(), "shard=1")
}
