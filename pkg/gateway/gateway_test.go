package gateway_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shoal/pkg/gateway"
	gwerrors "github.com/marmos91/shoal/pkg/gateway/errors"
	"github.com/marmos91/shoal/pkg/meta"
	"github.com/marmos91/shoal/pkg/meta/store/memory"
	"github.com/marmos91/shoal/pkg/placement"
	"github.com/marmos91/shoal/pkg/shark"
	"github.com/marmos91/shoal/pkg/shark/sharktest"
)

type testEnv struct {
	gw     *gateway.Gateway
	meta   *meta.Client
	sharks []*sharktest.FakeShark
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, gateway.Config{
		SnaplinksDisabledAccounts: []string{"nolinks"},
	})
}

func newTestEnvWithConfig(t *testing.T, cfg gateway.Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	sharks := []*sharktest.FakeShark{
		sharktest.New(t), sharktest.New(t), sharktest.New(t),
	}
	nodes := placement.StaticSource{
		sharks[0].Node("1.shark", "dc-a"),
		sharks[1].Node("2.shark", "dc-b"),
		sharks[2].Node("3.shark", "dc-c"),
	}

	view := placement.NewView(nodes)
	require.NoError(t, view.Refresh(ctx))
	planner := placement.NewPlanner(view, placement.Config{})
	fanout := shark.NewFanout(shark.NewClient(0), view)

	stores := []meta.Store{memory.New(), memory.New(), memory.New()}
	mc := meta.NewClient(stores)

	gw := gateway.New(mc, planner, fanout, cfg)
	return &testEnv{gw: gw, meta: mc, sharks: sharks}
}

func (e *testEnv) mkdirAll(t *testing.T, account string, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, e.gw.EnsureDirectory(context.Background(), account, k))
	}
}

func putObject(t *testing.T, e *testEnv, path, body string) *gateway.PutResult {
	t.Helper()
	res, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          path,
		Body:          strings.NewReader(body),
		ContentLength: int64(len(body)),
	})
	require.NoError(t, err)
	return res
}

func TestPutObject_ThenGetRoundTrip(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")

	res, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          "/poseidon/stor/hello",
		Body:          strings.NewReader("hello"),
		ContentLength: 5,
		ContentType:   "text/plain",
		Copies:        2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Etag)
	assert.Equal(t, "XUFAKrxLKna5cZ2REBfFkg==", res.ComputedMD5)

	got, err := e.gw.GetObject(context.Background(), &gateway.GetObjectInput{
		Account: "poseidon",
		Path:    "/poseidon/stor/hello",
		Method:  http.MethodGet,
	})
	require.NoError(t, err)
	require.NotNil(t, got.Body)
	defer got.Body.Close()

	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "XUFAKrxLKna5cZ2REBfFkg==", got.Record.ContentMD5)
	assert.Len(t, got.Record.Sharks, 2)
	assert.NotEqual(t, got.Record.Sharks[0].Datacenter, got.Record.Sharks[1].Datacenter)
}

func TestPutObject_ZeroByte(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")

	res, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          "/poseidon/stor/empty",
		Body:          strings.NewReader(""),
		ContentLength: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, meta.ZeroByteMD5, res.ComputedMD5)

	got, err := e.gw.GetObject(context.Background(), &gateway.GetObjectInput{
		Account: "poseidon",
		Path:    "/poseidon/stor/empty",
		Method:  http.MethodGet,
	})
	require.NoError(t, err)
	assert.Nil(t, got.Body)
	assert.Empty(t, got.Record.Sharks)
	assert.Zero(t, got.Record.ContentLength)
}

func TestPutObject_IfMatchMismatch(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")
	putObject(t, e, "/poseidon/stor/obj", "v1")

	hdr := http.Header{}
	hdr.Set("If-Match", `"deadbeef"`)
	_, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          "/poseidon/stor/obj",
		Body:          strings.NewReader("v2"),
		ContentLength: 2,
		Conditional:   hdr,
	})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodePreconditionFailed, gwerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "if-match")
}

func TestPutObject_RootRejected(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	_, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          "/poseidon",
		Body:          strings.NewReader("x"),
		ContentLength: 1,
	})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeOperationNotAllowedOnRoot, gwerrors.CodeOf(err))
}

func TestPutObject_ParentChecks(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")

	t.Run("MissingParent", func(t *testing.T) {
		_, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
			Account:       "poseidon",
			Path:          "/poseidon/stor/nodir/obj",
			Body:          strings.NewReader("x"),
			ContentLength: 1,
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeResourceNotFound, gwerrors.CodeOf(err))
	})

	t.Run("ParentIsObject", func(t *testing.T) {
		putObject(t, e, "/poseidon/stor/file", "data")
		_, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
			Account:       "poseidon",
			Path:          "/poseidon/stor/file/child",
			Body:          strings.NewReader("x"),
			ContentLength: 1,
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeParentNotDirectory, gwerrors.CodeOf(err))
	})
}

func TestPutObject_OntoDirectory(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor", "/poseidon/stor/dir")

	_, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          "/poseidon/stor/dir",
		Body:          strings.NewReader("x"),
		ContentLength: 1,
	})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeOperationNotAllowedOnDirectory, gwerrors.CodeOf(err))
}

func TestPutObject_InvalidDurability(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")

	_, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          "/poseidon/stor/obj",
		Body:          strings.NewReader("x"),
		ContentLength: 1,
		Copies:        10,
	})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeInvalidDurabilityLevel, gwerrors.CodeOf(err))
}

func TestPutObject_ChecksumMismatch(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")

	_, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          "/poseidon/stor/obj",
		Body:          strings.NewReader("hello"),
		ContentLength: 5,
		ContentMD5:    "bm90IHRoZSByaWdodCBkaWdlc3Q=",
	})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeChecksumMismatch, gwerrors.CodeOf(err))

	// The failed PUT must not leave a record behind.
	_, err = e.gw.GetObject(context.Background(), &gateway.GetObjectInput{
		Account: "poseidon", Path: "/poseidon/stor/obj", Method: http.MethodGet,
	})
	assert.Equal(t, gwerrors.CodeResourceNotFound, gwerrors.CodeOf(err))
}

func TestPutObject_FailsOverWhenFirstSetDies(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")

	// With one shark down, some candidate sets are unusable; the pipeline
	// must still land the object on live nodes.
	e.sharks[0].Close()

	res, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          "/poseidon/stor/obj",
		Body:          strings.NewReader("survives"),
		ContentLength: 8,
		Copies:        2,
	})
	if err != nil {
		// All three candidate sets can include the dead node; that outcome
		// is SharksExhausted, not a transport error.
		assert.Equal(t, gwerrors.CodeSharksExhausted, gwerrors.CodeOf(err))
		return
	}
	assert.NotEmpty(t, res.Etag)
}

func TestPipelines_CrossAccountKeyRejected(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "intruder", "/intruder/stor")
	ctx := context.Background()

	t.Run("Get", func(t *testing.T) {
		_, err := e.gw.GetObject(ctx, &gateway.GetObjectInput{
			Account: "poseidon", Path: "/intruder/stor/secret", Method: http.MethodGet,
		})
		assert.Equal(t, gwerrors.CodeAuthorization, gwerrors.CodeOf(err))
	})

	t.Run("Put", func(t *testing.T) {
		_, err := e.gw.PutObject(ctx, &gateway.PutObjectInput{
			Account:       "poseidon",
			Path:          "/intruder/stor/secret",
			Body:          strings.NewReader("x"),
			ContentLength: 1,
		})
		assert.Equal(t, gwerrors.CodeAuthorization, gwerrors.CodeOf(err))
	})

	t.Run("Delete", func(t *testing.T) {
		err := e.gw.DeleteObject(ctx, &gateway.DeleteObjectInput{
			Account: "poseidon", Path: "/intruder/stor/secret",
		})
		assert.Equal(t, gwerrors.CodeAuthorization, gwerrors.CodeOf(err))
	})

	t.Run("Mkdir", func(t *testing.T) {
		_, err := e.gw.PutDirectory(ctx, &gateway.PutDirectoryInput{
			Account: "poseidon", Path: "/intruder/stor/dir",
		})
		assert.Equal(t, gwerrors.CodeAuthorization, gwerrors.CodeOf(err))
	})

	t.Run("TraversalIsInvalidKey", func(t *testing.T) {
		_, err := e.gw.GetObject(ctx, &gateway.GetObjectInput{
			Account: "poseidon",
			Path:    "/poseidon/stor/../../intruder/stor/secret",
			Method:  http.MethodGet,
		})
		require.Error(t, err)
		var me *meta.Error
		require.ErrorAs(t, err, &me)
		assert.Equal(t, meta.ErrInvalidKey, me.Code)
	})

	t.Run("OperatorMayCross", func(t *testing.T) {
		_, err := e.gw.GetObject(ctx, &gateway.GetObjectInput{
			Account:    "admin",
			Path:       "/intruder/stor/secret",
			Method:     http.MethodGet,
			IsOperator: true,
		})
		// Past the ownership gate; the object simply does not exist.
		assert.Equal(t, gwerrors.CodeResourceNotFound, gwerrors.CodeOf(err))
	})
}

func TestPutObject_DirectoryLimit(t *testing.T) {
	t.Parallel()
	e := newTestEnvWithConfig(t, gateway.Config{DirectoryLimit: 2})
	e.mkdirAll(t, "poseidon", "/poseidon/stor")

	putObject(t, e, "/poseidon/stor/one", "1")
	putObject(t, e, "/poseidon/stor/two", "2")

	_, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          "/poseidon/stor/three",
		Body:          strings.NewReader("3"),
		ContentLength: 1,
	})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeDirectoryLimit, gwerrors.CodeOf(err))

	// Overwriting an existing entry does not add a child and still works.
	putObject(t, e, "/poseidon/stor/one", "1b")
}

func TestPutObject_MaxContentLength(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")
	ctx := context.Background()

	t.Run("DeclaredOverCap", func(t *testing.T) {
		_, err := e.gw.PutObject(ctx, &gateway.PutObjectInput{
			Account:          "poseidon",
			Path:             "/poseidon/stor/big",
			Body:             strings.NewReader("0123456789"),
			ContentLength:    10,
			MaxContentLength: 4,
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeMaxContentLength, gwerrors.CodeOf(err))
	})

	t.Run("ChunkedBodyOverCap", func(t *testing.T) {
		_, err := e.gw.PutObject(ctx, &gateway.PutObjectInput{
			Account:          "poseidon",
			Path:             "/poseidon/stor/big",
			Body:             strings.NewReader("0123456789"),
			ContentLength:    -1,
			MaxContentLength: 4,
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeMaxContentLength, gwerrors.CodeOf(err))

		// The aborted stream must not leave a record behind.
		_, err = e.gw.GetObject(ctx, &gateway.GetObjectInput{
			Account: "poseidon", Path: "/poseidon/stor/big", Method: http.MethodGet,
		})
		assert.Equal(t, gwerrors.CodeResourceNotFound, gwerrors.CodeOf(err))
	})
}

func TestPutDirectory(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")
	ctx := context.Background()

	res, err := e.gw.PutDirectory(ctx, &gateway.PutDirectoryInput{
		Account: "poseidon",
		Path:    "/poseidon/stor/dir",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Etag)

	t.Run("NoOpWhenUnchanged", func(t *testing.T) {
		again, err := e.gw.PutDirectory(ctx, &gateway.PutDirectoryInput{
			Account: "poseidon",
			Path:    "/poseidon/stor/dir",
		})
		require.NoError(t, err)
		assert.Equal(t, res.Etag, again.Etag)
	})

	t.Run("HeaderChangeWrites", func(t *testing.T) {
		changed, err := e.gw.PutDirectory(ctx, &gateway.PutDirectoryInput{
			Account: "poseidon",
			Path:    "/poseidon/stor/dir",
			Headers: map[string]string{"m-team": "storage"},
		})
		require.NoError(t, err)
		assert.NotEqual(t, res.Etag, changed.Etag)
	})

	t.Run("ObjectHeadersRejected", func(t *testing.T) {
		_, err := e.gw.PutDirectory(ctx, &gateway.PutDirectoryInput{
			Account:       "poseidon",
			Path:          "/poseidon/stor/dir2",
			ObjectHeaders: []string{"content-md5"},
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeBadRequest, gwerrors.CodeOf(err))
	})

	t.Run("CannotReplaceObject", func(t *testing.T) {
		putObject(t, e, "/poseidon/stor/plain", "data")
		_, err := e.gw.PutDirectory(ctx, &gateway.PutDirectoryInput{
			Account: "poseidon",
			Path:    "/poseidon/stor/plain",
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeBadRequest, gwerrors.CodeOf(err))
	})
}

func TestGetObject_Conditional(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")
	res := putObject(t, e, "/poseidon/stor/obj", "content")

	hdr := http.Header{}
	hdr.Set("If-None-Match", `"`+res.Etag+`"`)
	got, err := e.gw.GetObject(context.Background(), &gateway.GetObjectInput{
		Account:     "poseidon",
		Path:        "/poseidon/stor/obj",
		Method:      http.MethodGet,
		Conditional: hdr,
	})
	require.NoError(t, err)
	assert.True(t, got.NotModified)
	assert.Nil(t, got.Body)
}

func TestGetObject_Range(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")
	putObject(t, e, "/poseidon/stor/obj", "0123456789")

	got, err := e.gw.GetObject(context.Background(), &gateway.GetObjectInput{
		Account: "poseidon",
		Path:    "/poseidon/stor/obj",
		Method:  http.MethodGet,
		Range:   "bytes=2-5",
	})
	require.NoError(t, err)
	require.NotNil(t, got.Body)
	defer got.Body.Close()

	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(body))
	assert.Equal(t, http.StatusPartialContent, got.Status)
	assert.Equal(t, "bytes 2-5/10", got.ContentRange)

	t.Run("MalformedRange", func(t *testing.T) {
		_, err := e.gw.GetObject(context.Background(), &gateway.GetObjectInput{
			Account: "poseidon",
			Path:    "/poseidon/stor/obj",
			Method:  http.MethodGet,
			Range:   "lines=1-2",
		})
		require.Error(t, err)
		assert.Equal(t, gwerrors.CodeBadRequest, gwerrors.CodeOf(err))
	})
}

func TestGetObject_NotAcceptable(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")

	_, err := e.gw.PutObject(context.Background(), &gateway.PutObjectInput{
		Account:       "poseidon",
		Path:          "/poseidon/stor/obj",
		Body:          strings.NewReader("x"),
		ContentLength: 1,
		ContentType:   "application/octet-stream",
	})
	require.NoError(t, err)

	_, err = e.gw.GetObject(context.Background(), &gateway.GetObjectInput{
		Account: "poseidon",
		Path:    "/poseidon/stor/obj",
		Method:  http.MethodGet,
		Accept:  "text/plain",
	})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeNotAcceptable, gwerrors.CodeOf(err))
}

func TestDeleteObject(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor")
	ctx := context.Background()

	putObject(t, e, "/poseidon/stor/obj", "bye")
	require.NoError(t, e.gw.DeleteObject(ctx, &gateway.DeleteObjectInput{
		Account: "poseidon",
		Path:    "/poseidon/stor/obj",
	}))

	_, err := e.gw.GetObject(ctx, &gateway.GetObjectInput{
		Account: "poseidon", Path: "/poseidon/stor/obj", Method: http.MethodGet,
	})
	assert.Equal(t, gwerrors.CodeResourceNotFound, gwerrors.CodeOf(err))

	t.Run("MissingIs404", func(t *testing.T) {
		err := e.gw.DeleteObject(ctx, &gateway.DeleteObjectInput{
			Account: "poseidon",
			Path:    "/poseidon/stor/obj",
		})
		assert.Equal(t, gwerrors.CodeResourceNotFound, gwerrors.CodeOf(err))
	})

	t.Run("RootRejected", func(t *testing.T) {
		err := e.gw.DeleteObject(ctx, &gateway.DeleteObjectInput{
			Account: "poseidon",
			Path:    "/poseidon",
		})
		assert.Equal(t, gwerrors.CodeOperationNotAllowedOnRoot, gwerrors.CodeOf(err))
	})
}

func TestDeleteObject_DirectoryMustBeEmpty(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.mkdirAll(t, "poseidon", "/poseidon/stor", "/poseidon/stor/dir")
	ctx := context.Background()

	putObject(t, e, "/poseidon/stor/dir/child", "x")

	err := e.gw.DeleteObject(ctx, &gateway.DeleteObjectInput{
		Account: "poseidon",
		Path:    "/poseidon/stor/dir",
	})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeDirectoryNotEmpty, gwerrors.CodeOf(err))

	require.NoError(t, e.gw.DeleteObject(ctx, &gateway.DeleteObjectInput{
		Account: "poseidon",
		Path:    "/poseidon/stor/dir/child",
	}))
	require.NoError(t, e.gw.DeleteObject(ctx, &gateway.DeleteObjectInput{
		Account: "poseidon",
		Path:    "/poseidon/stor/dir",
	}))
}
