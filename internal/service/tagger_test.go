package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTaggingServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "json", r.FormValue("format"))

		f, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			data, _ := io.ReadAll(f)
			assert.Equal(t, "image-bytes", string(data))
			assert.Equal(t, "cat.jpg", hdr.Filename)
		}

		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestTaggerFiltersAndSorts(t *testing.T) {
	srv := newTaggingServer(t, http.StatusOK, `[{"tags":{"Cat":0.97,"animal":0.9,"sofa":0.5,"dog":0.2,"pet":0.9}}]`)
	tg := NewTagger(srv.URL, "key", 0.4, 3, time.Second)

	labels, err := tg.Tag(context.Background(), "cat.jpg", strings.NewReader("image-bytes"))
	require.NoError(t, err)

	assert.Equal(t, []Label{
		{Name: "cat", Confidence: 0.97},
		{Name: "animal", Confidence: 0.9},
		{Name: "pet", Confidence: 0.9},
	}, labels)
}

func TestTaggerErrors(t *testing.T) {
	srv := newTaggingServer(t, http.StatusInternalServerError, `oops`)
	tg := NewTagger(srv.URL, "key", 0.4, 3, time.Second)

	_, err := tg.Tag(context.Background(), "cat.jpg", strings.NewReader("image-bytes"))
	assert.ErrorContains(t, err, "status 500")

	srv = newTaggingServer(t, http.StatusOK, `not json`)
	tg = NewTagger(srv.URL, "key", 0.4, 3, time.Second)

	_, err = tg.Tag(context.Background(), "cat.jpg", strings.NewReader("image-bytes"))
	assert.ErrorContains(t, err, "decode")
}
