package audiostore

import (
	"context"
	"testing"

	"github.com/matryer/is"
)

func TestDisk_PutReturnsServableURL(t *testing.T) {
	is := is.New(t)
	store := NewDisk(t.TempDir(), "/audio/")

	url, err := store.Put(context.Background(), "v1/abc123.mp3", []byte("mp3-bytes"))
	is.NoErr(err)
	is.Equal(url, "/audio/v1/abc123.mp3")
}

func TestDisk_PutThenGetRoundTrips(t *testing.T) {
	is := is.New(t)
	store := NewDisk(t.TempDir(), "")

	url, err := store.Put(context.Background(), "abc.mp3", []byte("payload"))
	is.NoErr(err)

	data, err := store.Get(context.Background(), url)
	is.NoErr(err)
	is.Equal(string(data), "payload")
}

func TestDisk_PutIsIdempotent(t *testing.T) {
	is := is.New(t)
	store := NewDisk(t.TempDir(), "")

	first, err := store.Put(context.Background(), "same.mp3", []byte("one"))
	is.NoErr(err)
	second, err := store.Put(context.Background(), "same.mp3", []byte("two"))
	is.NoErr(err)
	is.Equal(first, second) // retried puts overwrite, same URL

	data, err := store.Get(context.Background(), second)
	is.NoErr(err)
	is.Equal(string(data), "two")
}

func TestDisk_RejectsEmptyPath(t *testing.T) {
	is := is.New(t)
	store := NewDisk(t.TempDir(), "")

	_, err := store.Put(context.Background(), "", []byte("x"))
	is.True(err != nil)
}

func TestDisk_TraversalStaysInsideRoot(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	store := NewDisk(dir, "")

	// A traversal path is cleaned into the root rather than escaping it.
	url, err := store.Put(context.Background(), "../../etc/evil.mp3", []byte("x"))
	is.NoErr(err)

	data, err := store.Get(context.Background(), url)
	is.NoErr(err)
	is.Equal(string(data), "x")
}
