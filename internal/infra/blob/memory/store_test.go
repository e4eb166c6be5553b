package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"reducore/internal/blob/core"
)

func TestStore_PutGetHeadListDelete(t *testing.T) { //nolint:cyclop
	ctx := context.Background()
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	info, err := store.Put(ctx, "processed_dark/dark.fits", bytes.NewReader([]byte("FITSDATA")), core.PutOptions{
		ContentType: "application/fits",
		Metadata:    map[string]string{"md5": "abc123"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "processed_dark/dark.fits" || info.Size != 8 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	h, err := store.Head(ctx, "processed_dark/dark.fits")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if h.Metadata["md5"] != "abc123" {
		t.Fatalf("metadata lost: %+v", h)
	}
	g, rc, err := store.Get(ctx, "processed_dark/dark.fits")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "FITSDATA" || g.ETag != h.ETag {
		t.Fatalf("unexpected get artifacts")
	}
	if _, err := store.Put(ctx, "processed_flat/flat.fits", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	list, err := store.List(ctx, "processed_dark/")
	if err != nil || len(list) != 1 || list[0].Key != "processed_dark/dark.fits" {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 2 || all[0].Key > all[1].Key {
		t.Fatalf("unexpected full list %+v err=%v", all, err)
	}
	ok, err := store.Delete(ctx, "processed_dark/dark.fits")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "processed_dark/dark.fits")
	if err != nil || ok {
		t.Fatalf("second delete should be false")
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "dark.fits", bytes.NewReader([]byte("stale")), core.PutOptions{Metadata: map[string]string{"md5": "old"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "dark.fits", bytes.NewReader([]byte("fresh!")), core.PutOptions{Metadata: map[string]string{"md5": "new"}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	h, err := store.Head(ctx, "dark.fits")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if h.Size != 6 || h.Metadata["md5"] != "new" {
		t.Fatalf("overwrite must replace payload state: %+v", h)
	}
}

func TestStore_MissingKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Head(ctx, "absent.fits"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "absent.fits"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
}

func TestStore_PresignUnsupported(t *testing.T) {
	store := New()
	if _, err := store.PresignURL(context.Background(), "dark.fits", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestStore_GetHandsOutCopies(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "dark.fits", bytes.NewReader([]byte("data")), core.PutOptions{Metadata: map[string]string{"md5": "abc"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	h, err := store.Head(ctx, "dark.fits")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	h.Metadata["md5"] = "clobbered"
	again, err := store.Head(ctx, "dark.fits")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if again.Metadata["md5"] != "abc" {
		t.Fatalf("store metadata leaked through a returned info: %+v", again)
	}
}
