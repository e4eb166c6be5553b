// Package calib resolves calibration requests. A request names a dataset and
// a calibration type; a Searcher (external transport, injected) answers with
// a retrieval URL and an MD5 checksum, and the Manager caches the retrieved
// file in a blob store so repeat reductions skip the download. A cached copy
// whose checksum no longer matches the reported one is fetched again.
package calib

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"

	"reducore/internal/blob"
	"reducore/internal/core"
)

// Hit is a successful search answer: where to retrieve the calibration file
// and the checksum the service reports for it.
type Hit struct {
	URL string
	MD5 string
}

// Searcher locates a calibration for one request. The second return is false
// when the service has no match; errors are reserved for transport failure.
type Searcher interface {
	Search(ctx context.Context, rq core.CalibrationRequest) (Hit, bool, error)
}

// FetchFunc retrieves the body behind a search hit URL.
type FetchFunc func(ctx context.Context, rawURL string) (io.ReadCloser, error)

// Status classifies how one request was resolved.
type Status string

const (
	// StatusCached means a cache entry with a matching checksum was reused.
	StatusCached Status = "cached"
	// StatusFetched means the file was downloaded and cached.
	StatusFetched Status = "fetched"
	// StatusMissing means the search service had no match.
	StatusMissing Status = "missing"
)

// Resolution reports the outcome for one calibration request. Ref is the
// cache key of the stored file for cached/fetched outcomes.
type Resolution struct {
	Request core.CalibrationRequest
	Status  Status
	Ref     string
	Message string
}

// Manager drives request resolution against a Searcher and a blob cache.
type Manager struct {
	search Searcher
	fetch  FetchFunc
	cache  blob.Store
}

// Option configures a Manager.
type Option func(*Manager)

// WithFetch overrides the retrieval transport (tests use this to avoid
// network and filesystem access).
func WithFetch(fn FetchFunc) Option {
	return func(m *Manager) { m.fetch = fn }
}

// NewManager builds a Manager over the given search transport and cache.
func NewManager(search Searcher, cache blob.Store, opts ...Option) *Manager {
	m := &Manager{search: search, fetch: DefaultFetch, cache: cache}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Process resolves each request in order. Missing calibrations produce a
// StatusMissing resolution and processing continues; transport failures,
// checksum mismatches on download, and cache errors abort, returning the
// resolutions collected so far alongside the error.
func (m *Manager) Process(ctx context.Context, rqs []core.CalibrationRequest) ([]Resolution, error) {
	var out []Resolution
	for _, rq := range rqs {
		hit, ok, err := m.search.Search(ctx, rq)
		if err != nil {
			return out, fmt.Errorf("calibration search %s/%s: %w", rq.DatasetRef, rq.CalType, err)
		}
		if !ok {
			out = append(out, Resolution{
				Request: rq,
				Status:  StatusMissing,
				Message: fmt.Sprintf("no %s calibration found for %s", rq.CalType, rq.DatasetRef),
			})
			continue
		}
		key := cacheKey(rq.CalType, hit.URL)
		info, err := m.cache.Head(ctx, key)
		if err == nil && hit.MD5 != "" && info.Metadata["md5"] == hit.MD5 {
			out = append(out, Resolution{Request: rq, Status: StatusCached, Ref: key})
			continue
		}
		if err != nil && !errors.Is(err, blob.ErrNotFound) {
			return out, fmt.Errorf("calibration cache %s: %w", key, err)
		}
		res, err := m.fetchAndStore(ctx, key, hit)
		if err != nil {
			return out, err
		}
		res.Request = rq
		out = append(out, res)
	}
	return out, nil
}

// ProcessContext drains the context's pending request queue, resolves it, and
// records each located calibration back on the context so primitives can pick
// it up through Calibration and CalibrationFiles.
func (m *Manager) ProcessContext(ctx context.Context, rc *core.ExecutionContext) ([]Resolution, error) {
	out, err := m.Process(ctx, rc.TakeCalibrationRequests())
	for _, res := range out {
		if res.Status == StatusMissing {
			continue
		}
		rc.RecordCalibration(res.Request.DatasetRef, res.Request.CalType, res.Ref)
	}
	return out, err
}

// RequestsForDatasets builds one request per dataset for the given
// calibration type, carrying the dataset's applicable types so the search
// service can select by classification.
func RequestsForDatasets(datasets []core.Dataset, calType string) []core.CalibrationRequest {
	rqs := make([]core.CalibrationRequest, 0, len(datasets))
	for _, ds := range datasets {
		rqs = append(rqs, core.CalibrationRequest{
			DatasetRef: ds.Name(),
			CalType:    calType,
			Types:      ds.ApplicableTypes(),
		})
	}
	return rqs
}

func (m *Manager) fetchAndStore(ctx context.Context, key string, hit Hit) (Resolution, error) {
	body, err := m.fetch(ctx, hit.URL)
	if err != nil {
		return Resolution{}, fmt.Errorf("retrieve %s: %w", hit.URL, err)
	}
	data, err := io.ReadAll(body)
	closeErr := body.Close()
	if err != nil {
		return Resolution{}, fmt.Errorf("retrieve %s: %w", hit.URL, err)
	}
	if closeErr != nil {
		return Resolution{}, fmt.Errorf("retrieve %s: %w", hit.URL, closeErr)
	}
	sum := fmt.Sprintf("%x", md5.Sum(data))
	if hit.MD5 != "" && sum != hit.MD5 {
		return Resolution{}, fmt.Errorf("md5 mismatch for %s: got %s want %s", key, sum, hit.MD5)
	}
	_, err = m.cache.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/fits",
		Metadata:    map[string]string{"md5": sum},
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("calibration cache %s: %w", key, err)
	}
	return Resolution{Status: StatusFetched, Ref: key}, nil
}

// cacheKey derives the blob key for a retrieved calibration: the calibration
// type as directory, the URL's base name as file name.
func cacheKey(calType, rawURL string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		name = u.Path
	}
	return path.Join(calType, path.Base(name))
}
