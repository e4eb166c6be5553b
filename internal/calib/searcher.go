package calib

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"reducore/internal/core"
)

// ManifestSearcher answers calibration searches from a local YAML manifest
// instead of a network service. One entry per (dataset, caltype) pair:
//
//	calibrations:
//	  - dataset: N20120505S0123.fits
//	    caltype: processed_dark
//	    url: file:///cals/dark.fits
//	    md5: 9e107d9d372bb6826bd81d3542a419d6
type ManifestSearcher struct {
	entries map[manifestKey]Hit
}

var _ Searcher = (*ManifestSearcher)(nil)

type manifestKey struct {
	dataset string
	calType string
}

type manifestDoc struct {
	Calibrations []manifestEntry `yaml:"calibrations"`
}

type manifestEntry struct {
	Dataset string `yaml:"dataset"`
	CalType string `yaml:"caltype"`
	URL     string `yaml:"url"`
	MD5     string `yaml:"md5"`
}

// LoadManifest parses the manifest at path. Entries must carry dataset,
// caltype and url; a repeated (dataset, caltype) pair is an error.
func LoadManifest(path string) (*ManifestSearcher, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var doc manifestDoc
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	s := &ManifestSearcher{entries: make(map[manifestKey]Hit, len(doc.Calibrations))}
	for i, entry := range doc.Calibrations {
		if entry.Dataset == "" || entry.CalType == "" || entry.URL == "" {
			return nil, fmt.Errorf("%s: calibration entry %d missing dataset, caltype or url", path, i)
		}
		key := manifestKey{dataset: entry.Dataset, calType: entry.CalType}
		if _, dup := s.entries[key]; dup {
			return nil, fmt.Errorf("%s: duplicate calibration entry for %s/%s", path, entry.Dataset, entry.CalType)
		}
		s.entries[key] = Hit{URL: entry.URL, MD5: entry.MD5}
	}
	return s, nil
}

// Search looks the request up in the manifest.
func (s *ManifestSearcher) Search(ctx context.Context, rq core.CalibrationRequest) (Hit, bool, error) {
	if err := ctx.Err(); err != nil {
		return Hit{}, false, err
	}
	hit, ok := s.entries[manifestKey{dataset: rq.DatasetRef, calType: rq.CalType}]
	return hit, ok, nil
}

// Len reports the number of manifest entries.
func (s *ManifestSearcher) Len() int { return len(s.entries) }

// DefaultFetch retrieves file and http(s) URLs. Bare paths are treated as
// local files.
func DefaultFetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	switch u.Scheme {
	case "", "file":
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		return os.Open(p)
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: status %s", rawURL, resp.Status)
		}
		return resp.Body, nil
	default:
		return nil, fmt.Errorf("fetch %s: unsupported scheme %q", rawURL, u.Scheme)
	}
}
