package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/serroba/datafactory/internal/egress"
	"gopkg.in/yaml.v3"
)

const keyPlaceholder = "{key}"

// HTTPSourceConfig declares a JSON-over-HTTP source.
type HTTPSourceConfig struct {
	Name     string        `yaml:"name"`
	Service  string        `yaml:"service"`
	Interval time.Duration `yaml:"interval"`
	URL      string        `yaml:"url"`
	// KeyParam adds the credential key as a query parameter.
	KeyParam string `yaml:"key_param"`
	// KeyHeader sends the credential key in a request header.
	KeyHeader string            `yaml:"key_header"`
	Timeout   time.Duration     `yaml:"timeout"`
	Fields    map[string]string `yaml:"fields"`
}

type sourcesFile struct {
	Sources []HTTPSourceConfig `yaml:"sources"`
}

// LoadSources decodes a YAML document with a top-level "sources" list.
func LoadSources(r io.Reader) ([]*HTTPSource, error) {
	var file sourcesFile

	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}

		return nil, fmt.Errorf("decode sources: %w", err)
	}

	sources := make([]*HTTPSource, 0, len(file.Sources))
	seen := make(map[string]bool, len(file.Sources))

	for _, cfg := range file.Sources {
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate source %q", cfg.Name)
		}

		seen[cfg.Name] = true

		src, err := NewHTTPSource(cfg)
		if err != nil {
			return nil, err
		}

		sources = append(sources, src)
	}

	return sources, nil
}

// HTTPSource fetches a JSON document and extracts numeric fields from it by
// dotted path, e.g. "observations.0.value".
type HTTPSource struct {
	cfg HTTPSourceConfig
}

// NewHTTPSource validates cfg.
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	switch {
	case cfg.Name == "":
		return nil, fmt.Errorf("source without name")
	case cfg.URL == "":
		return nil, fmt.Errorf("source %s: empty url", cfg.Name)
	case cfg.Interval <= 0:
		return nil, fmt.Errorf("source %s: interval must be positive", cfg.Name)
	case len(cfg.Fields) == 0:
		return nil, fmt.Errorf("source %s: no fields", cfg.Name)
	}

	if _, err := url.Parse(strings.ReplaceAll(cfg.URL, keyPlaceholder, "k")); err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
	}

	return &HTTPSource{cfg: cfg}, nil
}

func (s *HTTPSource) Name() string            { return s.cfg.Name }
func (s *HTTPSource) Service() string         { return s.cfg.Service }
func (s *HTTPSource) Interval() time.Duration { return s.cfg.Interval }

func (s *HTTPSource) Collect(ctx context.Context, call Call) (Fields, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)

		defer cancel()
	}

	req, err := s.newRequest(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", egress.ErrNotSent, err)
	}

	client := call.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, &StatusError{Code: resp.StatusCode}
	}

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", s.cfg.Name, err)
	}

	fields := make(Fields, len(s.cfg.Fields))

	for column, path := range s.cfg.Fields {
		if v, ok := lookupNumber(doc, path); ok {
			fields[column] = v
		}
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", s.cfg.Name, ErrNoData)
	}

	return fields, nil
}

func (s *HTTPSource) newRequest(ctx context.Context, call Call) (*http.Request, error) {
	key := call.Credential.Key
	raw := strings.ReplaceAll(s.cfg.URL, keyPlaceholder, url.QueryEscape(key))

	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	if s.cfg.KeyParam != "" && key != "" {
		q := u.Query()
		q.Set(s.cfg.KeyParam, key)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")

	if s.cfg.KeyHeader != "" && key != "" {
		req.Header.Set(s.cfg.KeyHeader, key)
	}

	return req, nil
}

// lookupNumber walks doc along a dotted path. Numeric segments index arrays.
// Leaves may be JSON numbers or numeric strings.
func lookupNumber(doc any, path string) (float64, bool) {
	cur := doc

	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return 0, false
			}

			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil {
				return 0, false
			}

			if i < 0 {
				i += len(node)
			}

			if i < 0 || i >= len(node) {
				return 0, false
			}

			cur = node[i]
		default:
			return 0, false
		}
	}

	var f float64

	switch v := cur.(type) {
	case float64:
		f = v
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}

	// Rows are persisted as JSON, which has no NaN or Inf.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}
