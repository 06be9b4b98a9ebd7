package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mush-sh/mush/internal/model"
)

// sinks returns the configured output sinks, stdout when none is configured.
func sinks(_ context.Context, cfg model.Service) ([]model.Sink, error) {
	upload := cfg.Upload != nil && cfg.Upload.Enabled
	if cfg.Dir == nil && !upload {
		return []model.Sink{NewWriteSink(os.Stdout)}, nil
	}
	var ret []model.Sink
	if cfg.Dir != nil {
		s, err := NewDirSink(*cfg.Dir)
		if err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}
	if upload {
		s, err := NewHTTPSink(cfg.Upload.URL)
		if err != nil {
			closeSinks(context.Background(), ret)
			return nil, err
		}
		ret = append(ret, s)
	}
	return ret, nil
}

func closeSinks(ctx context.Context, sinks []model.Sink) {
	for _, s := range sinks {
		if closer, ok := s.(model.SinkCloser); ok {
			if err := closer.Close(); err != nil {
				slog.ErrorContext(ctx, "closing sink have failed", "error", err)
			}
		}
	}
}

// WriteSink copies the output into a writer.
type WriteSink struct {
	w io.Writer
}

func NewWriteSink(w io.Writer) WriteSink {
	return WriteSink{w: w}
}

func (s WriteSink) Store(_ context.Context, _ string, output []byte) error {
	if s.w == nil {
		s.w = os.Stdout
	}
	_, err := s.w.Write(output)
	return err
}

// DirSink writes each output into a new file of a directory. Paths never
// escape the directory.
type DirSink struct {
	root *os.Root
	now  func() time.Time
}

func NewDirSink(path string) (*DirSink, error) {
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &DirSink{root: root, now: time.Now}, nil
}

func (s *DirSink) Store(ctx context.Context, name string, output []byte) error {
	if s.root == nil {
		return errors.New("sink already closed")
	}

	path := name + "-" + s.now().Format("2006-01-02-15-04-05.000000") + ".out"
	f, err := s.root.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	_, err = f.Write(output)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving output: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	slog.InfoContext(ctx, "output saved", "path", path, "size", len(output))
	return nil
}

func (s *DirSink) Close() error {
	if s.root == nil {
		return errors.New("sink already closed")
	}
	err := s.root.Close()
	s.root = nil
	return err
}

const outputPath = "api/v1/outputs"

// HTTPSink posts each output to <server>/api/v1/outputs/<name>.
type HTTPSink struct {
	base   *url.URL
	client *http.Client
}

func NewHTTPSink(serverURL string) (*HTTPSink, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if u.Scheme == "" || u.Host == "" || u.Path != "" {
		return nil, errors.New("please define the server url with a scheme and without path, e.g. `http://some-url.com`")
	}
	return &HTTPSink{
		base:   u,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *HTTPSink) Store(ctx context.Context, name string, output []byte) error {
	target := s.base.JoinPath(outputPath, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(output))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	created, err := decodeStoreResponse(resp)
	if err != nil {
		return fmt.Errorf("uploading output of %s: %w", name, err)
	}
	slog.DebugContext(ctx, "output uploaded", "pipeline", name, "id", created.ID)
	return nil
}

type storeResponse struct {
	ID string `json:"id"`
}

func decodeStoreResponse(resp *http.Response) (storeResponse, error) {
	switch resp.StatusCode {
	case http.StatusCreated:
		var sr storeResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return storeResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		if sr.ID == "" {
			return storeResponse{}, errors.New("received unexpected body")
		}
		return sr, nil
	case http.StatusBadRequest, http.StatusConflict, http.StatusRequestEntityTooLarge:
		contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if err != nil {
			return storeResponse{}, fmt.Errorf("failed to parse response content type header: %w", err)
		}
		if contentType != "application/problem+json" {
			return storeResponse{}, fmt.Errorf("expected `application/problem+json` content type, got: %s", contentType)
		}
		var problem struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problem); err != nil {
			return storeResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		return storeResponse{}, fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problem.Detail)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return storeResponse{}, err
	}
	return storeResponse{}, fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(body))
}
