package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Source yields the raw bytes of the current contract.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	Describe() string
}

// FileSource reads the contract from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(context.Context) ([]byte, error) { return os.ReadFile(s.Path) }

func (s FileSource) Describe() string { return s.Path }

// HTTPSource fetches the contract from a running service.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

const maxContractBytes = 32 << 20

func (s HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxContractBytes))
}

func (s HTTPSource) Describe() string { return s.URL }
