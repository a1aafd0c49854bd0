package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"norelock.dev/listenify/providerhost/internal/models"
)

// InstallFromURL fetches provider source over HTTP and installs it with
// the URL as its source path.
func (r *Registry) InstallFromURL(ctx context.Context, rawURL string, opts InstallOptions) InstallResult {
	source, err := r.fetchSource(ctx, rawURL)
	if err != nil {
		r.logger.Warn("Failed to fetch provider source", "url", rawURL, "error", err)
		r.metrics.RecordInstall(OutcomeFailed)
		return InstallResult{
			Message: fmt.Sprintf("failed to fetch provider source: %v", err),
			Err:     fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err),
		}
	}
	return r.Install(ctx, source, rawURL, opts)
}

func (r *Registry) fetchSource(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSourceSize+1))
	if err != nil {
		return "", err
	}
	if int64(len(body)) > r.maxSourceSize {
		return "", fmt.Errorf("source exceeds %d bytes", r.maxSourceSize)
	}
	return string(body), nil
}
