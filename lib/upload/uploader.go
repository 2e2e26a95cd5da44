// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Uploader sends one batch and classifies the result. It must not
// retry internally or modify storage.
type Uploader interface {
	Upload(ctx context.Context, requestContext RequestContext, batch [][]byte, metadata []byte) Status
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, requestContext RequestContext, batch [][]byte, metadata []byte) Status

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, requestContext RequestContext, batch [][]byte, metadata []byte) Status {
	return f(ctx, requestContext, batch, metadata)
}

// DefaultTimeout bounds a single upload when the HTTP client has no
// timeout of its own.
const DefaultTimeout = 30 * time.Second

// HTTPUploader posts batches built by a RequestFactory.
type HTTPUploader struct {
	client  *http.Client
	factory RequestFactory
	logger  *slog.Logger
}

// NewHTTPUploader returns an uploader using client (or a client with
// DefaultTimeout when nil).
func NewHTTPUploader(client *http.Client, factory RequestFactory, logger *slog.Logger) (*HTTPUploader, error) {
	if factory == nil {
		return nil, errors.New("upload: request factory is required")
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPUploader{client: client, factory: factory, logger: logger}, nil
}

// Upload implements Uploader.
func (u *HTTPUploader) Upload(ctx context.Context, requestContext RequestContext, batch [][]byte, metadata []byte) Status {
	request, err := u.factory.Create(requestContext, batch, metadata)
	if err != nil {
		u.logger.Error("building upload request failed", "error", err)
		return requestCreationFailure(err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, request.URL, bytes.NewReader(request.Body))
	if err != nil {
		u.logger.Error("building upload request failed", "error", err)
		return requestCreationFailure(err)
	}
	for name, value := range request.Headers {
		httpRequest.Header.Set(name, value)
	}
	if request.ContentType != "" {
		httpRequest.Header.Set("Content-Type", request.ContentType)
	}
	if request.ContentEncoding != "" {
		httpRequest.Header.Set("Content-Encoding", request.ContentEncoding)
	}

	response, err := u.client.Do(httpRequest)
	if err != nil {
		status := StatusFromError(err)
		u.logger.Warn("upload failed", "request", request.Description, "request_id", request.ID, "reason", status.Reason, "error", err)
		return status
	}
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(response.Body, 64*1024))
	response.Body.Close()

	status := StatusFromCode(response.StatusCode)
	switch status.Outcome {
	case Success:
		u.logger.Debug("upload accepted", "request", request.Description, "request_id", request.ID, "status", response.StatusCode)
	default:
		u.logger.Warn("upload rejected", "request", request.Description, "request_id", request.ID,
			"status", response.StatusCode, "reason", status.Reason, "retryable", status.Retryable())
	}
	return status
}
