// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Header names sent with every upload.
const (
	HeaderAPIKey        = "DD-API-KEY"
	HeaderOrigin        = "DD-EVP-ORIGIN"
	HeaderOriginVersion = "DD-EVP-ORIGIN-VERSION"
	HeaderRequestID     = "DD-REQUEST-ID"
)

// RequestContext is the snapshot of SDK state an upload needs. The
// scheduler takes a fresh one for every attempt.
type RequestContext struct {
	// Site is the intake base URL, e.g. "https://browser-intake-datadoghq.com".
	Site        string
	ClientToken string

	Service string
	Env     string
	Version string

	// Source is reported as ddsource, "go" by default.
	Source     string
	SDKVersion string

	// ApplicationID identifies the RUM application, if any.
	ApplicationID string

	// Attributes are device, network and user properties added to
	// the RUM ddtags query parameter as key:value pairs.
	Attributes map[string]string
}

// Request is a fully built upload, ready to send.
type Request struct {
	ID          string
	Description string
	URL         string
	Headers     map[string]string
	Body        []byte
	ContentType string

	// ContentEncoding is "gzip" when Body is compressed.
	ContentEncoding string
}

// RequestFactory builds the request for one batch.
type RequestFactory interface {
	Create(requestContext RequestContext, batch [][]byte, metadata []byte) (*Request, error)
}

// FramedRequestFactory joins events with a prefix, separator and
// suffix and posts them to a fixed path. It covers both the JSON
// array framing of logs and the newline framing of RUM.
type FramedRequestFactory struct {
	// Track names the feature in request descriptions.
	Track string

	// Path is appended to RequestContext.Site.
	Path string

	// Query returns extra query parameters for the request URL.
	Query func(RequestContext) url.Values

	Prefix, Separator, Suffix []byte
	ContentType               string

	// Compress gzips the body.
	Compress bool

	// UserAgent is sent verbatim.
	UserAgent string
}

// Create implements RequestFactory.
func (f *FramedRequestFactory) Create(requestContext RequestContext, batch [][]byte, metadata []byte) (*Request, error) {
	if requestContext.Site == "" {
		return nil, errors.New("request context has no site")
	}
	if requestContext.ClientToken == "" {
		return nil, errors.New("request context has no client token")
	}
	base, err := url.Parse(strings.TrimRight(requestContext.Site, "/") + f.Path)
	if err != nil {
		return nil, fmt.Errorf("parsing intake URL: %w", err)
	}
	if f.Query != nil {
		base.RawQuery = f.Query(requestContext).Encode()
	}

	body := frame(batch, f.Prefix, f.Separator, f.Suffix)
	encoding := ""
	if f.Compress {
		compressed, err := gzipBody(body)
		if err != nil {
			return nil, err
		}
		body, encoding = compressed, "gzip"
	}

	id := uuid.NewString()
	origin := requestContext.Source
	if origin == "" {
		origin = "go"
	}
	headers := map[string]string{
		HeaderAPIKey:        requestContext.ClientToken,
		HeaderOrigin:        origin,
		HeaderOriginVersion: requestContext.SDKVersion,
		HeaderRequestID:     id,
	}
	if f.UserAgent != "" {
		headers["User-Agent"] = f.UserAgent
	}
	return &Request{
		ID:              id,
		Description:     fmt.Sprintf("%s request (%d events)", f.Track, len(batch)),
		URL:             base.String(),
		Headers:         headers,
		Body:            body,
		ContentType:     f.ContentType,
		ContentEncoding: encoding,
	}, nil
}

func frame(batch [][]byte, prefix, separator, suffix []byte) []byte {
	size := len(prefix) + len(suffix)
	for i, event := range batch {
		if i > 0 {
			size += len(separator)
		}
		size += len(event)
	}
	var buffer bytes.Buffer
	buffer.Grow(size)
	buffer.Write(prefix)
	for i, event := range batch {
		if i > 0 {
			buffer.Write(separator)
		}
		buffer.Write(event)
	}
	buffer.Write(suffix)
	return buffer.Bytes()
}

func gzipBody(body []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write(body); err != nil {
		return nil, fmt.Errorf("compressing request body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("compressing request body: %w", err)
	}
	return buffer.Bytes(), nil
}

// LogsRequestFactory posts events as a JSON array to /api/v2/logs.
func LogsRequestFactory(userAgent string) *FramedRequestFactory {
	return &FramedRequestFactory{
		Track:       "logs",
		Path:        "/api/v2/logs",
		Query:       sourceQuery,
		Prefix:      []byte("["),
		Separator:   []byte(","),
		Suffix:      []byte("]"),
		ContentType: "application/json",
		Compress:    true,
		UserAgent:   userAgent,
	}
}

// RUMRequestFactory posts newline-separated events to /api/v2/rum
// with the service tags in ddtags.
func RUMRequestFactory(userAgent string) *FramedRequestFactory {
	return &FramedRequestFactory{
		Track:       "rum",
		Path:        "/api/v2/rum",
		Query:       rumQuery,
		Separator:   []byte("\n"),
		ContentType: "text/plain;charset=UTF-8",
		Compress:    true,
		UserAgent:   userAgent,
	}
}

// CrashRequestFactory is the RUM framing without compression, so a
// crash report can be sent from a process that is about to exit.
func CrashRequestFactory(userAgent string) *FramedRequestFactory {
	factory := RUMRequestFactory(userAgent)
	factory.Track = "crash"
	factory.Compress = false
	return factory
}

func sourceQuery(requestContext RequestContext) url.Values {
	source := requestContext.Source
	if source == "" {
		source = "go"
	}
	return url.Values{"ddsource": {source}}
}

func rumQuery(requestContext RequestContext) url.Values {
	values := sourceQuery(requestContext)
	tags := []string{
		"service:" + requestContext.Service,
		"version:" + requestContext.Version,
		"sdk_version:" + requestContext.SDKVersion,
		"env:" + requestContext.Env,
	}
	for _, key := range slices.Sorted(maps.Keys(requestContext.Attributes)) {
		tags = append(tags, key+":"+requestContext.Attributes[key])
	}
	values.Set("ddtags", strings.Join(tags, ","))
	if requestContext.ApplicationID != "" {
		values.Set("dd-evp-application-id", requestContext.ApplicationID)
	}
	return values
}
