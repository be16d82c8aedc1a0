// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"net/http"
	"net/url"

	"github.com/luxfi/netevent/logging"
)

// Options are the per-request settings of SendJSONRequest.
type Options struct {
	headers     http.Header
	queryParams url.Values
	logger      logging.Logger
}

// Option configures a JSON-RPC request
type Option func(*Options)

// NewOptions applies ops over empty headers and query parameters.
func NewOptions(ops []Option) *Options {
	o := &Options{
		headers:     http.Header{},
		queryParams: url.Values{},
	}
	for _, op := range ops {
		op(o)
	}
	o.logger = logging.Ensure(o.logger)
	return o
}

// Headers returns the request headers.
func (o *Options) Headers() http.Header { return o.headers }

// QueryParams returns the request query parameters.
func (o *Options) QueryParams() url.Values { return o.queryParams }

func WithHeader(key, val string) Option {
	return func(o *Options) {
		o.headers.Set(key, val)
	}
}

func WithQueryParam(key, val string) Option {
	return func(o *Options) {
		o.queryParams.Set(key, val)
	}
}

// WithRequestLogger logs retries of the request.
func WithRequestLogger(l logging.Logger) Option {
	return func(o *Options) {
		o.logger = l
	}
}
