// Package http builds echo contexts for calling handlers directly in tests.
package http

import (
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/labstack/echo/v4"
)

type RequestOption func(req *http.Request)

// WithHeader adds values to the header key.
func WithHeader(key string, value string, values ...string) RequestOption {
	return func(req *http.Request) {
		for _, v := range append([]string{value}, values...) {
			req.Header.Add(key, v)
		}
	}
}

func ContentType(ctyp string) RequestOption {
	return WithHeader(echo.HeaderContentType, ctyp)
}

// Request makes a context for the request, and the recorder capturing its response.
func Request(
	e *echo.Echo, method string, target string, body io.Reader, reqopts ...RequestOption,
) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, body)
	for _, opt := range reqopts {
		opt(req)
	}
	resp := httptest.NewRecorder()
	return e.NewContext(req, resp), resp
}

func Get(e *echo.Echo, target string, reqopts ...RequestOption) (echo.Context, *httptest.ResponseRecorder) {
	return Request(e, http.MethodGet, target, nil, reqopts...)
}

func Post(e *echo.Echo, target string, body io.Reader, reqopts ...RequestOption) (echo.Context, *httptest.ResponseRecorder) {
	return Request(e, http.MethodPost, target, body, reqopts...)
}

func Put(e *echo.Echo, target string, body io.Reader, reqopts ...RequestOption) (echo.Context, *httptest.ResponseRecorder) {
	return Request(e, http.MethodPut, target, body, reqopts...)
}
