// Copyright 2024 The morph authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package morph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const userAgent = "morph/" + Version

const Version = "0.3.0"

const (
	DefaultScheme = "https"
	DefaultPort   = "443"
)

// requests per second against the remote catalog when none is configured
const defaultRateLimit = 10

type ClientOptions struct {
	Config
	HTTPClient *http.Client

	// RateLimit throttles outbound requests, in requests per second.
	RateLimit float64
}

func NewClientOptions(cfg *Config) *ClientOptions {
	return &ClientOptions{Config: *cfg}
}

// Client talks to a remote versioned catalog server over HTTP. It implements
// Backend: the planner uses it to materialize expressions and the evolution
// context uses it to apply committed intents.
type Client struct {
	Scheme     string
	Host       string
	Port       string
	CatalogID  string
	Token      string
	HttpClient *http.Client
	limiter    *rate.Limiter
}

var _ Backend = (*Client)(nil)

func NewClient(opts *ClientOptions) *Client {
	if opts == nil {
		opts = &ClientOptions{}
	}
	scheme := opts.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}
	port := opts.Port
	if port == "" {
		port = DefaultPort
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	return &Client{
		Scheme:     scheme,
		Host:       opts.Host,
		Port:       port,
		CatalogID:  opts.Catalog,
		Token:      opts.Token,
		HttpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(limit), 1),
	}
}

// NewClientFromConfig returns a client using settings from the named profile
// of the default config file.
func NewClientFromConfig(profile string) (*Client, error) {
	var cfg Config
	if err := LoadConfigProfile(profile, &cfg); err != nil {
		return nil, err
	}
	return NewClient(NewClientOptions(&cfg)), nil
}

func NewDefaultClient() (*Client, error) {
	return NewClientFromConfig(DefaultConfigProfile)
}

// Url returns a fully qualified URL for the given catalog-relative path.
func (c *Client) Url(path string) string {
	return fmt.Sprintf("%s://%s:%s/catalog/%s%s", c.Scheme, c.Host, c.Port, url.PathEscape(c.CatalogID), path)
}

func (c *Client) ensureHeaders(req *http.Request) {
	if v := req.Header.Get("accept"); v == "" {
		req.Header.Set("Accept", "application/json")
	}
	if v := req.Header.Get("content-type"); v == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if v := req.Header.Get("user-agent"); v == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, args url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.Url(path), body)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		req.URL.RawQuery = args.Encode()
	}
	return req, nil
}

// Do executes the given request and returns the response, converting error
// statuses into an HTTPError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	rsp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if isErrorStatus(rsp) {
		defer rsp.Body.Close()
		return nil, httpError(rsp)
	}
	return rsp, nil
}

func marshal(item interface{}) (io.Reader, error) {
	if item == nil {
		return nil, nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	return strings.NewReader(string(data)), nil
}

func unmarshal(rsp *http.Response, result interface{}) error {
	if result == nil {
		return nil
	}
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, result)
}

// request constructs, executes, and unmarshals a catalog request.
func (c *Client) request(ctx context.Context, method, path string, args url.Values, data, result interface{}) error {
	body, err := marshal(data)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, method, path, args, body)
	if err != nil {
		return err
	}
	c.ensureHeaders(req)
	rsp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	return unmarshal(rsp, result)
}

type HTTPError struct {
	StatusCode int
	Headers    http.Header
	Body       string
}

func (e HTTPError) Error() string {
	statusText := http.StatusText(e.StatusCode)
	if e.Body != "" {
		return fmt.Sprintf("%d %s\n%s", e.StatusCode, statusText, e.Body)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, statusText)
}

func newHTTPError(status int, headers http.Header, body string) error {
	return HTTPError{StatusCode: status, Headers: headers, Body: body}
}

var ErrNotFound = newHTTPError(http.StatusNotFound, nil, "")

func httpError(rsp *http.Response) error {
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		data = []byte{}
	}
	return newHTTPError(rsp.StatusCode, rsp.Header, string(data))
}

func isErrorStatus(rsp *http.Response) bool {
	return rsp.StatusCode < 200 || rsp.StatusCode > 299
}

//
// Catalog APIs
//

const (
	PathSchema         = "/schema"
	PathEntity         = "/entity"
	PathAttributeGroup = "/attributegroup"
)

func tablePath(schema, table string) string {
	return PathSchema + "/" + url.PathEscape(schema) + "/table/" + url.PathEscape(table)
}

func entityPath(schema, table string) string {
	return PathEntity + "/" + url.PathEscape(schema) + ":" + url.PathEscape(table)
}

// Model returns the catalog's current model snapshot.
func (c *Client) Model(ctx context.Context) (*ModelDoc, error) {
	var doc ModelDoc
	if err := c.request(ctx, http.MethodGet, PathSchema, nil, nil, &doc); err != nil {
		return nil, remoteError("get model", err)
	}
	return &doc, nil
}

// Fetch returns rows of an extant table, all of them when limit <= 0.
func (c *Client) Fetch(ctx context.Context, ref TableRef, limit int) ([]Row, error) {
	args := url.Values{}
	if limit > 0 {
		args.Add("limit", strconv.Itoa(limit))
	}
	var rows []Row
	if err := c.request(ctx, http.MethodGet, entityPath(ref.Schema, ref.Table), args, nil, &rows); err != nil {
		return nil, remoteError(fmt.Sprintf("fetch %s", ref), err)
	}
	return rows, nil
}

// FetchDistinct returns the distinct non-null values of a column. The server
// computes the projection; only the value set crosses the wire.
func (c *Client) FetchDistinct(ctx context.Context, ref ColumnRef) ([]string, error) {
	path := PathAttributeGroup + "/" + url.PathEscape(ref.Schema) + ":" + url.PathEscape(ref.Table) + "/" + url.PathEscape(ref.Column)
	var rows []Row
	if err := c.request(ctx, http.MethodGet, path, nil, nil, &rows); err != nil {
		return nil, remoteError(fmt.Sprintf("fetch distinct %s", ref), err)
	}
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if v := row[ref.Column]; v != nil {
			values = append(values, stringValue(v))
		}
	}
	return values, nil
}

// Apply executes a single mutation intent against the remote catalog.
func (c *Client) Apply(ctx context.Context, intent Intent) error {
	var err error
	switch in := intent.(type) {
	case *CreateSchema:
		err = c.request(ctx, http.MethodPost, PathSchema, nil, in, nil)
	case *CreateTable:
		err = c.request(ctx, http.MethodPost, PathSchema+"/"+url.PathEscape(in.Schema)+"/table", nil, in.Def, nil)
	case *CreateTableAs:
		err = c.applyCreateTableAs(ctx, in)
	case *DropTable:
		err = c.request(ctx, http.MethodDelete, tablePath(in.Schema, in.Table), nil, nil, nil)
	case *RenameTable:
		err = c.request(ctx, http.MethodPut, tablePath(in.Schema, in.Old)+"/name", nil, map[string]string{"table_name": in.New}, nil)
	case *MoveTable:
		err = c.request(ctx, http.MethodPut, tablePath(in.Schema, in.Table)+"/schema_name", nil, map[string]string{"schema_name": in.NewSchema}, nil)
	case *AddColumn:
		err = c.request(ctx, http.MethodPost, tablePath(in.Schema, in.Table)+"/column", nil, in.Def, nil)
	case *DropColumn:
		err = c.request(ctx, http.MethodDelete, tablePath(in.Schema, in.Table)+"/column/"+url.PathEscape(in.Column), nil, nil, nil)
	case *RenameColumn:
		err = c.request(ctx, http.MethodPut, tablePath(in.Schema, in.Table)+"/column/"+url.PathEscape(in.Old)+"/name", nil, map[string]string{"name": in.New}, nil)
	default:
		return errors.Errorf("unknown intent %T", intent)
	}
	return remoteError(intent.Describe(), err)
}

// applyCreateTableAs creates the resolved table, then bulk inserts its
// materialized rows.
func (c *Client) applyCreateTableAs(ctx context.Context, in *CreateTableAs) error {
	def, rows := in.Resolved()
	if def == nil {
		return errors.Errorf("relation for '%s:%s' has not been resolved", in.Schema, in.Table)
	}
	if err := c.request(ctx, http.MethodPost, PathSchema+"/"+url.PathEscape(in.Schema)+"/table", nil, def, nil); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return c.request(ctx, http.MethodPost, entityPath(in.Schema, in.Table), nil, rows, nil)
}
