// Package ippclient is the IPP client used both to control the local print
// scheduler (create/modify/delete queues, subscriptions) and to poll
// remote print servers for capability attributes (spec §1's "the local
// print scheduler itself (accessed through an IPP client)" and §4.3's
// "get-printer-attributes IPP call").
//
// Grounded on the teacher's internal/cupsclient.Client: same
// goipp.Message-over-HTTP transport and path-derivation idiom, generalized
// so one Client value addresses any IPP peer (local scheduler or a
// discovered remote host) instead of only "localhost".
package ippclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goipp "github.com/OpenPrinting/goipp"
)

// Client speaks IPP-over-HTTP to a single host:port.
type Client struct {
	Host               string
	Port               int
	UseTLS             bool
	User               string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration // HttpLocalTimeout/HttpRemoteTimeout, spec §5
}

// New builds a client for a given host/port/transport. port 0 defaults to 631.
func New(host string, port int, useTLS bool, timeout time.Duration) *Client {
	if port <= 0 {
		port = 631
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{Host: host, Port: port, UseTLS: useTLS, Timeout: timeout}
}

// ForURI builds a client targeting the host:port encoded in an IPP/HTTP URI,
// used when discovery hands the reconciler a device-uri or printer-uri for
// a remote record (spec §4.3's periodic polling).
func ForURI(uri string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	useTLS := strings.EqualFold(u.Scheme, "ipps") || strings.EqualFold(u.Scheme, "https")
	port, _ := strconv.Atoi(u.Port())
	return New(u.Hostname(), port, useTLS, timeout), nil
}

// PrinterURI returns the printer-uri this client would use to address a
// named local queue.
func (c *Client) PrinterURI(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "ipp://" + c.Host + "/printers/"
	}
	return "ipp://" + c.Host + "/printers/" + url.PathEscape(name)
}

func (c *Client) ippURLForPath(path string) string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	if path == "" {
		path = "/"
	}
	return scheme + "://" + c.Host + ":" + strconv.Itoa(c.Port) + path
}

// ippPathForOp mirrors the teacher's static operation-to-resource table.
func ippPathForOp(op goipp.Op) string {
	switch op {
	case goipp.OpCancelJobs, goipp.OpPurgeJobs, goipp.OpCupsAddModifyPrinter, goipp.OpCupsDeletePrinter,
		goipp.OpCupsSetDefault, goipp.OpCupsAcceptJobs, goipp.OpCupsRejectJobs, goipp.OpPausePrinter,
		goipp.OpPausePrinterAfterCurrentJob, goipp.OpResumePrinter, goipp.OpEnablePrinter, goipp.OpDisablePrinter,
		goipp.OpHoldNewJobs, goipp.OpReleaseHeldNewJobs, goipp.OpRestartPrinter, goipp.OpCreatePrinterSubscriptions:
		return "/admin/"
	case goipp.OpCancelJob, goipp.OpCancelMyJobs, goipp.OpGetJobs, goipp.OpGetJobAttributes,
		goipp.OpSetJobAttributes, goipp.OpHoldJob, goipp.OpReleaseJob, goipp.OpRestartJob, goipp.OpResumeJob,
		goipp.OpCreateJobSubscriptions, goipp.OpGetNotifications:
		return "/jobs/"
	default:
		return "/"
	}
}

func ippPathPinnedToRoot(op goipp.Op) bool {
	switch op {
	case goipp.OpCupsGetPrinters, goipp.OpCupsGetDefault, goipp.OpGetPrinterAttributes:
		return true
	default:
		return false
	}
}

func ippResourcePathFromURI(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	path := strings.TrimSpace(u.Path)
	if path == "" {
		return "", false
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path, true
}

// ippPathForMessage picks the request path: pinned root for
// CUPS-Get-Printers, CUPS-Get-Default and Get-Printer-Attributes, then the
// static table's /admin/ or /jobs/ path where it assigns one, otherwise the
// resource named by printer-uri/job-uri when present, falling back to "/".
func ippPathForMessage(msg *goipp.Message) string {
	if msg == nil {
		return "/"
	}
	op := goipp.Op(msg.Code)
	if ippPathPinnedToRoot(op) {
		return "/"
	}
	defaultPath := ippPathForOp(op)
	if defaultPath == "/admin/" || defaultPath == "/jobs/" {
		return defaultPath
	}
	if p, ok := ippResourcePathFromURI(attrString(msg.Operation, "printer-uri")); ok {
		return p
	}
	if p, ok := ippResourcePathFromURI(attrString(msg.Operation, "job-uri")); ok {
		return p
	}
	return defaultPath
}

func attrString(attrs goipp.Attributes, name string) string {
	for _, attr := range attrs {
		if !strings.EqualFold(strings.TrimSpace(attr.Name), strings.TrimSpace(name)) {
			continue
		}
		if len(attr.Values) == 0 {
			return ""
		}
		return strings.TrimSpace(attr.Values[0].V.String())
	}
	return ""
}

// Send transmits an IPP request and decodes the response, deriving the
// HTTP resource path from the request's operation and target URI.
func (c *Client) Send(ctx context.Context, msg *goipp.Message, data io.Reader) (*goipp.Message, error) {
	if msg == nil {
		return nil, errors.New("ippclient: missing message")
	}
	payload, err := msg.EncodeBytes()
	if err != nil {
		return nil, err
	}
	body := io.Reader(bytes.NewBuffer(payload))
	if data != nil {
		body = io.MultiReader(bytes.NewBuffer(payload), data)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ippURLForPath(ippPathForMessage(msg)), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", goipp.ContentType)
	req.Header.Set("Accept", goipp.ContentType)
	if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}

	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.InsecureSkipVerify}},
	}
	resp, err := httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.New(resp.Status)
	}
	out := &goipp.Message{}
	if err := out.Decode(resp.Body); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusOK reports whether an IPP response indicates success.
func StatusOK(msg *goipp.Message) bool {
	return msg != nil && goipp.Status(msg.Code) < goipp.StatusRedirectionOtherSite
}
