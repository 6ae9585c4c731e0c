package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	flagLimit  = "limit"
	flagOffset = "offset"
)

// apiClient is a minimal JSON client for the fundsettle API.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func clientFromCmd(cmd *cobra.Command) (*apiClient, error) {
	server, err := cmd.Flags().GetString(flagServer)
	if err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(server); err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", flagServer, err)
	}
	key, err := cmd.Flags().GetString(flagAPIKey)
	if err != nil {
		return nil, err
	}
	timeout, err := cmd.Flags().GetDuration(flagTimeout)
	if err != nil {
		return nil, err
	}
	return &apiClient{
		baseURL: strings.TrimRight(server, "/"),
		apiKey:  key,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// do sends body as JSON and returns the raw response body of a 2xx reply.
func (c *apiClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &apiError{Status: resp.StatusCode, Message: msg}
	}
	return raw, nil
}

func getAndPrint(cmd *cobra.Command, path string) error {
	return sendAndPrint(cmd, http.MethodGet, path, nil)
}

func sendAndPrint(cmd *cobra.Command, method, path string, body any) error {
	c, err := clientFromCmd(cmd)
	if err != nil {
		return err
	}
	raw, err := c.do(cmd.Context(), method, path, body)
	if err != nil {
		return err
	}
	return printJSON(cmd, raw)
}

// printJSON indents raw JSON to the command output.
func printJSON(cmd *cobra.Command, raw []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		_, werr := cmd.OutOrStdout().Write(raw)
		return werr
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(cmd.OutOrStdout())
	return err
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().Int(flagLimit, 0, "maximum number of entries (server default when zero)")
	cmd.Flags().Int(flagOffset, 0, "entries to skip")
	cmd.Flags().Duration("since", 0, "only entries newer than this long ago")
}

// listQuery builds a query string from the list flags plus extra params.
func listQuery(cmd *cobra.Command, extra url.Values) string {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	if n, _ := cmd.Flags().GetInt(flagLimit); n > 0 {
		q.Set("limit", strconv.Itoa(n))
	}
	if n, _ := cmd.Flags().GetInt(flagOffset); n > 0 {
		q.Set("offset", strconv.Itoa(n))
	}
	if d, _ := cmd.Flags().GetDuration("since"); d > 0 {
		q.Set("since", time.Now().Add(-d).UTC().Format(time.RFC3339))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
