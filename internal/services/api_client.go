package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aimededdinetouati/time-attendance-terminal-integration/internal/models"
)

const xsrfCookieName = "XSRF-TOKEN"

// UploadResult is the outcome of a batch submission. Non-200 responses are
// reported here, not as errors; the reconciler audits them as FAILED.
type UploadResult struct {
	Success        bool   `json:"success"`
	JobExecutionID int64  `json:"jobExecutionId"`
	Message        string `json:"message,omitempty"`
}

// PayrollClient is the authenticated session to the payroll API consumed by
// the upload reconciler.
type PayrollClient interface {
	Authenticate() error
	UploadAttendance(filePath string) (*UploadResult, error)
	GetPointingImport() (*models.PointingImport, error)
	GetPointingsWithJobID(jobExecutionID int64) ([]models.PointingEvent, error)
}

// APIClient maintains an authenticated session against the payroll API. A
// call that comes back 401 re-authenticates once and retries; a second 401
// surfaces as a failure. Not safe for concurrent use; upload cycles are
// serialized by the scheduler.
type APIClient struct {
	baseURL    string
	companyID  string
	username   string
	password   string
	httpClient *http.Client

	xsrfToken   string
	accessToken string
}

func NewAPIClient(baseURL, companyID, username, password string) *APIClient {
	// The cookie jar carries the XSRF session cookie between the hello,
	// login and upload calls.
	jar, _ := cookiejar.New(nil)

	return &APIClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		companyID: companyID,
		username:  username,
		password:  password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}
}

// Authenticate performs the two-step handshake: fetch the anti-forgery token
// from the hello endpoint's cookie, then exchange credentials for a bearer
// token. Both tokens are kept for subsequent requests.
func (c *APIClient) Authenticate() error {
	if err := c.fetchXSRFToken(); err != nil {
		return err
	}
	return c.login()
}

func (c *APIClient) fetchXSRFToken() error {
	helloURL := c.baseURL + "/auth/hello"

	resp, err := c.httpClient.Get(helloURL)
	if err != nil {
		return fmt.Errorf("failed to fetch XSRF token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to fetch XSRF token: status %d, response: %s", resp.StatusCode, string(body))
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == xsrfCookieName {
			c.xsrfToken = cookie.Value
		}
	}
	if c.xsrfToken == "" {
		return fmt.Errorf("no %s cookie in hello response", xsrfCookieName)
	}

	log.Println("XSRF token retrieved successfully")
	return nil
}

func (c *APIClient) login() error {
	loginURL := c.baseURL + "/auth/login"

	payload, err := json.Marshal(map[string]interface{}{
		"username":   c.username,
		"password":   c.password,
		"company_id": c.companyID,
		"rememberMe": false,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal login payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, loginURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-XSRF-TOKEN", c.xsrfToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("login failed: status %d, response: %s", resp.StatusCode, string(body))
	}

	var authResponse struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&authResponse); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if authResponse.AccessToken == "" {
		return fmt.Errorf("login response contained no access token")
	}
	c.accessToken = authResponse.AccessToken

	// The server may rotate the anti-forgery token on login.
	for _, cookie := range resp.Cookies() {
		if cookie.Name == xsrfCookieName {
			c.xsrfToken = cookie.Value
		}
	}

	log.Println("Authentication successful")
	return nil
}

func (c *APIClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("X-XSRF-TOKEN", c.xsrfToken)
}

// doWithReauth sends the request produced by build, re-authenticating once
// and retrying with a fresh request on 401. build must return a new request
// each call so the retry re-sends the full body.
func (c *APIClient) doWithReauth(build func() (*http.Request, error)) (*http.Response, error) {
	req, err := build()
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	log.Println("Received 401, re-authenticating and retrying")
	if err := c.Authenticate(); err != nil {
		return nil, fmt.Errorf("re-authentication failed: %w", err)
	}

	req, err = build()
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(req)

	return c.httpClient.Do(req)
}

// UploadAttendance submits the batch file to the current month's import
// endpoint. A retry after re-authentication may resubmit an already-accepted
// file; the server assigns a fresh jobExecutionId per call, so the duplicate
// is resolved remotely. Non-200 responses come back as an unsuccessful
// result, not an error.
func (c *APIClient) UploadAttendance(filePath string) (*UploadResult, error) {
	month := time.Now().Format("2006-01")
	uploadURL := fmt.Sprintf("%s/pay/api/companies/%s/month-pointing/%s/import",
		c.baseURL, c.companyID, month)

	build := func() (*http.Request, error) {
		file, err := os.Open(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open export file: %w", err)
		}
		defer file.Close()

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, fmt.Errorf("failed to read export file: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
		}

		req, err := http.NewRequest(http.MethodPost, uploadURL, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	}

	resp, err := c.doWithReauth(build)
	if err != nil {
		return &UploadResult{Success: false, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("Upload rejected: status %d, response: %s", resp.StatusCode, string(body))
		return &UploadResult{Success: false, Message: string(body)}, nil
	}

	var uploadResponse struct {
		JobExecutionID int64 `json:"jobExecutionId"`
	}
	if err := json.Unmarshal(body, &uploadResponse); err != nil {
		return &UploadResult{Success: false, Message: fmt.Sprintf("unparseable upload response: %s", string(body))}, nil
	}

	return &UploadResult{Success: true, JobExecutionID: uploadResponse.JobExecutionID}, nil
}

// GetPointingImport fetches the state of the company's most recent import
// job. Non-200 responses are errors here: the only caller is the bounded
// reconciliation poll, which treats an error like any other aborted cycle.
func (c *APIClient) GetPointingImport() (*models.PointingImport, error) {
	importURL := fmt.Sprintf("%s/pay/api/companies/%s/pointing-imports", c.baseURL, c.companyID)

	resp, err := c.doWithReauth(func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, importURL, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pointing import: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pointing import fetch failed: status %d, response: %s", resp.StatusCode, string(body))
	}

	var pointingImport models.PointingImport
	if err := json.NewDecoder(resp.Body).Decode(&pointingImport); err != nil {
		return nil, fmt.Errorf("failed to decode pointing import: %w", err)
	}

	return &pointingImport, nil
}

// GetPointingsWithJobID fetches the reconciled pointings produced by a
// completed import job, flattened into individual punch events.
func (c *APIClient) GetPointingsWithJobID(jobExecutionID int64) ([]models.PointingEvent, error) {
	pointingsURL := fmt.Sprintf("%s/pay/api/companies/%s/pointings?jobExecutionId=%d",
		c.baseURL, c.companyID, jobExecutionID)

	resp, err := c.doWithReauth(func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, pointingsURL, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pointings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pointings fetch failed: status %d, response: %s", resp.StatusCode, string(body))
	}

	var pointings []models.Pointing
	if err := json.NewDecoder(resp.Body).Decode(&pointings); err != nil {
		return nil, fmt.Errorf("failed to decode pointings: %w", err)
	}

	var events []models.PointingEvent
	for _, pointing := range pointings {
		events = append(events, pointing.Events()...)
	}

	return events, nil
}
