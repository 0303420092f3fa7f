package marketlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Marketline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID               string   `json:"id"`
	BuyerID          string   `json:"buyer_id"`
	AssignedSolverID *string  `json:"assigned_solver_id,omitempty"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Budget           *float64 `json:"budget,omitempty"`
	Deadline         *string  `json:"deadline,omitempty"`
	Status           string   `json:"status"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

// Request represents a solver's bid on a project.
type Request struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	SolverID    string `json:"solver_id"`
	CoverLetter string `json:"cover_letter,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Task represents a work item on an assigned project.
type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	CreatedBy   string  `json:"created_by"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Deadline    *string `json:"deadline,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Submission represents one delivered archive for a task.
type Submission struct {
	ID            string  `json:"id"`
	TaskID        string  `json:"task_id"`
	BlobRef       string  `json:"blob_ref"`
	FileName      string  `json:"file_name"`
	FileSize      int64   `json:"file_size"`
	Notes         string  `json:"notes,omitempty"`
	ReviewerNotes string  `json:"reviewer_notes,omitempty"`
	Status        string  `json:"status"`
	SubmittedAt   string  `json:"submitted_at"`
	ReviewedAt    *string `json:"reviewed_at,omitempty"`
}

// User represents an account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// PageMeta describes one page of a list response.
type PageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Page wraps paginated list responses.
type Page[T any] struct {
	Data []T      `json:"data"`
	Meta PageMeta `json:"meta"`
}

// TokenResponse is returned by register and dev login.
type TokenResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates an account and stores the returned token on the
// client.
func (c *Client) Register(ctx context.Context, email, name, role string) (TokenResponse, error) {
	var resp TokenResponse
	err := c.do(ctx, http.MethodPost, "v0/auth/register", map[string]any{
		"email": email,
		"name":  name,
		"role":  role,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

// CreateProject posts a new OPEN project.
func (c *Client) CreateProject(ctx context.Context, title, description string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", map[string]any{
		"title":       title,
		"description": description,
	}, &resp)
	return resp, err
}

// Projects lists projects visible to the caller.
func (c *Client) Projects(ctx context.Context, page, limit int) (Page[Project], error) {
	var resp Page[Project]
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/projects?page=%d&limit=%d", page, limit), nil, &resp)
	return resp, err
}

// CreateRequest files a bid on a project.
func (c *Client) CreateRequest(ctx context.Context, projectID, coverLetter string) (Request, error) {
	var resp Request
	endpoint := fmt.Sprintf("v0/projects/%s/requests", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"cover_letter": coverLetter}, &resp)
	return resp, err
}

// AcceptRequest accepts a bid and assigns the project.
func (c *Client) AcceptRequest(ctx context.Context, requestID string) (Request, error) {
	var resp Request
	endpoint := fmt.Sprintf("v0/requests/%s/accept", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CreateTask adds a work item to an assigned project.
func (c *Client) CreateTask(ctx context.Context, projectID, title, description string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{
		"title":       title,
		"description": description,
	}, &resp)
	return resp, err
}

// SubmitArchive uploads a zip archive against a task.
func (c *Client) SubmitArchive(ctx context.Context, taskID, fileName string, archive []byte, notes string) (Submission, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return Submission{}, err
	}
	if _, err := fw.Write(archive); err != nil {
		return Submission{}, err
	}
	if notes != "" {
		if err := mw.WriteField("notes", notes); err != nil {
			return Submission{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return Submission{}, err
	}
	endpoint := fmt.Sprintf("v0/tasks/%s/submissions", url.PathEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/"+endpoint, &buf)
	if err != nil {
		return Submission{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	var resp Submission
	if err := c.send(req, &resp); err != nil {
		return Submission{}, err
	}
	return resp, nil
}

// AcceptSubmission approves delivered work.
func (c *Client) AcceptSubmission(ctx context.Context, submissionID string) (Submission, error) {
	var resp Submission
	endpoint := fmt.Sprintf("v0/submissions/%s/accept", url.PathEscape(submissionID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RejectSubmission sends work back with notes.
func (c *Client) RejectSubmission(ctx context.Context, submissionID, reviewerNotes string) (Submission, error) {
	var resp Submission
	endpoint := fmt.Sprintf("v0/submissions/%s/reject", url.PathEscape(submissionID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reviewer_notes": reviewerNotes}, &resp)
	return resp, err
}

// DownloadURL fetches a signed link for a submission's archive.
func (c *Client) DownloadURL(ctx context.Context, submissionID string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	endpoint := fmt.Sprintf("v0/submissions/%s/download", url.PathEscape(submissionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.URL, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/"+strings.TrimLeft(endpoint, "/"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
