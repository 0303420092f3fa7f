package server

import "marketline/internal/domain"

// Request payloads

type RegisterRequest struct {
	Email  string      `json:"email" format:"email"`
	Name   string      `json:"name"`
	Bio    string      `json:"bio,omitempty"`
	Skills []string    `json:"skills,omitempty"`
	Role   domain.Role `json:"role" enum:"BUYER,SOLVER"`
}

type UpdateProfileRequest struct {
	Name   *string   `json:"name,omitempty"`
	Bio    *string   `json:"bio,omitempty"`
	Skills *[]string `json:"skills,omitempty"`
}

type DevLoginRequest struct {
	Email string `json:"email" format:"email"`
}

type TokenResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type CreateProjectRequest struct {
	Title       string   `json:"title" minLength:"1"`
	Description string   `json:"description,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
	Deadline    *string  `json:"deadline,omitempty" format:"date-time"`
}

type UpdateProjectRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
	Deadline    *string  `json:"deadline,omitempty" format:"date-time"`
}

type CreateRequestRequest struct {
	CoverLetter string `json:"cover_letter,omitempty"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title" minLength:"1"`
	Description string  `json:"description,omitempty"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
}

type RejectSubmissionRequest struct {
	ReviewerNotes string `json:"reviewer_notes" minLength:"1"`
}

type SetRoleRequest struct {
	Role domain.Role `json:"role" enum:"BUYER,SOLVER"`
}

type DownloadResponse struct {
	URL string `json:"url"`
}

// pageMeta describes one page of a list response.
type pageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type paginated[T any] struct {
	Data []T      `json:"data"`
	Meta pageMeta `json:"meta"`
}

func paginate[T any](items []T, page, limit, total int) paginated[T] {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	pages := (total + limit - 1) / limit
	if items == nil {
		items = []T{}
	}
	return paginated[T]{
		Data: items,
		Meta: pageMeta{Page: page, Limit: limit, Total: total, TotalPages: pages},
	}
}
