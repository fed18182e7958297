package handler

import "github.com/nsridhar76/orderpulse/internal/domain"

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error       string            `json:"error"`
	Message     string            `json:"message,omitempty"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
}

type RebuildResponse struct {
	Indexed int `json:"indexed"`
}

type SearchResponse struct {
	Count   int                     `json:"count"`
	Results []domain.SearchDocument `json:"results"`
}

func searchResponse(docs []domain.SearchDocument) SearchResponse {
	if docs == nil {
		docs = []domain.SearchDocument{}
	}
	return SearchResponse{Count: len(docs), Results: docs}
}
