// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"

	"github.com/ManuGH/mediacore/internal/search"
)

type SearchHandler struct {
	Index *search.Index
}

func (h *SearchHandler) Handle(_ context.Context, req SearchRequest) (SearchResponse, error) {
	return SearchResponse{Results: h.Index.Search(req.Text, req.Limit)}, nil
}
