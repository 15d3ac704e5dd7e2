// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"

	"github.com/ManuGH/mediacore/internal/session"
)

// SessionCreator is the part of the session manager stream jobs need.
type SessionCreator interface {
	Create(ctx context.Context, req session.Request) (session.Session, error)
}

// StreamHandler creates a session on the node that consumed the job.
type StreamHandler struct {
	Sessions SessionCreator
	NodeID   string
}

func (h *StreamHandler) Handle(ctx context.Context, req StreamCreateRequest) (StreamCreateResult, error) {
	s, err := h.Sessions.Create(ctx, req)
	if err != nil {
		return StreamCreateResult{}, err
	}
	return StreamCreateResult{SessionID: s.ID, Status: s.Status, Node: h.NodeID}, nil
}
