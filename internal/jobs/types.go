// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs defines the job types carried by the queue, their payloads
// and their handlers.
package jobs

import (
	"github.com/ManuGH/mediacore/internal/queue"
	"github.com/ManuGH/mediacore/internal/search"
	"github.com/ManuGH/mediacore/internal/session"
)

// Job type tags.
const (
	TypeLibraryScan     = "library.scan"
	TypeStreamCreate    = "stream.create"
	TypeImageFetch      = "image.fetch"
	TypeSearchQuery     = "search.query"
	TypeScheduleRefresh = "schedule.refresh"
)

// StreamCreateType names the create queue of one node.
func StreamCreateType(nodeID string) string {
	return TypeStreamCreate + "." + nodeID
}

type ScanRequest struct {
	LibraryID string `json:"libraryId"`
}

type ScanResult struct {
	LibraryID string `json:"libraryId"`
	Status    string `json:"status"`
	Scanned   int    `json:"scanned"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
}

// StreamCreateRequest selects media, tracks and start offset of a new session.
type StreamCreateRequest = session.Request

// StreamCreateResult names the session and the node that owns it; later
// calls for the session must reach that node.
type StreamCreateResult struct {
	SessionID string         `json:"sessionId"`
	Status    session.Status `json:"status"`
	Node      string         `json:"node,omitempty"`
}

type ImageFetchRequest struct {
	ImageID string `json:"imageId"`
	// Location is an http(s) URL on an allowed host or an absolute path
	// inside a library root. It is set by the node, never by a client.
	Location string `json:"location"`
}

// ImageFetchResult carries the image bytes (base64 on the wire).
type ImageFetchResult struct {
	Data        []byte `json:"data"`
	ContentType string `json:"contentType,omitempty"`
	Cached      bool   `json:"cached"`
}

type SearchRequest struct {
	Text  string `json:"text"`
	Limit int    `json:"limit,omitempty"`
}

type SearchResponse struct {
	Results []search.Result `json:"results"`
}

// Queues holds the typed handle of every job type. Stream is the node's
// own create queue: a session lives in the memory of the node that created
// it, so creation must run where later calls for the session arrive.
type Queues struct {
	Scan    *queue.Queue[ScanRequest, ScanResult]
	Stream  *queue.Queue[StreamCreateRequest, StreamCreateResult]
	Image   *queue.Queue[ImageFetchRequest, ImageFetchResult]
	Search  *queue.Queue[SearchRequest, SearchResponse]
	Refresh *queue.Queue[queue.Empty, queue.Empty]
}

func NewQueues(b *queue.Broker, nodeID string) Queues {
	return Queues{
		Scan:    queue.New[ScanRequest, ScanResult](b, TypeLibraryScan),
		Stream:  queue.New[StreamCreateRequest, StreamCreateResult](b, StreamCreateType(nodeID)),
		Image:   queue.New[ImageFetchRequest, ImageFetchResult](b, TypeImageFetch),
		Search:  queue.New[SearchRequest, SearchResponse](b, TypeSearchQuery),
		Refresh: queue.New[queue.Empty, queue.Empty](b, TypeScheduleRefresh),
	}
}
