// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package telemetry provides OpenTelemetry tracing utilities for the archivist application.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Job attributes
	JobIDKey       = "job.id"
	JobPlatformKey = "job.platform"
	JobStatusKey   = "job.status"
	JobStageKey    = "job.stage"
	JobDurationKey = "job.duration_ms"

	// Discovery attributes
	DiscoverySourceKey    = "discovery.source"
	DiscoveryVideoCountKey = "discovery.video_count"
	DiscoveryCursorKey    = "discovery.cursor"

	// Chat capture attributes
	ChatVideoIDKey      = "chat.video_id"
	ChatMessageCountKey = "chat.message_count"
	ChatResumedKey      = "chat.resumed"

	// IPC / bridge attributes
	IPCRoleKey = "ipc.role"
	IPCPeerKey = "ipc.peer"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// JobAttributes creates job-related span attributes.
func JobAttributes(jobID, platform, status, stage string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(JobPlatformKey, platform),
		attribute.String(JobStatusKey, status),
		attribute.String(JobStageKey, stage),
	}
}

// DiscoveryAttributes creates discovery-poll span attributes.
func DiscoveryAttributes(source string, videoCount int, cursor string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(DiscoverySourceKey, source),
		attribute.Int(DiscoveryVideoCountKey, videoCount),
	}
	if cursor != "" {
		attrs = append(attrs, attribute.String(DiscoveryCursorKey, cursor))
	}
	return attrs
}

// ChatCaptureAttributes creates chat-capture session span attributes.
func ChatCaptureAttributes(videoID string, messageCount int, resumed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ChatVideoIDKey, videoID),
		attribute.Int(ChatMessageCountKey, messageCount),
		attribute.Bool(ChatResumedKey, resumed),
	}
}

// IPCAttributes creates multi-process bridge span attributes.
func IPCAttributes(role, peer string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(IPCRoleKey, role),
		attribute.String(IPCPeerKey, peer),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
