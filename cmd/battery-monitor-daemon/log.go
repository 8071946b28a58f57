package main

import (
	"context"
	"log/slog"
	"strings"
)

// topicHandler wraps an slog.Handler and filters records by a "topic"
// attribute. Records without a topic always pass (startup messages, errors
// logged on the root logger). Records with a topic pass only when that topic
// is enabled, or when "all" is.
type topicHandler struct {
	inner  slog.Handler
	topics map[string]bool
	topic  string // set when WithAttrs includes a "topic" key
}

func newTopicHandler(inner slog.Handler, topics map[string]bool) *topicHandler {
	return &topicHandler{inner: inner, topics: topics}
}

// parseTopics turns "-log a,b" and "-verbose" into the enabled topic set.
func parseTopics(list string, verbose bool) map[string]bool {
	topics := make(map[string]bool)
	if verbose {
		topics["all"] = true
	}
	for _, t := range strings.Split(list, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics[t] = true
		}
	}
	return topics
}

func (h *topicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *topicHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.topics["all"] || r.Level >= slog.LevelError {
		return h.inner.Handle(ctx, r)
	}
	topic := h.topic
	if topic == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "topic" {
				topic = a.Value.String()
				return false
			}
			return true
		})
	}
	if topic != "" && !h.topics[topic] {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *topicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	topic := h.topic
	for _, a := range attrs {
		if a.Key == "topic" {
			topic = a.Value.String()
		}
	}
	return &topicHandler{inner: h.inner.WithAttrs(attrs), topics: h.topics, topic: topic}
}

func (h *topicHandler) WithGroup(name string) slog.Handler {
	return &topicHandler{inner: h.inner.WithGroup(name), topics: h.topics, topic: h.topic}
}
