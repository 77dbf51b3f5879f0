// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"

	"github.com/holostream/archivist/internal/bus"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/notify"
	"github.com/holostream/archivist/internal/records"
	"github.com/holostream/archivist/internal/store"
	"github.com/holostream/archivist/internal/wshub"
)

// fakeDiscovery is a scripted discovery.Client test double: each test
// sets Videos directly rather than hitting a network.
type fakeDiscovery struct {
	Videos []model.Video
	Err    error
}

func (f *fakeDiscovery) Discover(_ context.Context) ([]model.Video, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Videos, nil
}

// newTestServer builds a Server with an in-memory store, a scripted
// discovery client, and a disconnected (never-Run) Hub: Emit only
// enqueues onto the Hub's internal channel, so it is safe to call from
// a handler under test without a dispatcher goroutine running.
func newTestServer() (*Server, *store.MemoryStore, *fakeDiscovery) {
	st := store.NewMemoryStore()
	disco := &fakeDiscovery{}
	hub := wshub.NewHub(st)
	return &Server{
		Store:     st,
		Discovery: disco,
		Bus:       bus.NewMemoryBus(),
		Hub:       hub,
		Records:   &records.Index{Disabled: true},
		Notifier:  notify.New(""),
		Config:    Config{},
	}, st, disco
}
