// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"github.com/holostream/archivist/internal/model"
)

// jobDTO is the wire shape for a Job. It is model.JobView under an
// in-package alias: the websocket hub's job_update broadcast and the
// HTTP API's status/schedule responses must agree on field names for
// the same event, so both convert through the one shared type rather
// than keeping parallel copies in sync by hand.
type jobDTO = model.JobView

var newJobDTO = model.NewJobView

// autoRuleChainDTO mirrors model.ChainEntry.
type autoRuleChainDTO struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// autoRuleDTO is the wire shape for an AutoRule, grounded on
// original_source/internals/routes/auto_scheduler.py's response dict.
type autoRuleDTO struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Data    string             `json:"data"`
	Include bool               `json:"include"`
	Chains  []autoRuleChainDTO `json:"chains,omitempty"`
}

func newAutoRuleDTO(r *model.AutoRule) autoRuleDTO {
	chains := make([]autoRuleChainDTO, 0, len(r.Chains))
	for _, c := range r.Chains {
		chains = append(chains, autoRuleChainDTO{Type: string(c.Type), Data: c.Data})
	}
	return autoRuleDTO{
		ID:      r.ID,
		Type:    string(r.Type),
		Data:    r.Data,
		Include: r.Include,
		Chains:  chains,
	}
}
