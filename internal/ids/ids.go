// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ids generates the opaque identifiers used by the store: task
// UUIDs and human-friendly task slugs. VM identifiers are not
// generated here — they are assigned by the provider (or, during
// provisioning, by a temporary label chosen by the pool manager).
package ids

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// NewTaskID returns a fresh opaque task identifier.
func NewTaskID() string {
	return uuid.NewString()
}

// ProvisioningLabel returns a temporary identity for a VM row inserted
// before the provider has assigned a real instance id. The pool
// manager renames the row to the provider's id once CreateInstance
// returns; until then this label reserves the row's place in the
// slot's capacity accounting.
func ProvisioningLabel(slot string) string {
	return fmt.Sprintf("provisioning-%s-%s", slot, uuid.NewString())
}

// Short returns the first 8 characters of an id for display, or the
// whole id if it is shorter than that.
func Short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

var (
	adjectives = []string{
		"amber", "brisk", "calm", "dusty", "eager", "fleet", "gentle",
		"hollow", "indigo", "jolly", "keen", "lively", "mellow", "nimble",
		"oaken", "plain", "quiet", "rustic", "solar", "tidy", "umber",
		"vivid", "wry", "young", "zesty", "bold", "crisp", "dark",
	}
	nouns = []string{
		"badger", "canyon", "delta", "ember", "falcon", "glacier",
		"harbor", "island", "jasper", "kestrel", "lantern", "meadow",
		"needle", "otter", "pebble", "quarry", "raven", "summit",
		"thicket", "urchin", "valley", "willow", "xenon", "yarrow",
		"zephyr", "boulder", "cedar", "dune",
	}
)

// NewSlug returns a random "adjective-noun" pair using the given
// random source. Callers that need determinism (tests, and any code
// that must reproduce a specific slug) pass a seeded *rand.Rand;
// production callers pass rand.New(rand.NewSource(time.Now().UnixNano())).
func NewSlug(r *rand.Rand) string {
	return fmt.Sprintf("%s-%s", adjectives[r.Intn(len(adjectives))], nouns[r.Intn(len(nouns))])
}
