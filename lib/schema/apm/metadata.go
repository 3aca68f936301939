// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import "maps"

// Metadata describes the reporting process. The transport derives a
// base from configuration; a runtime integration may later supply
// extra metadata (cloud, framework) that takes precedence.
type Metadata struct {
	Service Service           `cbor:"service"`
	Process *Process          `cbor:"process,omitempty"`
	System  *System           `cbor:"system,omitempty"`
	Cloud   *Cloud            `cbor:"cloud,omitempty"`
	Labels  map[string]string `cbor:"labels,omitempty"`
}

type Service struct {
	Name        string `cbor:"name"`
	Version     string `cbor:"version,omitempty"`
	Environment string `cbor:"environment,omitempty"`
	NodeName    string `cbor:"node_name,omitempty"`
	Agent       Agent  `cbor:"agent"`
	Framework   *Named `cbor:"framework,omitempty"`
	Runtime     *Named `cbor:"runtime,omitempty"`
	Language    *Named `cbor:"language,omitempty"`
}

// Agent identifies the reporting agent build.
type Agent struct {
	Name    string `cbor:"name"`
	Version string `cbor:"version"`
}

// Named is a name/version pair.
type Named struct {
	Name    string `cbor:"name"`
	Version string `cbor:"version,omitempty"`
}

type Process struct {
	PID  int      `cbor:"pid"`
	PPID int      `cbor:"ppid,omitempty"`
	Argv []string `cbor:"argv,omitempty"`
}

type System struct {
	Hostname     string `cbor:"hostname,omitempty"`
	Architecture string `cbor:"architecture,omitempty"`
	Platform     string `cbor:"platform,omitempty"`
}

type Cloud struct {
	Provider         string `cbor:"provider"`
	Region           string `cbor:"region,omitempty"`
	AvailabilityZone string `cbor:"availability_zone,omitempty"`
	AccountID        string `cbor:"account_id,omitempty"`
	ServiceName      string `cbor:"service_name,omitempty"`
}

// Merge returns m with every non-zero field of extra applied on top.
// Labels merge key by key, extra winning.
func (m Metadata) Merge(extra Metadata) Metadata {
	merged := m
	service := extra.Service
	if service.Name != "" {
		merged.Service.Name = service.Name
	}
	if service.Version != "" {
		merged.Service.Version = service.Version
	}
	if service.Environment != "" {
		merged.Service.Environment = service.Environment
	}
	if service.NodeName != "" {
		merged.Service.NodeName = service.NodeName
	}
	if service.Agent.Name != "" {
		merged.Service.Agent = service.Agent
	}
	if service.Framework != nil {
		merged.Service.Framework = service.Framework
	}
	if service.Runtime != nil {
		merged.Service.Runtime = service.Runtime
	}
	if service.Language != nil {
		merged.Service.Language = service.Language
	}
	if extra.Process != nil {
		merged.Process = extra.Process
	}
	if extra.System != nil {
		merged.System = extra.System
	}
	if extra.Cloud != nil {
		merged.Cloud = extra.Cloud
	}
	if len(extra.Labels) > 0 {
		merged.Labels = maps.Clone(m.Labels)
		if merged.Labels == nil {
			merged.Labels = make(map[string]string, len(extra.Labels))
		}
		maps.Copy(merged.Labels, extra.Labels)
	}
	return merged
}
