// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP scaffolding shared by the tools
// that stand in for, or sit beside, an APM collector.
//
// HTTPServer owns a TCP listener and graceful shutdown; callers supply
// the http.Handler. RequireAuthorization guards a handler with the
// same secret-token and API-key schemes the agent sends.
package service
