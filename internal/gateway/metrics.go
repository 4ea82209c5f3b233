// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

package gateway

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the gateway's OpenTelemetry counters. A nil *Metrics is valid
// and records nothing, so handlers never need to branch on observability.
type Metrics struct {
	registrations   metric.Int64Counter
	authFlows       metric.Int64Counter
	tokensIssued    metric.Int64Counter
	tokenFailures   metric.Int64Counter
	verifyFailures  metric.Int64Counter
	delegatedGrants metric.Int64Counter
}

// NewMetrics registers the gateway counters on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.registrations, err = meter.Int64Counter("gateway.client.registrations",
		metric.WithDescription("Dynamic client registrations accepted")); err != nil {
		return nil, err
	}
	if m.authFlows, err = meter.Int64Counter("gateway.authorize.flows",
		metric.WithDescription("Authorization flows started")); err != nil {
		return nil, err
	}
	if m.tokensIssued, err = meter.Int64Counter("gateway.token.issued",
		metric.WithDescription("Successful token responses by grant type")); err != nil {
		return nil, err
	}
	if m.tokenFailures, err = meter.Int64Counter("gateway.token.failures",
		metric.WithDescription("Failed token requests by error code")); err != nil {
		return nil, err
	}
	if m.verifyFailures, err = meter.Int64Counter("gateway.verify.failures",
		metric.WithDescription("Bearer token validation failures")); err != nil {
		return nil, err
	}
	if m.delegatedGrants, err = meter.Int64Counter("gateway.obo.grants",
		metric.WithDescription("On-behalf-of token grants requested")); err != nil {
		return nil, err
	}
	return m, nil
}

// CountRegistration records an accepted dynamic registration
func (m *Metrics) CountRegistration(ctx context.Context) {
	if m == nil {
		return
	}
	m.registrations.Add(ctx, 1)
}

// CountAuthFlow records an authorization flow redirecting to the IdP
func (m *Metrics) CountAuthFlow(ctx context.Context) {
	if m == nil {
		return
	}
	m.authFlows.Add(ctx, 1)
}

// CountTokenIssued records a successful token response
func (m *Metrics) CountTokenIssued(ctx context.Context, grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("grant_type", grantType)))
}

// CountTokenFailure records a failed token request
func (m *Metrics) CountTokenFailure(ctx context.Context, errorCode string) {
	if m == nil {
		return
	}
	m.tokenFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("error", errorCode)))
}

// CountVerifyFailure records a rejected Bearer token
func (m *Metrics) CountVerifyFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.verifyFailures.Add(ctx, 1)
}

// CountDelegatedGrant records an on-behalf-of exchange attempt
func (m *Metrics) CountDelegatedGrant(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.delegatedGrants.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
