package config

// DefaultAddr is the default listen address for the HTTP server.
const DefaultAddr = "0.0.0.0:8080"

// DefaultApprovalTimeoutSecs bounds the wait for an operator decision.
const DefaultApprovalTimeoutSecs = 120

// DefaultRequestRate is the sustained per-address request rate.
const DefaultRequestRate = 20.0

// DefaultRequestBurst is the per-address burst allowance.
const DefaultRequestBurst = 40
